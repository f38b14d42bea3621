package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBlake2Hash validates digest length, determinism and sensitivity.
func TestBlake2Hash(t *testing.T) {
	h1 := Blake2Hash([]byte("jitrt"))
	h2 := Blake2Hash([]byte("jitrt"))
	h3 := Blake2Hash([]byte("jitrt!"))

	require.Equal(t, 32, len(h1.Bytes()), "digest must be 32 bytes")
	assert.Equal(t, h1, h2, "equal inputs must hash equal")
	assert.NotEqual(t, h1, h3, "different inputs must hash different")
	assert.False(t, IsNilHash(h1))
	assert.True(t, IsNilHash(Hash{}))
	assert.Equal(t, 66, len(h1.Hex()), "0x prefix plus 64 hex chars")
}

// TestByteHelpers validates the little-endian round trips used by the
// object codec.
func TestByteHelpers(t *testing.T) {
	assert.Equal(t, uint64(0x1122334455667788), BytesToUint64(Uint64ToBytes(0x1122334455667788)))
	assert.Equal(t, uint32(0xDEADBEEF), BytesToUint32(Uint32ToBytes(0xDEADBEEF)))
	assert.Equal(t, uint16(0xCAFE), BytesToUint16(Uint16ToBytes(0xCAFE)))

	assert.Panics(t, func() { BytesToUint64([]byte{1, 2, 3}) })
	assert.Panics(t, func() { BytesToUint32([]byte{1}) })
}
