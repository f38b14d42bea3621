package aot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jitrt/common"
	"github.com/colorfulnotion/jitrt/jiterrors"
)

func sampleObject() *Object {
	return &Object{
		Target: "amd64",
		Engine: engineVersion,
		Symbols: []Symbol{
			{Name: "alpha", Code: []byte{0x48, 0x89, 0xF8, 0xC3}},
			{Name: "beta", Code: []byte{0xC3}},
		},
	}
}

// TestObjectRoundTrip validates encode/decode symmetry and the
// fingerprint stamp.
func TestObjectRoundTrip(t *testing.T) {
	obj := sampleObject()
	data := obj.Encode()
	require.False(t, common.IsNilHash(obj.Fingerprint), "encode must stamp the fingerprint")

	got, err := DecodeObject(data)
	require.NoError(t, err)
	assert.Equal(t, obj.Target, got.Target)
	assert.Equal(t, obj.Engine, got.Engine)
	assert.Equal(t, obj.Fingerprint, got.Fingerprint)
	require.Len(t, got.Symbols, 2)
	assert.Equal(t, obj.Symbols[0], got.Symbols[0])
	assert.Equal(t, obj.Symbols[1], got.Symbols[1])
}

// TestObjectCorruption validates that damaged files are rejected before
// any install.
func TestObjectCorruption(t *testing.T) {
	data := sampleObject().Encode()

	// Bit rot in the payload trips the digest check
	flipped := append([]byte{}, data...)
	flipped[len(flipped)-1] ^= 0xFF
	_, err := DecodeObject(flipped)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrAObjectDigest), "got %v", err)

	// Truncation
	_, err = DecodeObject(data[:len(data)-3])
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrAObjectDigest) || errors.Is(err, jiterrors.ErrAObjectFormat))

	// Foreign magic
	bad := append([]byte{}, data...)
	copy(bad, "ELF\x7f")
	_, err = DecodeObject(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrAObjectFormat))

	// Unsupported version
	ver := append([]byte{}, data...)
	ver[4] = 0xFF
	_, err = DecodeObject(ver)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrAObjectFormat))

	// Empty input
	_, err = DecodeObject(nil)
	require.Error(t, err)
}

// TestObjectFileRoundTrip validates the file helpers and the static
// validity check.
func TestObjectFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache", "alpha.jro")

	obj := sampleObject()
	require.NoError(t, WriteObjectFile(path, obj), "nested dirs must be created")
	assert.True(t, CheckObjectFile(path))

	got, err := ReadObjectFile(path)
	require.NoError(t, err)
	assert.Equal(t, obj.Fingerprint, got.Fingerprint)

	assert.False(t, CheckObjectFile(filepath.Join(dir, "missing.jro")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.jro"), []byte("not an object"), 0o644))
	assert.False(t, CheckObjectFile(filepath.Join(dir, "junk.jro")))
}
