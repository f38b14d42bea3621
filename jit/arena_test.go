package jit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jitrt/jiterrors"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewRuntime(Config{
		ServiceCode: 64 << 10,
		ServiceData: 16 << 10,
		ChildCode:   16 << 10,
		ChildData:   16 << 10,
	})
	require.NoError(t, err, "runtime reservation must succeed")
	t.Cleanup(rt.Finalize)
	return rt
}

// TestAllocDistinct validates that two allocations from an empty 4096
// byte partition never overlap and respect the requested alignment.
func TestAllocDistinct(t *testing.T) {
	rt, err := NewRuntime(Config{ServiceCode: 4096, ServiceData: 4096, ChildCode: 4096, ChildData: 4096})
	require.NoError(t, err)
	t.Cleanup(rt.Finalize)

	a, err := rt.Alloc(ClassServiceCode, 64, 16, true)
	require.NoError(t, err)
	b, err := rt.Alloc(ClassServiceCode, 64, 16, true)
	require.NoError(t, err)

	assert.Zero(t, a.Addr%16, "first allocation must be 16-byte aligned")
	assert.Zero(t, b.Addr%16, "second allocation must be 16-byte aligned")
	assert.Equal(t, 16, a.Align, "handle must record the requested alignment")
	assert.True(t, b.Addr >= a.Addr+64, "second allocation must start past the first")

	// No overlap in either direction
	aEnd := a.Addr + uintptr(a.Size)
	bEnd := b.Addr + uintptr(b.Size)
	assert.True(t, aEnd <= b.Addr || bEnd <= a.Addr, "allocations overlap: [%#x,%#x) and [%#x,%#x)", a.Addr, aEnd, b.Addr, bEnd)

	// Both stay inside their partition
	st := rt.Stats()[ClassServiceCode]
	assert.Equal(t, 4096, st.Capacity)
	assert.True(t, a.Addr >= st.Base && aEnd <= st.Base+uintptr(st.Capacity))
	assert.True(t, b.Addr >= st.Base && bEnd <= st.Base+uintptr(st.Capacity))
}

// TestAllocExhaustion validates that running a partition dry yields
// OutOfSpace without disturbing the committed offset, and that smaller
// requests still succeed afterwards.
func TestAllocExhaustion(t *testing.T) {
	rt := newTestRuntime(t)
	class := ClassChildData
	capacity := rt.Stats()[class].Capacity

	_, err := rt.Alloc(class, capacity-64, 16, false)
	require.NoError(t, err, "near-full allocation must fit")

	used := rt.Stats()[class].Used
	spans := rt.Stats()[class].Spans

	_, err = rt.Alloc(class, 4096, 16, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrJOutOfSpace), "exhaustion must map to OutOfSpace, got %v", err)
	assert.Equal(t, "J1", jiterrors.GetErrorCode(jiterrors.ErrJOutOfSpace))

	// Failed request must not move the offset or log a span
	assert.Equal(t, used, rt.Stats()[class].Used, "failed allocation consumed memory")
	assert.Equal(t, spans, rt.Stats()[class].Spans, "failed allocation committed a span")

	_, err = rt.Alloc(class, 32, 16, false)
	assert.NoError(t, err, "small allocation must still fit after a failed large one")
}

// TestReleaseKeepsMemory validates the reclaim-at-finalize-only policy:
// released addresses are never handed out again.
func TestReleaseKeepsMemory(t *testing.T) {
	rt := newTestRuntime(t)

	a, err := rt.Alloc(ClassServiceCode, 128, 16, true)
	require.NoError(t, err)
	rt.Release(a.Addr)

	b, err := rt.Alloc(ClassServiceCode, 128, 16, true)
	require.NoError(t, err)
	assert.NotEqual(t, a.Addr, b.Addr, "released memory must not be reissued before finalize")
	assert.True(t, b.Addr >= a.Addr+uintptr(a.Size), "bump offset went backwards")
}

// TestPartitionIsolation validates that partitions hand out
// non-overlapping address ranges.
func TestPartitionIsolation(t *testing.T) {
	rt := newTestRuntime(t)

	code, err := rt.Alloc(ClassServiceCode, 256, 16, true)
	require.NoError(t, err)
	data, err := rt.Alloc(ClassServiceData, 256, 16, false)
	require.NoError(t, err)

	codeSt := rt.Stats()[ClassServiceCode]
	dataSt := rt.Stats()[ClassServiceData]
	assert.True(t, codeSt.Base+uintptr(codeSt.Capacity) <= dataSt.Base, "partitions must not interleave")
	assert.True(t, code.Addr < dataSt.Base)
	assert.True(t, data.Addr >= dataSt.Base)
	assert.True(t, code.Exec)
	assert.False(t, data.Exec)
}

// TestReachableWithinRelRange validates that any two allocations of one
// runtime stay within rel32 branch distance of each other.
func TestReachableWithinRelRange(t *testing.T) {
	rt := newTestRuntime(t)

	first, err := rt.Alloc(ClassServiceCode, 16, 16, true)
	require.NoError(t, err)
	last, err := rt.Alloc(ClassChildData, 16, 16, false)
	require.NoError(t, err)

	dist := int64(last.Addr) - int64(first.Addr)
	if dist < 0 {
		dist = -dist
	}
	assert.Less(t, dist, int64(RelRangeBound), "allocations drifted beyond relative addressing range")
}

// TestAllocProgrammingErrors validates that invalid requests panic
// instead of returning errors.
func TestAllocProgrammingErrors(t *testing.T) {
	rt := newTestRuntime(t)

	assert.Panics(t, func() { rt.Alloc(ClassServiceCode, 0, 16, true) }, "zero size")
	assert.Panics(t, func() { rt.Alloc(ClassServiceCode, -1, 16, true) }, "negative size")
	assert.Panics(t, func() { rt.Alloc(ClassServiceCode, 16, 3, true) }, "non power-of-two alignment")
	assert.Panics(t, func() { rt.Alloc(Class(99), 16, 16, true) }, "unknown class")
}

// TestFinalizeSemantics validates finalize-once and the
// use-after-finalize panics.
func TestFinalizeSemantics(t *testing.T) {
	rt, err := NewRuntime(Config{ServiceCode: 16 << 10, ServiceData: 4 << 10, ChildCode: 4 << 10, ChildData: 4 << 10})
	require.NoError(t, err)

	_, err = rt.Alloc(ClassServiceCode, 64, 16, true)
	require.NoError(t, err)

	rt.Finalize()
	assert.Panics(t, func() { rt.Finalize() }, "double finalize")
	assert.Panics(t, func() { rt.Alloc(ClassServiceCode, 64, 16, true) }, "alloc after finalize")
	assert.Panics(t, func() { rt.Release(0x1000) }, "release after finalize")
}

// TestConfigValidation validates the reservation-level failure modes.
func TestConfigValidation(t *testing.T) {
	_, err := NewRuntime(Config{})
	assert.Error(t, err, "empty configuration")

	_, err = NewRuntime(Config{ServiceCode: -1})
	assert.Error(t, err, "negative capacity")

	_, err = NewRuntime(Config{ServiceCode: RelRangeBound, ServiceData: pageSize})
	assert.Error(t, err, "reservation beyond relative range")
}

func TestStatsTree(t *testing.T) {
	rt := newTestRuntime(t)
	out := rt.StatsTree()
	assert.Contains(t, out, "service-code")
	assert.Contains(t, out, "child-data")
}
