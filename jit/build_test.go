package jit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/x86"
)

// TestBuildIdentity validates the whole emission path: build a function
// returning its first argument, then run it through the instruction
// evaluator and check the calling convention wiring.
func TestBuildIdentity(t *testing.T) {
	rt := newTestRuntime(t)

	fn, err := rt.BuildFunction("identity", func(a *x86.Assembler, args [4]x86.Reg) {
		a.MovRegReg(x86.RAX, args[0])
		a.Ret()
	})
	require.NoError(t, err, "identity build must succeed")
	require.NotNil(t, fn)
	assert.Equal(t, "identity", fn.Name())
	assert.Zero(t, fn.Addr()%CodeAlign, "entry must be aligned")

	m := x86.NewMachine()
	ret, err := m.Call(fn.Code(), rt.ArgRegs(), 42)
	require.NoError(t, err, "evaluation must succeed")
	assert.Equal(t, uint64(42), ret, "identity(42) must be 42")
}

// TestBuildArithmetic validates multi-argument register plumbing.
func TestBuildArithmetic(t *testing.T) {
	rt := newTestRuntime(t)

	fn, err := rt.BuildFunction("add2", func(a *x86.Assembler, args [4]x86.Reg) {
		a.MovRegReg(x86.RAX, args[0])
		a.AddRegReg(x86.RAX, args[1])
		a.Ret()
	})
	require.NoError(t, err)

	m := x86.NewMachine()
	ret, err := m.Call(fn.Code(), rt.ArgRegs(), 40, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), ret)
}

// TestBuildFailureConsumesNothing validates that a builder failure costs
// zero arena memory and announces nothing.
func TestBuildFailureConsumesNothing(t *testing.T) {
	rt := newTestRuntime(t)
	before := rt.Stats()
	records := rt.Registry().Len()

	// Sticky encoder error: shift widths above 63 are unencodable
	_, err := rt.BuildFunction("badshift", func(a *x86.Assembler, args [4]x86.Reg) {
		a.ShlImm(x86.RAX, 64)
		a.Ret()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrJEncoding), "encoder failure must map to EncodingError, got %v", err)

	// Unresolvable control flow: jump to a label that is never bound
	_, err = rt.BuildFunction("badlabel", func(a *x86.Assembler, args [4]x86.Reg) {
		a.Jmp(a.NewLabel())
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrJEncoding))

	// Empty body
	_, err = rt.BuildFunction("empty", func(a *x86.Assembler, args [4]x86.Reg) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrJEncoding))

	after := rt.Stats()
	for i := range before {
		assert.Equal(t, before[i].Used, after[i].Used, "failed builds consumed %s memory", after[i].Class)
		assert.Equal(t, before[i].Spans, after[i].Spans, "failed builds committed %s spans", after[i].Class)
	}
	assert.Equal(t, records, rt.Registry().Len(), "failed builds must not be announced")
}

// TestBuildMany validates repeated sessions with distinct installs.
func TestBuildMany(t *testing.T) {
	rt := newTestRuntime(t)

	var fns []*Function
	for i := 0; i < 8; i++ {
		v := uint64(1000 + i)
		fn, err := rt.BuildFunction(fmt.Sprintf("const_%d", i), func(a *x86.Assembler, args [4]x86.Reg) {
			a.MovImm64(x86.RAX, v)
			a.Ret()
		})
		require.NoError(t, err)
		fns = append(fns, fn)
	}

	m := x86.NewMachine()
	for i, fn := range fns {
		ret, err := m.Call(fn.Code(), rt.ArgRegs())
		require.NoError(t, err, "const_%d", i)
		assert.Equal(t, uint64(1000+i), ret)
	}
	assert.Equal(t, 8, rt.Stats()[ClassServiceCode].Spans)
}

// TestBuildAnnounces validates the registry contract for successful
// builds.
func TestBuildAnnounces(t *testing.T) {
	rt := newTestRuntime(t)

	fn, err := rt.BuildFunction("announced", func(a *x86.Assembler, args [4]x86.Reg) {
		a.Ret()
	})
	require.NoError(t, err)

	rec, ok := rt.Registry().Lookup("announced")
	require.True(t, ok, "build must announce to the registry")
	assert.Equal(t, fn.Addr(), rec.Addr)
	assert.Equal(t, fn.Size(), rec.Size)

	got, ok := rt.Registry().Resolve(fn.Addr())
	require.True(t, ok)
	assert.Equal(t, "announced", got.Name)
}

// TestPlace validates raw installs of pre-encoded bodies.
func TestPlace(t *testing.T) {
	rt := newTestRuntime(t)

	body := []byte{0x48, 0x89, 0xF8, 0xC3} // mov rax, rdi; ret
	fn, err := rt.Place("preencoded", body)
	require.NoError(t, err)
	assert.Equal(t, body, fn.Code())
	assert.Zero(t, fn.Addr()%CodeAlign)

	_, ok := rt.Registry().Lookup("preencoded")
	assert.True(t, ok)

	_, err = rt.Place("nothing", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrJEncoding))
}

// TestBuildClassTargets validates that builds land in the requested
// partition.
func TestBuildClassTargets(t *testing.T) {
	rt := newTestRuntime(t)

	fn, err := rt.BuildFunctionClass(ClassChildCode, "childfn", func(a *x86.Assembler, args [4]x86.Reg) {
		a.Ret()
	})
	require.NoError(t, err)

	st := rt.Stats()[ClassChildCode]
	assert.True(t, fn.Addr() >= st.Base && fn.Addr() < st.Base+uintptr(st.Capacity),
		"childfn at %#x outside child-code partition", fn.Addr())
	assert.Equal(t, 1, st.Spans)
	assert.Zero(t, rt.Stats()[ClassServiceCode].Spans)
}
