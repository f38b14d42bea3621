package aot

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/colorfulnotion/jitrt/jiterrors"
)

// countingEngine wraps another engine and counts Compile calls, so
// tests can tell a cache hit from a recompile.
type countingEngine struct {
	Engine
	compiles atomic.Int64
}

func (e *countingEngine) Compile(mod Module) (*Object, error) {
	e.compiles.Add(1)
	return e.Engine.Compile(mod)
}

// TestCompilerTwoModules validates the bridge contract: two modules
// added and finalized resolve to distinct installed addresses, and an
// unknown name is NotFound.
func TestCompilerTwoModules(t *testing.T) {
	rt := newTestRuntime(t)
	c := NewCompiler(NewNativeEngine(rt))

	c.AddModule(constModule("alpha", "alpha_fn", 7))
	c.AddModule(constModule("beta", "beta_fn", 9))
	require.NoError(t, c.Finalize())

	alphaAddr, err := c.Resolve("alpha_fn")
	require.NoError(t, err)
	betaAddr, err := c.Resolve("beta_fn")
	require.NoError(t, err)
	assert.NotZero(t, alphaAddr)
	assert.NotZero(t, betaAddr)
	assert.NotEqual(t, alphaAddr, betaAddr, "modules must install at distinct addresses")

	_, err = c.Resolve("gamma_fn")
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrANotFound), "unknown symbol must be NotFound, got %v", err)
}

// TestResolveBeforeFinalize validates that early resolution is treated
// as a caller bug.
func TestResolveBeforeFinalize(t *testing.T) {
	rt := newTestRuntime(t)
	c := NewCompiler(NewNativeEngine(rt))
	c.AddModule(constModule("alpha", "alpha_fn", 7))

	assert.Panics(t, func() { c.Resolve("alpha_fn") })
}

// TestCompilerObjectCache validates the cached-module path: the first
// finalize compiles and writes the object, a later one loads it without
// recompiling, and the index records both events.
func TestCompilerObjectCache(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "mod.jro")
	index, err := OpenCache("")
	require.NoError(t, err)
	defer index.Close()

	// Cold: compile, write, index
	rt1 := newTestRuntime(t)
	eng1 := &countingEngine{Engine: NewNativeEngine(rt1)}
	c1 := NewCompiler(eng1, WithCache(index))
	c1.AddModuleCached(constModule("cached", "cached_fn", 11), cachePath)
	require.NoError(t, c1.Finalize())
	assert.Equal(t, int64(1), eng1.compiles.Load())
	require.True(t, CheckObjectFile(cachePath), "finalize must persist the object")

	entry, found, err := index.Lookup("cached")
	require.NoError(t, err)
	require.True(t, found, "store must be indexed")
	assert.Equal(t, cachePath, entry.Path)
	assert.Zero(t, entry.Hits)
	assert.NotEmpty(t, entry.Fingerprint)

	// Warm: load the object, skip the compiler
	rt2 := newTestRuntime(t)
	eng2 := &countingEngine{Engine: NewNativeEngine(rt2)}
	c2 := NewCompiler(eng2, WithCache(index))
	c2.AddModuleCached(constModule("cached", "cached_fn", 11), cachePath)
	require.NoError(t, c2.Finalize())
	assert.Zero(t, eng2.compiles.Load(), "valid cached object must not recompile")

	addr, err := c2.Resolve("cached_fn")
	require.NoError(t, err)
	assert.NotZero(t, addr)

	entry, found, err = index.Lookup("cached")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, entry.Hits, "reuse must be recorded")
}

// TestCompilerStaleObjectRecompiled validates that an object from
// another engine revision is rebuilt rather than installed.
func TestCompilerStaleObjectRecompiled(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "stale.jro")

	rt := newTestRuntime(t)
	eng := &countingEngine{Engine: NewNativeEngine(rt)}

	// A well-formed object from an older engine revision
	obj, err := eng.Engine.Compile(constModule("stale", "stale_fn", 3))
	require.NoError(t, err)
	obj.Engine = "jitrt-0"
	require.NoError(t, WriteObjectFile(cachePath, obj))

	c := NewCompiler(eng)
	c.AddModuleCached(constModule("stale", "stale_fn", 3), cachePath)
	require.NoError(t, c.Finalize())
	assert.Equal(t, int64(1), eng.compiles.Load(), "stale object must recompile")

	fresh, err := ReadObjectFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, eng.Engine.Version(), fresh.Engine, "recompile must overwrite the stale object")
}

// TestCompilerAddObject validates direct installation of precompiled
// object files.
func TestCompilerAddObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct.jro")

	rt := newTestRuntime(t)
	eng := NewNativeEngine(rt)
	obj, err := eng.Compile(constModule("direct", "direct_fn", 5))
	require.NoError(t, err)
	require.NoError(t, WriteObjectFile(path, obj))

	c := NewCompiler(eng)
	c.AddObject(path)
	require.NoError(t, c.Finalize())

	addr, err := c.Resolve("direct_fn")
	require.NoError(t, err)
	assert.NotZero(t, addr)
}

// TestCompilerMissingObject validates that a missing object file fails
// finalize and stays queued.
func TestCompilerMissingObject(t *testing.T) {
	rt := newTestRuntime(t)
	c := NewCompiler(NewNativeEngine(rt))
	c.AddObject(filepath.Join(t.TempDir(), "absent.jro"))

	require.Error(t, c.Finalize())
	require.Error(t, c.Finalize(), "failed unit must stay queued")
}

// TestCompilerDuplicateSymbol validates that a name collision across
// modules is rejected.
func TestCompilerDuplicateSymbol(t *testing.T) {
	rt := newTestRuntime(t)
	c := NewCompiler(NewNativeEngine(rt))

	c.AddModule(constModule("one", "same_fn", 1))
	c.AddModule(constModule("two", "same_fn", 2))
	require.Error(t, c.Finalize())
}

// TestCompilerLinkTable validates externally provided symbols.
func TestCompilerLinkTable(t *testing.T) {
	rt := newTestRuntime(t)
	c := NewCompiler(NewNativeEngine(rt), WithSymbols(map[string]uintptr{
		"host_callback": 0xCAFE0000,
	}))
	require.NoError(t, c.Finalize())

	addr, err := c.Resolve("host_callback")
	require.NoError(t, err)
	assert.Equal(t, uintptr(0xCAFE0000), addr)

	syms := c.Symbols()
	assert.Equal(t, uintptr(0xCAFE0000), syms["host_callback"])
	syms["host_callback"] = 1
	again, _ := c.Resolve("host_callback")
	assert.Equal(t, uintptr(0xCAFE0000), again, "Symbols must return a copy")
}

// TestCompilerIncrementalBatches validates queueing more work after a
// successful finalize.
func TestCompilerIncrementalBatches(t *testing.T) {
	rt := newTestRuntime(t)
	c := NewCompiler(NewNativeEngine(rt))

	c.AddModule(constModule("first", "first_fn", 1))
	require.NoError(t, c.Finalize())

	c.AddModule(constModule("second", "second_fn", 2))
	require.NoError(t, c.Finalize())

	_, err := c.Resolve("first_fn")
	assert.NoError(t, err)
	_, err = c.Resolve("second_fn")
	assert.NoError(t, err)
}

// TestCompilerNoEngine validates a bridge constructed without a
// compilation engine: queued work fails with NoEngine, while preloaded
// link-table symbols still resolve.
func TestCompilerNoEngine(t *testing.T) {
	c := NewCompiler(nil, WithSymbols(map[string]uintptr{"host_fn": 0x1000}))

	c.AddModule(constModule("orphan", "orphan_fn", 1))
	err := c.Finalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, jiterrors.ErrANoEngine), "got %v", err)

	addr, err := c.Resolve("host_fn")
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x1000), addr)
}

// TestCompilerFinalizeSpan validates that a traced bridge opens one
// span per finalize batch.
func TestCompilerFinalizeSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	rt := newTestRuntime(t)
	c := NewCompiler(NewNativeEngine(rt), WithTracer(tp))
	c.AddModule(constModule("traced1", "traced1_fn", 1))
	c.AddModule(constModule("traced2", "traced2_fn", 2))
	require.NoError(t, c.Finalize())

	spans := sr.Ended()
	require.Len(t, spans, 1, "one span per finalize batch")
	assert.Equal(t, "finalize 2 units", spans[0].Name())
}
