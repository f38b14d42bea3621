package jit

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/xlab/treeprint"
	"go.opentelemetry.io/otel/trace"

	"github.com/colorfulnotion/jitrt/log"
	"github.com/colorfulnotion/jitrt/x86"
)

// Config fixes the per-partition capacities of one runtime. Capacities
// are rounded up to whole pages; their sum bounds the single reservation
// and must stay within RelRangeBound.
type Config struct {
	ServiceCode int
	ServiceData int
	ChildCode   int
	ChildData   int
}

// DefaultConfig sizes the process-wide runtime.
func DefaultConfig() Config {
	return Config{
		ServiceCode: 192 << 20,
		ServiceData: 64 << 20,
		ChildCode:   192 << 20,
		ChildData:   64 << 20,
	}
}

func (c Config) capacity(class Class) int {
	switch class {
	case ClassServiceCode:
		return c.ServiceCode
	case ClassServiceData:
		return c.ServiceData
	case ClassChildCode:
		return c.ChildCode
	case ClassChildData:
		return c.ChildData
	}
	return 0
}

func pageRound(n int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// Runtime owns the executable memory for generated code: one contiguous
// reservation carved into class partitions, the platform argument
// register table, and the symbol sinks builds announce to. Created once
// per process (see Global) or per test; destroyed only by Finalize.
type Runtime struct {
	cfg     Config
	reserve []byte
	arenas  [numClasses]*arena
	args    [4]x86.Reg

	mu       sync.RWMutex
	sinks    []SymbolSink
	registry *Registry

	sendTrace bool
	tp        trace.TracerProvider

	finalized bool
}

// NewRuntime reserves memory for all partitions and selects the calling
// convention for the build platform.
func NewRuntime(cfg Config) (*Runtime, error) {
	total := 0
	for class := Class(0); class < numClasses; class++ {
		cap := cfg.capacity(class)
		if cap < 0 {
			return nil, fmt.Errorf("negative capacity for partition %s", class)
		}
		total += pageRound(cap)
	}
	if total == 0 {
		return nil, fmt.Errorf("empty runtime configuration")
	}
	if total > RelRangeBound {
		return nil, fmt.Errorf("reservation %d exceeds relative-addressing range %d", total, RelRangeBound)
	}

	reserve, err := reserveMemory(total)
	if err != nil {
		return nil, fmt.Errorf("reserve %d bytes: %w", total, err)
	}

	rt := &Runtime{
		cfg:      cfg,
		reserve:  reserve,
		args:     x86.ArgRegsFor(runtime.GOOS),
		registry: NewRegistry(),
	}
	rt.sinks = []SymbolSink{rt.registry}

	off := 0
	for class := Class(0); class < numClasses; class++ {
		size := pageRound(cfg.capacity(class))
		rt.arenas[class] = newArena(class, reserve[off:off+size:off+size])
		off += size
	}

	log.Debug(log.ArenaMonitoring, "runtime initialized",
		"reservation", total, "base", fmt.Sprintf("%#x", memBase(reserve)), "exec", execSupported)
	return rt, nil
}

var (
	globalOnce sync.Once
	globalRT   *Runtime
)

// Global returns the process-wide runtime, creating it with the default
// configuration on first use. Tests build their own runtimes instead.
func Global() *Runtime {
	globalOnce.Do(func() {
		rt, err := NewRuntime(DefaultConfig())
		if err != nil {
			panic(fmt.Sprintf("jit: global runtime: %v", err))
		}
		globalRT = rt
	})
	return globalRT
}

// ArgRegs returns the first four integer argument registers of the
// platform calling convention, fixed at construction.
func (rt *Runtime) ArgRegs() [4]x86.Reg {
	return rt.args
}

// Alloc hands out memory from the class partition. Fails with OutOfSpace
// when the partition is exhausted; never reuses released memory.
func (rt *Runtime) Alloc(class Class, size, align int, exec bool) (Allocation, error) {
	return rt.arena(class).alloc(size, align, exec)
}

// Release is a true no-op: generated code may still be executing on
// another thread, so reclamation waits for Finalize.
func (rt *Runtime) Release(addr uintptr) {
	rt.mu.RLock()
	done := rt.finalized
	rt.mu.RUnlock()
	if done {
		panic("jit: release after finalize")
	}
	for _, ar := range rt.arenas {
		if st := ar.stats(); addr >= st.Base && addr < st.Base+uintptr(st.Capacity) {
			ar.release(addr)
			return
		}
	}
}

// Finalize invalidates every partition and returns the reservation to
// the system. At most once, at teardown; any later use of the runtime or
// of previously returned allocations is a programming error.
func (rt *Runtime) Finalize() {
	rt.mu.Lock()
	if rt.finalized {
		rt.mu.Unlock()
		panic("jit: double finalize of runtime")
	}
	rt.finalized = true
	rt.mu.Unlock()

	for _, ar := range rt.arenas {
		ar.finalize()
	}
	if err := releaseMemory(rt.reserve); err != nil {
		log.Warn(log.ArenaMonitoring, "reservation release failed", "err", err)
	}
	rt.reserve = nil
	log.Debug(log.ArenaMonitoring, "runtime finalized")
}

func (rt *Runtime) arena(class Class) *arena {
	if class < 0 || class >= numClasses {
		panic(fmt.Sprintf("jit: unknown partition class %d", int(class)))
	}
	return rt.arenas[class]
}

// AddSink registers an additional symbol sink for future builds.
func (rt *Runtime) AddSink(s SymbolSink) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.sinks = append(rt.sinks, s)
}

// EnableTracing turns on build spans against the given provider.
func (rt *Runtime) EnableTracing(tp trace.TracerProvider) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.tp = tp
	rt.sendTrace = tp != nil
}

func (rt *Runtime) tracerProvider() (trace.TracerProvider, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.tp, rt.sendTrace
}

// Registry returns the runtime's in-process record table.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// Stats snapshots the usage of every partition.
func (rt *Runtime) Stats() []ArenaStats {
	out := make([]ArenaStats, 0, numClasses)
	for _, ar := range rt.arenas {
		out = append(out, ar.stats())
	}
	return out
}

// StatsTree renders partition usage as a tree for console tooling.
func (rt *Runtime) StatsTree() string {
	tree := treeprint.New()
	tree.SetValue("jit runtime")
	for _, st := range rt.Stats() {
		branch := tree.AddBranch(st.Class.String())
		branch.AddNode(fmt.Sprintf("base %#x", st.Base))
		branch.AddNode(fmt.Sprintf("used %d / %d", st.Used, st.Capacity))
		branch.AddNode(fmt.Sprintf("functions %d", st.Spans))
	}
	return tree.String()
}

// memBase returns the starting address of a byte window.
func memBase(mem []byte) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&mem[0]))
}
