package jit

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/log"
)

// Class selects the arena partition for one kind of generated content:
// main translation units vs. nested child-VM units, code vs. read-only
// data.
type Class int

const (
	ClassServiceCode Class = iota
	ClassServiceData
	ClassChildCode
	ClassChildData
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassServiceCode:
		return "service-code"
	case ClassServiceData:
		return "service-data"
	case ClassChildCode:
		return "child-code"
	case ClassChildData:
		return "child-data"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

const (
	// RelRangeBound is the span rel32 encodings can cover. The whole
	// reservation stays inside it so any two generated addresses remain
	// mutually reachable without 64-bit immediate loads.
	RelRangeBound = 2 << 30

	// CodeAlign is the entry alignment for generated functions.
	CodeAlign = 16

	pageSize = 4096
)

// Span is one committed sub-allocation in a partition's log.
type Span struct {
	Start uintptr
	Size  int
	Exec  bool
}

// Allocation is the handle for one arena request. The memory stays valid
// until the owning runtime finalizes; it is never reissued before then.
type Allocation struct {
	Addr  uintptr
	Size  int
	Align int
	Exec  bool
	mem   []byte
}

// Bytes exposes the allocation as a writable window for the copy step.
func (al Allocation) Bytes() []byte {
	return al.mem
}

// arena is one bounded contiguous partition. Base and capacity are fixed
// for its whole lifetime; the bump offset only grows; spans never
// overlap.
type arena struct {
	class Class
	base  uintptr
	mem   []byte

	mu        sync.Mutex
	off       int
	spans     []Span
	finalized bool
}

func newArena(class Class, mem []byte) *arena {
	return &arena{
		class: class,
		base:  memBase(mem),
		mem:   mem,
	}
}

// alloc hands out an aligned, non-overlapping window and advances the
// bump offset. Exhaustion is a deterministic error; the committed offset
// is untouched on failure. Invalid size or alignment is a caller bug.
func (ar *arena) alloc(size, align int, exec bool) (Allocation, error) {
	if size <= 0 {
		panic(fmt.Sprintf("jit: alloc of size %d from %s", size, ar.class))
	}
	if align <= 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("jit: alloc with alignment %d from %s", align, ar.class))
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.finalized {
		panic(fmt.Sprintf("jit: alloc from finalized partition %s", ar.class))
	}

	// Align the absolute address, not the offset
	addr := ar.base + uintptr(ar.off)
	aligned := (addr + uintptr(align) - 1) &^ (uintptr(align) - 1)
	start := ar.off + int(aligned-addr)
	if start+size > len(ar.mem) || start+size < 0 {
		return Allocation{}, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			jiterrors.ErrJOutOfSpace, ar.class, size, ar.off, len(ar.mem))
	}

	ar.off = start + size
	ar.spans = append(ar.spans, Span{Start: aligned, Size: size, Exec: exec})
	log.Trace(log.ArenaMonitoring, "arena alloc", "class", ar.class.String(),
		"addr", fmt.Sprintf("%#x", aligned), "size", size, "exec", exec)

	return Allocation{
		Addr:  aligned,
		Size:  size,
		Align: align,
		Exec:  exec,
		mem:   ar.mem[start : start+size : start+size],
	}, nil
}

// release performs no deallocation. A released block may still be the
// return target of an in-flight native call on another thread, so memory
// is reclaimed only at finalize.
func (ar *arena) release(uintptr) {}

// finalize invalidates the partition. At most once; the runtime unmaps
// the backing reservation afterwards.
func (ar *arena) finalize() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.finalized {
		panic(fmt.Sprintf("jit: double finalize of partition %s", ar.class))
	}
	ar.finalized = true
	ar.mem = nil
	ar.spans = nil
}

// ArenaStats is a point-in-time usage snapshot of one partition.
type ArenaStats struct {
	Class    Class
	Base     uintptr
	Capacity int
	Used     int
	Spans    int
}

func (ar *arena) stats() ArenaStats {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ArenaStats{
		Class:    ar.class,
		Base:     ar.base,
		Capacity: len(ar.mem),
		Used:     ar.off,
		Spans:    len(ar.spans),
	}
}

// spanCount reports how many sub-allocations have been committed.
func (ar *arena) spanCount() int {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return len(ar.spans)
}
