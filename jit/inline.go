package jit

import (
	"fmt"

	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/x86"
)

// BuildInline emits a function into a caller-owned block instead of the
// arena, for small hot trampolines whose storage lives with their owner.
// The block must be page-aligned and cover whole pages; violating that
// is a caller bug. A body that does not fit the block is an encoding
// error and the block is left untouched. On platforms that forbid
// caller-owned executable pages the body is routed into the arena
// instead, so the returned address may differ from the block.
func (rt *Runtime) BuildInline(block []byte, name string, builder BuilderFunc) (*Function, error) {
	if len(block) == 0 || len(block)%pageSize != 0 {
		panic(fmt.Sprintf("jit: inline block of %d bytes is not whole pages", len(block)))
	}
	if memBase(block)%pageSize != 0 {
		panic(fmt.Sprintf("jit: inline block at %#x is not page aligned", memBase(block)))
	}

	asm := x86.NewAssembler()
	builder(asm, rt.args)
	if err := asm.LastError(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", jiterrors.ErrJEncoding, name, err)
	}
	code, err := asm.EncodedBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", jiterrors.ErrJEncoding, name, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s: builder produced no code", jiterrors.ErrJEncoding, name)
	}
	if len(code) > len(block) {
		return nil, fmt.Errorf("%w: %s: body of %d bytes exceeds %d byte local buffer",
			jiterrors.ErrJEncoding, name, len(code), len(block))
	}

	return rt.installInline(block, name, code)
}

// AlignedBuffer allocates a block suitable for BuildInline: page-aligned
// and rounded up to whole pages.
func AlignedBuffer(size int) []byte {
	if size <= 0 {
		panic(fmt.Sprintf("jit: aligned buffer of size %d", size))
	}
	size = pageRound(size)
	buf := make([]byte, size+pageSize)
	shift := int((pageSize - memBase(buf)%pageSize) % pageSize)
	return buf[shift : shift+size : shift+size]
}

// BuiltFunction bundles one inline-built routine with the block that
// backs it, so the code's lifetime follows the owner of this value
// rather than the runtime.
type BuiltFunction struct {
	fn    *Function
	block []byte
}

// NewBuiltFunction builds a routine into a freshly allocated block of
// at least capacity bytes. On platforms where the block cannot be made
// executable the routine lands in the arena and the block only pins
// the same call contract through the returned handle.
func (rt *Runtime) NewBuiltFunction(name string, capacity int, builder BuilderFunc) (*BuiltFunction, error) {
	block := AlignedBuffer(capacity)
	fn, err := rt.BuildInline(block, name, builder)
	if err != nil {
		return nil, err
	}
	return &BuiltFunction{fn: fn, block: block}, nil
}

// Func returns the built routine.
func (bf *BuiltFunction) Func() *Function {
	return bf.fn
}

// Addr returns the routine's entry address.
func (bf *BuiltFunction) Addr() uintptr {
	return bf.fn.Addr()
}

// Capacity returns the size of the backing block.
func (bf *BuiltFunction) Capacity() int {
	return len(bf.block)
}
