package jit

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/log"
	"github.com/colorfulnotion/jitrt/x86"
)

// BuilderFunc emits one function body into the assembler. The argument
// table holds the first four integer parameter registers of the platform
// calling convention, in order.
type BuilderFunc func(a *x86.Assembler, args [4]x86.Reg)

// Function is a successfully installed piece of generated code. The
// bytes at Addr stay valid and immutable until the owning runtime
// finalizes.
type Function struct {
	name string
	addr uintptr
	size int
	code []byte
}

func (f *Function) Name() string  { return f.name }
func (f *Function) Addr() uintptr { return f.addr }
func (f *Function) Size() int     { return f.size }

// Code returns the installed machine code for disassembly or checks.
func (f *Function) Code() []byte {
	out := make([]byte, len(f.code))
	copy(out, f.code)
	return out
}

// BuildFunction runs the builder and installs the result in the main
// code partition under the given name.
func (rt *Runtime) BuildFunction(name string, builder BuilderFunc) (*Function, error) {
	return rt.BuildFunctionClass(ClassServiceCode, name, builder)
}

// BuildFunctionClass is one emission session: run the builder against a
// fresh assembler, encode, then claim arena space and install. A builder
// or encoding failure consumes no arena memory at all; only a fully
// encoded body is allocated, copied and announced.
func (rt *Runtime) BuildFunctionClass(class Class, name string, builder BuilderFunc) (*Function, error) {
	if tp, ok := rt.tracerProvider(); ok {
		tracer := tp.Tracer("JitTracer")
		_, span := tracer.Start(context.Background(), fmt.Sprintf("build %s", name))
		defer span.End()
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

	return rt.install(class, name, code)
}

// Place installs pre-encoded machine code under the given name. Used by
// the ahead-of-time path, whose bodies arrive already compiled.
func (rt *Runtime) Place(name string, code []byte) (*Function, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s: empty body", jiterrors.ErrJEncoding, name)
	}
	return rt.install(ClassServiceCode, name, code)
}

func (rt *Runtime) install(class Class, name string, code []byte) (*Function, error) {
	// Whole alignment units are claimed; the body occupies the prefix
	size := (len(code) + CodeAlign - 1) &^ (CodeAlign - 1)
	al, err := rt.Alloc(class, size, CodeAlign, true)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", name, err)
	}
	dst := al.Bytes()
	if len(dst) < len(code) {
		panic(fmt.Sprintf("jit: allocation window %d short of body %d", len(dst), len(code)))
	}
	copy(dst, code)

	fn := &Function{name: name, addr: al.Addr, size: len(code), code: dst[:len(code)]}
	rt.announce(Record{Addr: fn.addr, Size: fn.size, Name: name})
	log.Debug(log.BuildMonitoring, "function installed", "name", name,
		"addr", fmt.Sprintf("%#x", fn.addr), "size", fn.size, "class", class.String())
	return fn, nil
}
