package aot

import (
	"fmt"
	"runtime"

	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/x86"
)

// engineVersion invalidates every cached object when the emitter
// changes in a way that affects generated code.
const engineVersion = "jitrt-1"

// NativeEngine drives the instruction encoder directly and installs
// into the runtime it was built around.
type NativeEngine struct {
	rt *jit.Runtime
}

func NewNativeEngine(rt *jit.Runtime) *NativeEngine {
	return &NativeEngine{rt: rt}
}

func (e *NativeEngine) Target() string { return runtime.GOARCH }

func (e *NativeEngine) Version() string { return engineVersion }

// Compile encodes every function of the module. Any encoder failure
// fails the whole module; a module compiles atomically or not at all.
func (e *NativeEngine) Compile(mod Module) (*Object, error) {
	obj := &Object{Target: e.Target(), Engine: e.Version()}
	for _, f := range mod.Funcs {
		asm := x86.NewAssembler()
		f.Build(asm, e.rt.ArgRegs())
		if err := asm.LastError(); err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", jiterrors.ErrJEncoding, mod.Name, f.Name, err)
		}
		code, err := asm.EncodedBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", jiterrors.ErrJEncoding, mod.Name, f.Name, err)
		}
		if len(code) == 0 {
			return nil, fmt.Errorf("%w: %s.%s: builder produced no code", jiterrors.ErrJEncoding, mod.Name, f.Name)
		}
		obj.Symbols = append(obj.Symbols, Symbol{Name: f.Name, Code: code})
	}
	return obj, nil
}

// Install rejects objects from other targets or engine revisions, then
// places each symbol into the runtime's code partition.
func (e *NativeEngine) Install(obj *Object) (map[string]uintptr, error) {
	if obj.Target != e.Target() || obj.Engine != e.Version() {
		return nil, fmt.Errorf("%w: object %s/%s, engine %s/%s",
			jiterrors.ErrAObjectTarget, obj.Target, obj.Engine, e.Target(), e.Version())
	}
	installed := make(map[string]uintptr, len(obj.Symbols))
	for _, sym := range obj.Symbols {
		fn, err := e.rt.Place(sym.Name, sym.Code)
		if err != nil {
			return nil, fmt.Errorf("install %s: %w", sym.Name, err)
		}
		installed[sym.Name] = fn.Addr()
	}
	return installed, nil
}
