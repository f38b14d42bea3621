// Package aot bridges ahead-of-time compilation into the executable
// memory runtime: modules are compiled to objects, objects are cached on
// disk keyed by fingerprint, and installed symbols resolve by name.
package aot

import (
	"github.com/colorfulnotion/jitrt/jit"
)

// NamedBuilder pairs a symbol name with the builder emitting its body.
type NamedBuilder struct {
	Name  string
	Build jit.BuilderFunc
}

// Module is one compilation unit handed to an engine.
type Module struct {
	Name  string
	Funcs []NamedBuilder
}

// Engine compiles modules into objects and installs objects into
// executable memory. Engines are keyed by target and version; an object
// produced by one engine configuration is rejected by another.
type Engine interface {
	// Target names the instruction set the engine emits for.
	Target() string

	// Version tags the engine revision, invalidating stale objects.
	Version() string

	// Compile turns a module into an installable object.
	Compile(mod Module) (*Object, error)

	// Install places every symbol of the object into executable memory
	// and returns their entry addresses.
	Install(obj *Object) (map[string]uintptr, error)
}
