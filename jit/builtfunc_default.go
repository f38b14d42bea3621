//go:build !darwin

package jit

import (
	"fmt"

	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/log"
)

// installInline writes the encoded body into the caller's block and
// flips its pages executable. The block owner controls the lifetime; the
// runtime only records the symbol.
func (rt *Runtime) installInline(block []byte, name string, code []byte) (*Function, error) {
	copy(block, code)
	if err := protectExec(block); err != nil {
		return nil, fmt.Errorf("%w: %s: protect local buffer: %v", jiterrors.ErrJEncoding, name, err)
	}

	fn := &Function{name: name, addr: memBase(block), size: len(code), code: block[:len(code)]}
	rt.announce(Record{Addr: fn.addr, Size: fn.size, Name: name})
	log.Debug(log.BuildMonitoring, "inline function installed", "name", name,
		"addr", fmt.Sprintf("%#x", fn.addr), "size", fn.size)
	return fn, nil
}
