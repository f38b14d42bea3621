//go:build !linux || !amd64 || !cgo

package jit

import (
	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/log"
)

func Execute(fn *Function, args ...uint64) (uint64, int64, error) {
	log.Error(log.BuildMonitoring, "native execution is not supported on this platform", "name", fn.Name())
	return 0, 0, jiterrors.ErrJExecUnsupported
}
