//go:build linux && amd64 && cgo

package jit

/*
#cgo CFLAGS: -Wall
#include <stdint.h>

typedef uint64_t (*jitrt_fn4)(uint64_t, uint64_t, uint64_t, uint64_t);

static uint64_t jitrt_call4(uintptr_t addr, uint64_t a, uint64_t b, uint64_t c, uint64_t d) {
	jitrt_fn4 fn = (jitrt_fn4)addr;
	return fn(a, b, c, d);
}
*/
import "C"
import (
	"fmt"
	"runtime"
	"time"
)

// Execute calls an installed function natively with up to four integer
// arguments, returning its integer result and the wall time in
// microseconds. The OS thread is pinned for the duration so the
// generated code never migrates mid-call.
func Execute(fn *Function, args ...uint64) (ret uint64, usec int64, err error) {
	if len(args) > 4 {
		return 0, 0, fmt.Errorf("execute %s: %d arguments exceed the register convention", fn.Name(), len(args))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution of %s: %v", fn.Name(), r)
		}
	}()

	var a [4]uint64
	copy(a[:], args)

	start := time.Now()
	runtime.LockOSThread()
	r := C.jitrt_call4(C.uintptr_t(fn.Addr()),
		C.uint64_t(a[0]), C.uint64_t(a[1]), C.uint64_t(a[2]), C.uint64_t(a[3]))
	runtime.UnlockOSThread()
	usec = time.Since(start).Microseconds()
	return uint64(r), usec, err
}
