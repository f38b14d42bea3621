//go:build linux

package jit

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reserveMemory maps one anonymous RWX region. MAP_NORESERVE keeps large
// reservations cheap: pages are committed only as the bump offset
// reaches them.
func reserveMemory(size int) ([]byte, error) {
	return syscall.Mmap(
		-1, 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE|syscall.PROT_EXEC,
		syscall.MAP_ANON|syscall.MAP_PRIVATE|syscall.MAP_NORESERVE,
	)
}

func releaseMemory(mem []byte) error {
	if mem == nil {
		return nil
	}
	return syscall.Munmap(mem)
}

// protectExec re-protects a caller-owned page run to RWX so inline
// buffers become executable in place.
func protectExec(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
}

// execSupported reports whether reserved memory can be executed.
const execSupported = true
