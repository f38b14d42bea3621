//go:build darwin

package jit

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func reserveMemory(size int) ([]byte, error) {
	return syscall.Mmap(
		-1, 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE|syscall.PROT_EXEC,
		syscall.MAP_ANON|syscall.MAP_PRIVATE,
	)
}

func releaseMemory(mem []byte) error {
	if mem == nil {
		return nil
	}
	return syscall.Munmap(mem)
}

// protectExec is unused on this platform: the hardened runtime rejects
// caller-owned executable pages, so inline builds go through the arena.
func protectExec(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
}

const execSupported = true
