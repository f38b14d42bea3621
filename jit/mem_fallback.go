//go:build !linux && !darwin

package jit

import "unsafe"

// reserveMemory falls back to page-aligned heap memory. Encoding,
// inspection, and simulation all work; native execution does not.
func reserveMemory(size int) ([]byte, error) {
	buf := make([]byte, size+pageSize)
	shift := int((pageSize - uintptr(unsafe.Pointer(&buf[0]))%pageSize) % pageSize)
	return buf[shift : shift+size : shift+size], nil
}

func releaseMemory([]byte) error {
	return nil
}

func protectExec([]byte) error {
	return nil
}

const execSupported = false
