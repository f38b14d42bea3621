//go:build unicorn

package jit

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/colorfulnotion/jitrt/x86"
)

const (
	sandboxCodeBase  = uint64(0x10000000)
	sandboxStackBase = uint64(0x20000000)
	sandboxStackSize = uint64(0x10000)
	sandboxStopAddr  = uint64(0x30000000)
)

func sandboxRegID(r x86.Reg) int {
	switch r.Index() {
	case 0:
		return uc.X86_REG_RAX
	case 1:
		return uc.X86_REG_RCX
	case 2:
		return uc.X86_REG_RDX
	case 3:
		return uc.X86_REG_RBX
	case 4:
		return uc.X86_REG_RSP
	case 5:
		return uc.X86_REG_RBP
	case 6:
		return uc.X86_REG_RSI
	case 7:
		return uc.X86_REG_RDI
	case 8:
		return uc.X86_REG_R8
	case 9:
		return uc.X86_REG_R9
	case 10:
		return uc.X86_REG_R10
	case 11:
		return uc.X86_REG_R11
	case 12:
		return uc.X86_REG_R12
	case 13:
		return uc.X86_REG_R13
	case 14:
		return uc.X86_REG_R14
	}
	return uc.X86_REG_R15
}

// SandboxCall runs generated code inside a Unicorn guest with the given
// argument registers loaded, and returns the guest RAX. The guest gets
// its own code page, a small stack, and a stop page the final ret lands
// on; nothing from the host process is reachable.
func SandboxCall(code []byte, args [4]x86.Reg, vals ...uint64) (uint64, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("sandbox call with empty code")
	}
	if len(vals) > len(args) {
		return 0, fmt.Errorf("sandbox call with %d values for %d argument registers", len(vals), len(args))
	}

	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
	if err != nil {
		return 0, fmt.Errorf("create unicorn: %w", err)
	}
	defer mu.Close()

	page := uint64(pageSize)
	codeLenAligned := (uint64(len(code)) + page - 1) &^ (page - 1)
	if err := mu.MemMap(sandboxCodeBase, codeLenAligned); err != nil {
		return 0, fmt.Errorf("map code: %w", err)
	}
	if err := mu.MemProtect(sandboxCodeBase, codeLenAligned, uc.PROT_ALL); err != nil {
		return 0, fmt.Errorf("protect code: %w", err)
	}
	if err := mu.MemWrite(sandboxCodeBase, code); err != nil {
		return 0, fmt.Errorf("write code: %w", err)
	}

	if err := mu.MemMap(sandboxStackBase, sandboxStackSize); err != nil {
		return 0, fmt.Errorf("map stack: %w", err)
	}
	if err := mu.MemMap(sandboxStopAddr, page); err != nil {
		return 0, fmt.Errorf("map stop page: %w", err)
	}

	// Seed the stack with the stop page as the return address so the
	// function's final ret ends the emulation.
	rsp := sandboxStackBase + sandboxStackSize - 64
	retAddr := make([]byte, 8)
	for i := 0; i < 8; i++ {
		retAddr[i] = byte(sandboxStopAddr >> (8 * i))
	}
	if err := mu.MemWrite(rsp, retAddr); err != nil {
		return 0, fmt.Errorf("write return address: %w", err)
	}
	if err := mu.RegWrite(uc.X86_REG_RSP, rsp); err != nil {
		return 0, fmt.Errorf("write rsp: %w", err)
	}

	for i, v := range vals {
		if err := mu.RegWrite(sandboxRegID(args[i]), v); err != nil {
			return 0, fmt.Errorf("write arg %d: %w", i, err)
		}
	}

	if err := mu.Start(sandboxCodeBase, sandboxStopAddr); err != nil {
		return 0, fmt.Errorf("emulate: %w", err)
	}

	rax, err := mu.RegRead(uc.X86_REG_RAX)
	if err != nil {
		return 0, fmt.Errorf("read rax: %w", err)
	}
	return rax, nil
}
