// Package x86 provides x86-64 instruction encoding for the code emission
// runtime: register definitions, an append-only assembler with labels and
// rel32 fixups, a disassembler, and the code-gen idiom helpers.
package x86

// Reg represents an x86-64 general purpose register with encoding information
type Reg struct {
	Name    string
	RegBits byte // 3-bit code for ModRM/SIB
	REXBit  byte // 1 if register index >= 8
}

// Standard x86-64 register definitions
var (
	RAX = Reg{"rax", 0, 0} // Return value register
	RCX = Reg{"rcx", 1, 0}
	RDX = Reg{"rdx", 2, 0} // Paired with rax for mul/div/rdtsc
	RBX = Reg{"rbx", 3, 0}
	RSP = Reg{"rsp", 4, 0} // Stack pointer, excluded from GPRegs
	RBP = Reg{"rbp", 5, 0}
	RSI = Reg{"rsi", 6, 0}
	RDI = Reg{"rdi", 7, 0}
	R8  = Reg{"r8", 0, 1}
	R9  = Reg{"r9", 1, 1}
	R10 = Reg{"r10", 2, 1}
	R11 = Reg{"r11", 3, 1}
	R12 = Reg{"r12", 4, 1}
	R13 = Reg{"r13", 5, 1}
	R14 = Reg{"r14", 6, 1}
	R15 = Reg{"r15", 7, 1}
)

// GPRegs contains the allocatable registers (no RSP: generated sequences
// keep the host stack intact apart from balanced push/pop pairs)
var GPRegs = []Reg{
	RAX, RCX, RDX, RBX, RBP, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15,
}

// Index returns the 4-bit hardware register number (0..15)
func (r Reg) Index() int {
	return int(r.REXBit)<<3 | int(r.RegBits)
}

func (r Reg) String() string {
	return r.Name
}

// Name32 returns the name of the 32-bit view of the register
func (r Reg) Name32() string {
	switch r.Name {
	case "rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi":
		return "e" + r.Name[1:]
	}
	return r.Name + "d"
}

// First four integer argument registers per platform ABI. Fixed by the
// target calling convention, selected once at runtime construction.
var (
	ArgRegsSysV  = [4]Reg{RDI, RSI, RDX, RCX}
	ArgRegsWin64 = [4]Reg{RCX, RDX, R8, R9}
)

// ArgRegsFor returns the argument register table for the given GOOS.
func ArgRegsFor(goos string) [4]Reg {
	if goos == "windows" {
		return ArgRegsWin64
	}
	return ArgRegsSysV
}
