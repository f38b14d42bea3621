package x86

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const evalMaxSteps = 1 << 20

// Machine evaluates the instruction subset the assembler produces over a
// synthetic register file, so generated sequences can be verified
// instruction by instruction without mapping executable memory. The
// cycle counter is injected, keeping timestamp reads deterministic.
// Transactions are modeled as on a machine that always aborts entry with
// an ambiguous zero status.
type Machine struct {
	Regs  [16]uint64 // indexed by hardware register number
	ZF    bool
	TSC   func() uint64
	stack []uint64
}

func NewMachine() *Machine {
	return &Machine{}
}

// SetReg stores a 64-bit value in r.
func (m *Machine) SetReg(r Reg, v uint64) {
	m.Regs[r.Index()] = v
}

// GetReg loads the 64-bit value of r.
func (m *Machine) GetReg(r Reg) uint64 {
	return m.Regs[r.Index()]
}

// Call runs code from offset 0 with up to four integer arguments placed
// in the given ABI registers and returns RAX at the final RET.
func (m *Machine) Call(code []byte, args [4]Reg, vals ...uint64) (uint64, error) {
	for i, v := range vals {
		if i >= len(args) {
			break
		}
		m.SetReg(args[i], v)
	}
	if err := m.Run(code, 0); err != nil {
		return 0, err
	}
	return m.GetReg(RAX), nil
}

// evalRegIndex maps a decoded register operand to its hardware number
// and operand width.
func evalRegIndex(r x86asm.Reg) (idx int, width int, ok bool) {
	switch {
	case r >= x86asm.RAX && r <= x86asm.R15:
		return int(r - x86asm.RAX), 64, true
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return int(r - x86asm.EAX), 32, true
	}
	return 0, 0, false
}

func (m *Machine) readArg(arg x86asm.Arg) (uint64, error) {
	switch v := arg.(type) {
	case x86asm.Reg:
		idx, width, ok := evalRegIndex(v)
		if !ok {
			return 0, fmt.Errorf("unsupported register operand %v", v)
		}
		val := m.Regs[idx]
		if width == 32 {
			val &= 0xffffffff
		}
		return val, nil
	case x86asm.Imm:
		return uint64(v), nil
	}
	return 0, fmt.Errorf("unsupported operand %v", arg)
}

// writeReg stores into a register operand; 32-bit destinations
// zero-extend into the upper half, as on hardware.
func (m *Machine) writeReg(arg x86asm.Arg, val uint64) error {
	r, ok := arg.(x86asm.Reg)
	if !ok {
		return fmt.Errorf("store to non-register operand %v", arg)
	}
	idx, width, ok := evalRegIndex(r)
	if !ok {
		return fmt.Errorf("unsupported register destination %v", r)
	}
	if width == 32 {
		val &= 0xffffffff
	}
	m.Regs[idx] = val
	return nil
}

// Run executes code starting at entry until the outermost RET. Branches
// stay inside the buffer; leaving it (other than through the final RET)
// is an error.
func (m *Machine) Run(code []byte, entry int) error {
	pc := entry
	for steps := 0; ; steps++ {
		if steps >= evalMaxSteps {
			return fmt.Errorf("no halt after %d steps", evalMaxSteps)
		}
		if pc < 0 || pc >= len(code) {
			return fmt.Errorf("execution left the code buffer at 0x%x", pc)
		}
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			return fmt.Errorf("decode at 0x%x: %w", pc, err)
		}
		next := pc + inst.Len

		switch inst.Op {
		case x86asm.NOP:

		case x86asm.MOV:
			v, err := m.readArg(inst.Args[1])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			if err := m.writeReg(inst.Args[0], v); err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}

		case x86asm.XCHG:
			x, err := m.readArg(inst.Args[0])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			y, err := m.readArg(inst.Args[1])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			if err := m.writeReg(inst.Args[0], y); err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			if err := m.writeReg(inst.Args[1], x); err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}

		case x86asm.ADD, x86asm.OR, x86asm.AND, x86asm.SUB, x86asm.XOR:
			dst, err := m.readArg(inst.Args[0])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			src, err := m.readArg(inst.Args[1])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			var v uint64
			switch inst.Op {
			case x86asm.ADD:
				v = dst + src
			case x86asm.OR:
				v = dst | src
			case x86asm.AND:
				v = dst & src
			case x86asm.SUB:
				v = dst - src
			case x86asm.XOR:
				v = dst ^ src
			}
			if err := m.writeReg(inst.Args[0], v); err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			m.ZF = maskedZero(v, inst.Args[0])

		case x86asm.SHL, x86asm.SHR, x86asm.SAR:
			dst, err := m.readArg(inst.Args[0])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			n, err := m.readArg(inst.Args[1])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			n &= 63
			var v uint64
			switch inst.Op {
			case x86asm.SHL:
				v = dst << n
			case x86asm.SHR:
				v = dst >> n
			case x86asm.SAR:
				v = uint64(int64(dst) >> n)
			}
			if err := m.writeReg(inst.Args[0], v); err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}

		case x86asm.TEST:
			x, err := m.readArg(inst.Args[0])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			y, err := m.readArg(inst.Args[1])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			m.ZF = x&y == 0

		case x86asm.CMP:
			x, err := m.readArg(inst.Args[0])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			y, err := m.readArg(inst.Args[1])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			m.ZF = x == y

		case x86asm.PUSH:
			v, err := m.readArg(inst.Args[0])
			if err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}
			m.stack = append(m.stack, v)

		case x86asm.POP:
			if len(m.stack) == 0 {
				return fmt.Errorf("pop from empty stack at 0x%x", pc)
			}
			v := m.stack[len(m.stack)-1]
			m.stack = m.stack[:len(m.stack)-1]
			if err := m.writeReg(inst.Args[0], v); err != nil {
				return fmt.Errorf("at 0x%x: %w", pc, err)
			}

		case x86asm.RDTSC:
			var tsc uint64
			if m.TSC != nil {
				tsc = m.TSC()
			}
			m.Regs[RAX.Index()] = tsc & 0xffffffff
			m.Regs[RDX.Index()] = tsc >> 32

		case x86asm.JMP:
			rel, ok := inst.Args[0].(x86asm.Rel)
			if !ok {
				return fmt.Errorf("indirect jump at 0x%x not supported", pc)
			}
			next = pc + inst.Len + int(rel)

		case x86asm.JE:
			if m.ZF {
				next = pc + inst.Len + int(inst.Args[0].(x86asm.Rel))
			}

		case x86asm.JNE:
			if !m.ZF {
				next = pc + inst.Len + int(inst.Args[0].(x86asm.Rel))
			}

		case x86asm.XBEGIN:
			// Entry always aborts with the ambiguous zero status:
			// EAX = 0 and control moves to the abort target.
			m.Regs[RAX.Index()] = 0
			next = pc + inst.Len + int(inst.Args[0].(x86asm.Rel))

		case x86asm.XTEST:
			// Never inside a transaction here
			m.ZF = true

		case x86asm.XEND, x86asm.XABORT:

		case x86asm.RET:
			if len(m.stack) != 0 {
				return fmt.Errorf("ret with %d unbalanced pushes at 0x%x", len(m.stack), pc)
			}
			return nil

		case x86asm.UD2:
			return fmt.Errorf("ud2 trap at 0x%x", pc)

		default:
			return fmt.Errorf("unsupported op %v at 0x%x", inst.Op, pc)
		}

		pc = next
	}
}

// maskedZero reports whether a result is zero at its destination width.
func maskedZero(v uint64, dst x86asm.Arg) bool {
	if r, ok := dst.(x86asm.Reg); ok {
		if _, width, ok := evalRegIndex(r); ok && width == 32 {
			return v&0xffffffff == 0
		}
	}
	return v == 0
}
