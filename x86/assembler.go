package x86

import (
	"encoding/binary"
	"fmt"
)

// Label identifies a position in the code being emitted. Created with
// NewLabel, given a location with Bind, and referenced by the rel32
// branch emitters before or after binding.
type Label int

const unboundLabel = -1

// fixup records a rel32 field awaiting a label offset.
type fixup struct {
	pos   int // offset of the 4-byte displacement field
	label Label
}

// Assembler accumulates encoded x86-64 instructions. Errors are sticky:
// the first invalid emission is recorded and every later call becomes a
// no-op, so builders check LastError (or EncodedBytes) once at the end.
type Assembler struct {
	code   []byte
	labels []int
	fixups []fixup
	err    error
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// failf records the first error and freezes the assembler.
func (a *Assembler) failf(format string, args ...interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

// push appends raw encoded bytes, honoring the sticky error.
func (a *Assembler) push(code []byte) {
	if a.err != nil {
		return
	}
	a.code = append(a.code, code...)
}

// Offset returns the current emission position.
func (a *Assembler) Offset() int {
	return len(a.code)
}

// EncodedSize returns the number of bytes emitted so far.
func (a *Assembler) EncodedSize() int {
	return len(a.code)
}

// LastError returns the first recorded emission error, if any.
func (a *Assembler) LastError() error {
	return a.err
}

// Fail records an externally detected error, freezing the assembler the
// same way an invalid emission would.
func (a *Assembler) Fail(err error) {
	if err != nil && a.err == nil {
		a.err = err
	}
}

// NewLabel creates an unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, unboundLabel)
	return Label(len(a.labels) - 1)
}

// Bind fixes a label to the current offset. A label may be bound once.
func (a *Assembler) Bind(l Label) {
	if a.err != nil {
		return
	}
	if int(l) < 0 || int(l) >= len(a.labels) {
		a.failf("bind of unknown label %d", l)
		return
	}
	if a.labels[l] != unboundLabel {
		a.failf("label %d bound twice", l)
		return
	}
	a.labels[l] = len(a.code)
}

// LabelOffset reports where a label was bound.
func (a *Assembler) LabelOffset(l Label) (int, bool) {
	if int(l) < 0 || int(l) >= len(a.labels) || a.labels[l] == unboundLabel {
		return 0, false
	}
	return a.labels[l], true
}

// EncodedBytes resolves all rel32 fixups and returns the finished,
// position-independent code. Any unbound label referenced by a branch is
// an encoding error.
func (a *Assembler) EncodedBytes() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target == unboundLabel {
			return nil, fmt.Errorf("unresolved label %d at offset 0x%x", f.label, f.pos)
		}
		rel := int64(target) - int64(f.pos+4)
		if rel < -1<<31 || rel >= 1<<31 {
			return nil, fmt.Errorf("rel32 overflow to label %d: %d", f.label, rel)
		}
		binary.LittleEndian.PutUint32(a.code[f.pos:], uint32(int32(rel)))
	}
	return a.code, nil
}

// branch32 emits opcode bytes followed by a rel32 placeholder wired to l.
func (a *Assembler) branch32(opcode []byte, l Label) {
	if a.err != nil {
		return
	}
	if int(l) < 0 || int(l) >= len(a.labels) {
		a.failf("branch to unknown label %d", l)
		return
	}
	a.code = append(a.code, opcode...)
	a.fixups = append(a.fixups, fixup{pos: len(a.code), label: l})
	a.code = append(a.code, 0, 0, 0, 0)
}

// Jmp emits an unconditional rel32 jump to l.
func (a *Assembler) Jmp(l Label) {
	a.branch32([]byte{X86_OP_JMP_REL32}, l)
}

// Jcc emits a conditional rel32 jump; cc is one of the X86_OP2_Jxx codes.
func (a *Assembler) Jcc(cc byte, l Label) {
	if cc < X86_OP2_JO || cc > X86_OP2_JG {
		a.failf("invalid condition code 0x%02x", cc)
		return
	}
	a.branch32([]byte{X86_PREFIX_0F, cc}, l)
}

func (a *Assembler) Jz(l Label)  { a.Jcc(X86_OP2_JE, l) }
func (a *Assembler) Jnz(l Label) { a.Jcc(X86_OP2_JNE, l) }

// Xbegin emits the transaction-begin instruction with l as the abort
// handler target. On abort the CPU resumes at l with the status in EAX.
func (a *Assembler) Xbegin(l Label) {
	a.branch32([]byte{X86_OP_MOV_RM_IMM, X86_MODRM_XBEGIN}, l)
}

// Call emits a rel32 call to l.
func (a *Assembler) Call(l Label) {
	a.branch32([]byte{X86_OP_CALL_REL32}, l)
}

// Align pads with NOPs so the next instruction starts on an n-byte
// boundary. n must be a power of two.
func (a *Assembler) Align(n int) {
	if a.err != nil {
		return
	}
	if n <= 0 || n&(n-1) != 0 {
		a.failf("align to non power of two %d", n)
		return
	}
	for len(a.code)%n != 0 {
		a.code = append(a.code, X86_OP_NOP)
	}
}

// Raw appends pre-encoded bytes verbatim.
func (a *Assembler) Raw(code ...byte) {
	a.push(code)
}

func (a *Assembler) MovRegReg(dst, src Reg)   { a.push(emitMovRegToReg64(dst, src)) }
func (a *Assembler) MovRegReg32(dst, src Reg) { a.push(emitMovRegToReg32(dst, src)) }
func (a *Assembler) MovImm64(dst Reg, imm uint64) {
	a.push(emitMovImmToReg64(dst, imm))
}
func (a *Assembler) MovImm32(dst Reg, imm uint32) {
	a.push(emitMovImmToReg32(dst, imm))
}

func (a *Assembler) AddRegReg(dst, src Reg)   { a.push(emitAddReg64(dst, src)) }
func (a *Assembler) SubRegReg(dst, src Reg)   { a.push(emitSubReg64(dst, src)) }
func (a *Assembler) OrRegReg(dst, src Reg)    { a.push(emitOrReg64(dst, src)) }
func (a *Assembler) AndRegReg(dst, src Reg)   { a.push(emitAndReg64(dst, src)) }
func (a *Assembler) XorRegReg(dst, src Reg)   { a.push(emitXorReg64(dst, src)) }
func (a *Assembler) XorRegReg32(dst, src Reg) { a.push(emitXorReg32(dst, src)) }
func (a *Assembler) CmpRegReg(dst, src Reg)   { a.push(emitCmpReg64(dst, src)) }
func (a *Assembler) TestRegReg(x, y Reg)      { a.push(emitTestReg64(x, y)) }
func (a *Assembler) TestRegReg32(x, y Reg)    { a.push(emitTestReg32(x, y)) }
func (a *Assembler) XchgRegReg(x, y Reg)      { a.push(emitXchgRegReg64(x, y)) }

// ShlImm shifts dst left by n bits (64-bit operand).
func (a *Assembler) ShlImm(dst Reg, n byte) {
	if n > 63 {
		a.failf("shl by %d exceeds operand width", n)
		return
	}
	a.push(emitShiftOp64(X86_REG_SHL, dst, n))
}

// ShrImm shifts dst right logically by n bits.
func (a *Assembler) ShrImm(dst Reg, n byte) {
	if n > 63 {
		a.failf("shr by %d exceeds operand width", n)
		return
	}
	a.push(emitShiftOp64(X86_REG_SHR, dst, n))
}

// SarImm shifts dst right arithmetically by n bits.
func (a *Assembler) SarImm(dst Reg, n byte) {
	if n > 63 {
		a.failf("sar by %d exceeds operand width", n)
		return
	}
	a.push(emitShiftOp64(X86_REG_SAR, dst, n))
}

func (a *Assembler) PushReg(r Reg) { a.push(emitPushReg(r)) }
func (a *Assembler) PopReg(r Reg)  { a.push(emitPopReg(r)) }
func (a *Assembler) CallReg(r Reg) { a.push(emitCallReg(r)) }
func (a *Assembler) JmpReg(r Reg)  { a.push(emitJmpReg(r)) }

func (a *Assembler) Rdtsc() { a.push(emitRdtsc()) }
func (a *Assembler) Ret()   { a.push(emitRet()) }
func (a *Assembler) Nop()   { a.push(emitNop()) }
func (a *Assembler) Ud2()   { a.push(emitUd2()) }
func (a *Assembler) Xend()  { a.push(emitXend()) }
func (a *Assembler) Xtest() { a.push(emitXtest()) }
func (a *Assembler) Xabort(status byte) {
	a.push(emitXabort(status))
}
