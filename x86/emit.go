package x86

import "encoding/binary"

// Low level byte emitters. Each returns the encoded instruction so callers
// can compose sequences with append; the Assembler wraps these with label
// and error bookkeeping.

// rexPrefix computes the REX byte for a reg/rm pair. The bool reports
// whether a prefix byte is required at all (32-bit forms on the low eight
// registers encode without one).
func rexPrefix(w bool, reg, rm Reg) (byte, bool) {
	rex := byte(X86_REX_BASE)
	if w {
		rex |= X86_REX_W
	}
	if reg.REXBit != 0 {
		rex |= X86_REX_R
	}
	if rm.REXBit != 0 {
		rex |= X86_REX_B
	}
	return rex, rex != X86_REX_BASE
}

// regModRM builds a register-direct ModRM byte (mod=11).
func regModRM(reg, rm Reg) byte {
	return X86_MOD_REGISTER<<6 | reg.RegBits<<3 | rm.RegBits
}

// emitRegReg encodes op with two register-direct operands. For the
// "r/m, r" opcode forms the destination sits in the rm field.
func emitRegReg(op byte, w bool, reg, rm Reg) []byte {
	var code []byte
	if rex, need := rexPrefix(w, reg, rm); need {
		code = append(code, rex)
	}
	return append(code, op, regModRM(reg, rm))
}

// emitGroupOp encodes op with a fixed sub-operation in the reg field.
func emitGroupOp(op byte, w bool, subOp byte, rm Reg) []byte {
	var code []byte
	if rex, need := rexPrefix(w, Reg{}, rm); need {
		code = append(code, rex)
	}
	return append(code, op, X86_MOD_REGISTER<<6|subOp<<3|rm.RegBits)
}

func emitMovRegToReg64(dst, src Reg) []byte {
	return emitRegReg(X86_OP_MOV_RM_R, true, src, dst)
}

// emitMovRegToReg32 moves the low 32 bits, zero-extending into the
// destination's upper half.
func emitMovRegToReg32(dst, src Reg) []byte {
	return emitRegReg(X86_OP_MOV_RM_R, false, src, dst)
}

func emitMovImmToReg64(dst Reg, imm uint64) []byte {
	code := []byte{X86_REX_BASE | X86_REX_W}
	if dst.REXBit != 0 {
		code[0] |= X86_REX_B
	}
	code = append(code, X86_OP_MOV_R_IMM+dst.RegBits)
	return binary.LittleEndian.AppendUint64(code, imm)
}

// emitMovImmToReg32 uses the 32-bit immediate form, zero-extending.
func emitMovImmToReg32(dst Reg, imm uint32) []byte {
	var code []byte
	if rex, need := rexPrefix(false, Reg{}, dst); need {
		code = append(code, rex)
	}
	code = append(code, X86_OP_MOV_RM_IMM, X86_MOD_REGISTER<<6|dst.RegBits)
	return binary.LittleEndian.AppendUint32(code, imm)
}

func emitAluReg64(op byte, dst, src Reg) []byte {
	return emitRegReg(op, true, src, dst)
}

func emitAddReg64(dst, src Reg) []byte { return emitAluReg64(X86_OP_ADD_RM_R, dst, src) }
func emitSubReg64(dst, src Reg) []byte { return emitAluReg64(X86_OP_SUB_RM_R, dst, src) }
func emitOrReg64(dst, src Reg) []byte  { return emitAluReg64(X86_OP_OR_RM_R, dst, src) }
func emitAndReg64(dst, src Reg) []byte { return emitAluReg64(X86_OP_AND_RM_R, dst, src) }
func emitXorReg64(dst, src Reg) []byte { return emitAluReg64(X86_OP_XOR_RM_R, dst, src) }
func emitCmpReg64(dst, src Reg) []byte { return emitAluReg64(X86_OP_CMP_RM_R, dst, src) }

func emitXorReg32(dst, src Reg) []byte {
	return emitRegReg(X86_OP_XOR_RM_R, false, src, dst)
}

func emitTestReg32(a, b Reg) []byte {
	return emitRegReg(X86_OP_TEST_RM_R, false, b, a)
}

func emitTestReg64(a, b Reg) []byte {
	return emitRegReg(X86_OP_TEST_RM_R, true, b, a)
}

func emitXchgRegReg64(a, b Reg) []byte {
	return emitRegReg(X86_OP_XCHG_RM_R, true, b, a)
}

// emitShiftOp64 encodes a group 2 shift by immediate (subOp selects
// SHL/SHR/SAR/ROL/ROR).
func emitShiftOp64(subOp byte, dst Reg, n byte) []byte {
	code := emitGroupOp(X86_OP_GROUP2_RM_IMM8, true, subOp, dst)
	return append(code, n)
}

func emitPushReg(r Reg) []byte {
	if r.REXBit != 0 {
		return []byte{X86_REX_BASE | X86_REX_B, X86_OP_PUSH_R + r.RegBits}
	}
	return []byte{X86_OP_PUSH_R + r.RegBits}
}

func emitPopReg(r Reg) []byte {
	if r.REXBit != 0 {
		return []byte{X86_REX_BASE | X86_REX_B, X86_OP_POP_R + r.RegBits}
	}
	return []byte{X86_OP_POP_R + r.RegBits}
}

func emitCallReg(r Reg) []byte {
	return emitGroupOp(X86_OP_GROUP5_RM, false, X86_REG_CALL_RM, r)
}

func emitJmpReg(r Reg) []byte {
	return emitGroupOp(X86_OP_GROUP5_RM, false, X86_REG_JMP_RM, r)
}

func emitRdtsc() []byte {
	return []byte{X86_PREFIX_0F, X86_OP2_RDTSC}
}

func emitRet() []byte {
	return []byte{X86_OP_RET}
}

func emitNop() []byte {
	return []byte{X86_OP_NOP}
}

func emitUd2() []byte {
	return []byte{X86_PREFIX_0F, X86_OP2_UD2}
}

func emitXend() []byte {
	return []byte{X86_PREFIX_0F, X86_OP2_GROUP7, X86_MODRM_XEND}
}

func emitXtest() []byte {
	return []byte{X86_PREFIX_0F, X86_OP2_GROUP7, X86_MODRM_XTEST}
}

func emitXabort(status byte) []byte {
	return []byte{X86_OP_XABORT, X86_MODRM_XABORT, status}
}
