// Package x86 machine code constants for the emitted instruction set.
package x86

// ================================================================================================
// X86 Instruction Constants
// ================================================================================================

// REX Prefix Constants
const (
	X86_REX_BASE = 0x40 // Base value for REX prefix
	X86_REX_W    = 0x08 // REX.W - 64-bit operand size
	X86_REX_R    = 0x04 // REX.R - Extension of ModRM reg field
	X86_REX_X    = 0x02 // REX.X - Extension of SIB index field
	X86_REX_B    = 0x01 // REX.B - Extension of ModRM r/m, SIB base, or opcode reg field
)

// ModRM Mode Constants
const (
	X86_MOD_INDIRECT        = 0x00 // [reg] or [disp32]
	X86_MOD_INDIRECT_DISP8  = 0x01 // [reg + disp8]
	X86_MOD_INDIRECT_DISP32 = 0x02 // [reg + disp32]
	X86_MOD_REGISTER        = 0x03 // reg
)

// Primary Opcodes
const (
	X86_OP_ADD_RM_R        = 0x01 // ADD r/m, r
	X86_OP_OR_RM_R         = 0x09 // OR r/m, r
	X86_OP_AND_RM_R        = 0x21 // AND r/m, r
	X86_OP_SUB_RM_R        = 0x29 // SUB r/m, r
	X86_OP_XOR_RM_R        = 0x31 // XOR r/m, r
	X86_OP_CMP_RM_R        = 0x39 // CMP r/m, r
	X86_OP_PUSH_R          = 0x50 // PUSH r64 (+ reg)
	X86_OP_POP_R           = 0x58 // POP r64 (+ reg)
	X86_OP_GROUP1_RM_IMM32 = 0x81 // Group 1 operations with imm32
	X86_OP_GROUP1_RM_IMM8  = 0x83 // Group 1 operations with imm8
	X86_OP_TEST_RM_R       = 0x85 // TEST r/m, r
	X86_OP_XCHG_RM_R       = 0x87 // XCHG r/m, r
	X86_OP_MOV_RM_R        = 0x89 // MOV r/m, r
	X86_OP_MOV_R_RM        = 0x8B // MOV r, r/m
	X86_OP_LEA             = 0x8D // LEA r, m
	X86_OP_MOV_R_IMM       = 0xB8 // MOV r, imm64 (+ reg)
	X86_OP_GROUP2_RM_IMM8  = 0xC1 // Group 2 shift operations with imm8
	X86_OP_XABORT          = 0xC6 // XABORT imm8 (with 0xF8 ModRM)
	X86_OP_MOV_RM_IMM      = 0xC7 // MOV r/m, imm32; XBEGIN rel32 (with 0xF8 ModRM)
	X86_OP_RET             = 0xC3 // RET
	X86_OP_CALL_REL32      = 0xE8 // CALL rel32
	X86_OP_JMP_REL32       = 0xE9 // JMP rel32
	X86_OP_JMP_REL8        = 0xEB // JMP rel8
	X86_OP_GROUP5_RM       = 0xFF // Group 5 operations (INC, DEC, CALL, JMP, PUSH)
	X86_OP_NOP             = 0x90 // NOP
)

// ModRM bytes completing the RTM primary opcodes
const (
	X86_MODRM_XBEGIN = 0xF8 // XBEGIN = C7 F8 rel32
	X86_MODRM_XABORT = 0xF8 // XABORT = C6 F8 imm8
)

// Two-byte Opcodes (0x0F prefix)
const (
	X86_PREFIX_0F    = 0x0F // Two-byte opcode prefix
	X86_OP2_RDTSC    = 0x31 // RDTSC (EDX:EAX = cycle counter)
	X86_OP2_UD2      = 0x0B // UD2 (undefined instruction)
	X86_OP2_GROUP7   = 0x01 // Group 7 (XEND/XTEST live here)
	X86_MODRM_XEND   = 0xD5 // XEND  = 0F 01 D5
	X86_MODRM_XTEST  = 0xD6 // XTEST = 0F 01 D6
	X86_OP2_MOVZX_R8 = 0xB6 // MOVZX r, r/m8
)

// Conditional Jump Opcodes (0x0F prefix)
const (
	X86_OP2_JO  = 0x80 // JO rel32
	X86_OP2_JNO = 0x81 // JNO rel32
	X86_OP2_JB  = 0x82 // JB/JNAE/JC rel32
	X86_OP2_JAE = 0x83 // JAE/JNB/JNC rel32
	X86_OP2_JE  = 0x84 // JE/JZ rel32
	X86_OP2_JNE = 0x85 // JNE/JNZ rel32
	X86_OP2_JBE = 0x86 // JBE/JNA rel32
	X86_OP2_JA  = 0x87 // JA/JNBE rel32
	X86_OP2_JS  = 0x88 // JS rel32
	X86_OP2_JNS = 0x89 // JNS rel32
	X86_OP2_JP  = 0x8A // JP/JPE rel32
	X86_OP2_JNP = 0x8B // JNP/JPO rel32
	X86_OP2_JL  = 0x8C // JL/JNGE rel32
	X86_OP2_JGE = 0x8D // JGE/JNL rel32
	X86_OP2_JLE = 0x8E // JLE/JNG rel32
	X86_OP2_JG  = 0x8F // JG/JNLE rel32
)

// Group 1 reg field constants (for 0x81/0x83 opcodes)
const (
	X86_REG_ADD = 0 // ADD
	X86_REG_OR  = 1 // OR
	X86_REG_ADC = 2 // ADC
	X86_REG_SBB = 3 // SBB
	X86_REG_AND = 4 // AND
	X86_REG_SUB = 5 // SUB
	X86_REG_XOR = 6 // XOR
	X86_REG_CMP = 7 // CMP
)

// Group 2 shift reg field constants (for 0xC1 opcode)
const (
	X86_REG_ROL = 0 // ROL
	X86_REG_ROR = 1 // ROR
	X86_REG_SHL = 4 // SHL/SAL
	X86_REG_SHR = 5 // SHR
	X86_REG_SAR = 7 // SAR
)

// Group 5 reg field constants (for 0xFF opcode)
const (
	X86_REG_CALL_RM = 2 // CALL r/m
	X86_REG_JMP_RM  = 4 // JMP r/m
	X86_REG_PUSH_RM = 6 // PUSH r/m
)

// ModRM field masks
const (
	X86_MOD_REG_MASK = 0x07 // Mask for register bits (3 bits)
)
