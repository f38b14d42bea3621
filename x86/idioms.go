package x86

// Code-gen idiom helpers composed by the translator's code generator.
// Each is a pure function of the assembler state for one call; none owns
// memory or retains state.

// BuildTransactionEnter emits the entry scaffolding for a hardware
// transaction and returns the abort landing pad label. The caller issues
// xbegin itself, after any pre-transaction checks, with the returned
// label as the abort target. On abort the CPU lands there with the
// status in EAX: a zero status may reflect an interrupt rather than a
// real conflict, so it is routed to the caller-chosen fallback label
// instead of being retried; emitFallback is invoked exactly once to emit
// the non-zero status recovery path and may fall through or jump away.
func BuildTransactionEnter(a *Assembler, fallback Label, emitFallback func()) Label {
	fall := a.NewLabel()
	begin := a.NewLabel()
	a.Jmp(begin)
	a.Bind(fall)

	// Zero status: ambiguous abort, don't repeat
	a.TestRegReg32(RAX, RAX)
	a.Jz(fallback)

	emitFallback()

	a.Align(16)
	a.Bind(begin)
	return fall
}

// BuildGetTSC emits a full 64-bit cycle counter read into an arbitrary
// destination register. RDTSC writes the halves into EDX:EAX, so the
// sibling native register is preserved across the read with one spill;
// for other destinations the old RAX value is stashed in the destination
// itself during the read. Every register except the destination holds
// its pre-call value afterwards.
func BuildGetTSC(a *Assembler, to Reg) {
	switch to {
	case RAX:
		a.PushReg(RDX)
		a.Rdtsc()
		a.ShlImm(RDX, 32)
		a.OrRegReg(RAX, RDX)
		a.PopReg(RDX)
	case RDX:
		a.PushReg(RAX)
		a.Rdtsc()
		a.ShlImm(RDX, 32)
		a.OrRegReg(RDX, RAX)
		a.PopReg(RAX)
	default:
		a.PushReg(RDX)
		a.XchgRegReg(RAX, to)
		a.Rdtsc()
		a.ShlImm(RDX, 32)
		a.OrRegReg(RAX, RDX)
		a.XchgRegReg(RAX, to)
		a.PopReg(RDX)
	}
}

// SwapRdxWith exchanges the argument register aliasing RDX with another
// register and rewrites the table entry, freeing RDX before a counter
// read clobbers it.
func SwapRdxWith(a *Assembler, args *[4]Reg, with Reg) {
	for i, r := range args {
		if r == RDX {
			a.XchgRegReg(args[i], with)
			args[i] = with
			return
		}
	}
}
