// jitshell - interactive JavaScript console over a local code emission
// runtime. Builders are JavaScript callbacks driving the assembler, so
// instruction sequences can be sketched, installed and run without
// recompiling anything.
//
// Usage: jitshell [-history /tmp/jitshell_history.txt]
//
//	> build("demo.add", function(a) { a.movreg("rax", arg(0)); a.addreg("rax", arg(1)); a.ret() })
//	> run("demo.add", 40, 2)
//	> disasm("demo.add")
package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dop251/goja"

	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/x86"
)

// regByName maps register spellings to their encodings for the script
// surface.
var regByName = func() map[string]x86.Reg {
	m := make(map[string]x86.Reg, len(x86.GPRegs))
	for _, r := range x86.GPRegs {
		m[r.Name] = r
	}
	return m
}()

// scriptAsm exposes one Assembler to a build callback. Register operands
// arrive as names ("rax", "r10"); label handles as opaque numbers. An
// unknown register name throws back into the script.
type scriptAsm struct {
	vm *goja.Runtime
	a  *x86.Assembler
}

func (s *scriptAsm) reg(name string) x86.Reg {
	r, ok := regByName[strings.ToLower(name)]
	if !ok {
		panic(s.vm.ToValue("unknown register: " + name))
	}
	return r
}

func newScriptAsm(vm *goja.Runtime, a *x86.Assembler) *goja.Object {
	s := &scriptAsm{vm: vm, a: a}
	obj := vm.NewObject()
	obj.Set("movreg", func(dst, src string) { s.a.MovRegReg(s.reg(dst), s.reg(src)) })
	obj.Set("movimm", func(dst string, imm uint64) { s.a.MovImm64(s.reg(dst), imm) })
	obj.Set("addreg", func(dst, src string) { s.a.AddRegReg(s.reg(dst), s.reg(src)) })
	obj.Set("subreg", func(dst, src string) { s.a.SubRegReg(s.reg(dst), s.reg(src)) })
	obj.Set("xorreg", func(dst, src string) { s.a.XorRegReg(s.reg(dst), s.reg(src)) })
	obj.Set("andreg", func(dst, src string) { s.a.AndRegReg(s.reg(dst), s.reg(src)) })
	obj.Set("orreg", func(dst, src string) { s.a.OrRegReg(s.reg(dst), s.reg(src)) })
	obj.Set("shl", func(dst string, n int) { s.a.ShlImm(s.reg(dst), byte(n)) })
	obj.Set("shr", func(dst string, n int) { s.a.ShrImm(s.reg(dst), byte(n)) })
	obj.Set("xchg", func(x, y string) { s.a.XchgRegReg(s.reg(x), s.reg(y)) })
	obj.Set("push", func(r string) { s.a.PushReg(s.reg(r)) })
	obj.Set("pop", func(r string) { s.a.PopReg(s.reg(r)) })
	obj.Set("test", func(x, y string) { s.a.TestRegReg(s.reg(x), s.reg(y)) })
	obj.Set("label", func() int { return int(s.a.NewLabel()) })
	obj.Set("bind", func(l int) { s.a.Bind(x86.Label(l)) })
	obj.Set("jmp", func(l int) { s.a.Jmp(x86.Label(l)) })
	obj.Set("jz", func(l int) { s.a.Jz(x86.Label(l)) })
	obj.Set("jnz", func(l int) { s.a.Jnz(x86.Label(l)) })
	obj.Set("tsc", func(dst string) { x86.BuildGetTSC(s.a, s.reg(dst)) })
	obj.Set("rdtsc", func() { s.a.Rdtsc() })
	obj.Set("align", func(n int) { s.a.Align(n) })
	obj.Set("offset", func() int { return s.a.Offset() })
	obj.Set("nop", func() { s.a.Nop() })
	obj.Set("ret", func() { s.a.Ret() })
	obj.Set("ud2", func() { s.a.Ud2() })
	return obj
}

func main() {
	historyFile := flag.String("history", "/tmp/jitshell_history.txt", "Readline history file")
	flag.Parse()

	rt, err := jit.NewRuntime(jit.DefaultConfig())
	if err != nil {
		fmt.Println("❌ Failed to create runtime:", err)
		return
	}
	defer rt.Finalize()
	argRegs := rt.ArgRegs()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: *historyFile,
	})
	if err != nil {
		fmt.Println("❌ Failed to start readline:", err)
		return
	}
	defer rl.Close()

	vm := goja.New()
	funcs := make(map[string]*jit.Function)

	// arg(i) names the i-th platform argument register
	vm.Set("arg", func(i int) goja.Value {
		if i < 0 || i >= len(argRegs) {
			panic(vm.ToValue("argument index out of range"))
		}
		return vm.ToValue(argRegs[i].Name)
	})

	// build(name, callback) runs the callback against a fresh assembler
	// and installs the encoded body
	vm.Set("build", func(name string, cb goja.Callable) goja.Value {
		fn, err := rt.BuildFunction(name, func(a *x86.Assembler, args [4]x86.Reg) {
			if _, cbErr := cb(goja.Undefined(), vm.ToValue(newScriptAsm(vm, a))); cbErr != nil {
				a.Fail(cbErr)
			}
		})
		if err != nil {
			return vm.ToValue("❌ Build Failed: " + err.Error())
		}
		funcs[name] = fn
		return vm.ToValue(map[string]interface{}{
			"name": fn.Name(),
			"addr": fmt.Sprintf("%#x", fn.Addr()),
			"size": fn.Size(),
		})
	})

	// run(name, args...) calls the installed function, natively when the
	// platform allows it, otherwise through the evaluator
	vm.Set("run", func(name string, callArgs ...uint64) goja.Value {
		fn, ok := funcs[name]
		if !ok {
			return vm.ToValue("❌ Unknown function: " + name)
		}
		ret, usec, err := jit.Execute(fn, callArgs...)
		if err == nil {
			return vm.ToValue(map[string]interface{}{"ret": ret, "usec": usec})
		}
		if !errors.Is(err, jiterrors.ErrJExecUnsupported) {
			return vm.ToValue("❌ Call Failed: " + err.Error())
		}
		m := x86.NewMachine()
		v, err := m.Call(fn.Code(), argRegs, callArgs...)
		if err != nil {
			return vm.ToValue("❌ Evaluation Failed: " + err.Error())
		}
		return vm.ToValue(map[string]interface{}{"ret": v, "evaluated": true})
	})

	vm.Set("disasm", func(name string) goja.Value {
		fn, ok := funcs[name]
		if !ok {
			return vm.ToValue("❌ Unknown function: " + name)
		}
		return vm.ToValue(x86.Disassemble(fn.Code()))
	})

	vm.Set("symbols", func() goja.Value {
		recs := rt.Registry().Records()
		out := make([]map[string]interface{}, 0, len(recs))
		for _, rec := range recs {
			out = append(out, map[string]interface{}{
				"name": rec.Name,
				"addr": fmt.Sprintf("%#x", rec.Addr),
				"size": rec.Size,
			})
		}
		return vm.ToValue(out)
	})

	vm.Set("stats", func() goja.Value {
		return vm.ToValue(rt.StatsTree())
	})

	vm.Set("print", func(args ...goja.Value) {
		for _, arg := range args {
			fmt.Println(arg.Export())
		}
	})

	fmt.Println("✅ JIT Console Started (Readline Mode)")
	fmt.Printf("Argument registers: %s %s %s %s\n",
		argRegs[0], argRegs[1], argRegs[2], argRegs[3])
	fmt.Println(`Build with JavaScript, e.g. build("f", function(a) { a.movimm("rax", 7); a.ret() })`)
	fmt.Println("Type 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			fmt.Println("🔴 Exiting JIT Console.")
			break
		}

		line = strings.TrimSpace(line)

		if line == "exit" {
			fmt.Println("🔴 Exiting JIT Console.")
			break
		}
		if line == "" {
			continue
		}

		value, err := vm.RunString(line)
		if err != nil {
			fmt.Println("❌ JavaScript Error:", err)
		} else {
			fmt.Println("✅", value)
		}
	}
}
