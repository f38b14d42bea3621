// jitctl - operator console for the code emission runtime
// Exercises the executable-memory arena, the emission session, the
// code-gen idioms and the AOT bridge from the command line, and serves
// the live symbol feed.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/jitrt/aot"
	"github.com/colorfulnotion/jitrt/common"
	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/jiterrors"
	"github.com/colorfulnotion/jitrt/log"
	"github.com/colorfulnotion/jitrt/x86"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var (
	logLevel string
	debug    string
)

func initLogging() {
	log.InitLogger(logLevel)
	log.EnableModules(debug)
}

func main() {
	var rootCmd = &cobra.Command{
		Use:     "jitctl",
		Short:   "Code emission runtime console",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "Debug modules to enable (e.g. arena_mod,build_mod)")

	rootCmd.AddCommand(selftestCmd())
	rootCmd.AddCommand(disasmCmd())
	rootCmd.AddCommand(objectCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func selftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Exercise the runtime end to end and report",
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()
			if err := runSelftest(); err != nil {
				fmt.Printf("selftest failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\nselftest passed\n")
		},
	}
}

func runSelftest() error {
	fmt.Printf("jitctl selftest (commit %s)\n", common.GetCommitHash())

	fmt.Printf("\n[1/5] Creating runtime...\n")
	rt, err := jit.NewRuntime(jit.DefaultConfig())
	if err != nil {
		return err
	}
	defer rt.Finalize()
	args := rt.ArgRegs()
	fmt.Printf("✓ Runtime up, argument registers %s %s %s %s\n",
		args[0], args[1], args[2], args[3])

	fmt.Printf("\n[2/5] Building identity function...\n")
	ident, err := rt.BuildFunction("selftest.ident", func(a *x86.Assembler, args [4]x86.Reg) {
		a.MovRegReg(x86.RAX, args[0])
		a.Ret()
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Installed at %#x (%d bytes)\n", ident.Addr(), ident.Size())
	fmt.Print(x86.Disassemble(ident.Code()))

	ret, usec, err := jit.Execute(ident, 42)
	switch {
	case err == nil:
		fmt.Printf("✓ Native call ident(42) = %d in %dµs\n", ret, usec)
		if ret != 42 {
			return fmt.Errorf("ident(42) returned %d", ret)
		}
	case errors.Is(err, jiterrors.ErrJExecUnsupported):
		m := x86.NewMachine()
		v, err := m.Call(ident.Code(), args, 42)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Evaluated ident(42) = %d (native execution unavailable here)\n", v)
		if v != 42 {
			return fmt.Errorf("ident(42) evaluated to %d", v)
		}
	default:
		return err
	}

	fmt.Printf("\n[3/5] Exercising the arena...\n")
	a1, err := rt.Alloc(jit.ClassChildData, 64, 16, false)
	if err != nil {
		return err
	}
	a2, err := rt.Alloc(jit.ClassChildData, 64, 16, false)
	if err != nil {
		return err
	}
	if a2.Addr < a1.Addr+64 {
		return fmt.Errorf("allocations overlap: %#x then %#x", a1.Addr, a2.Addr)
	}
	fmt.Printf("✓ Two 64B allocations at %#x and %#x\n", a1.Addr, a2.Addr)

	st := rt.Stats()[jit.ClassChildData]
	_, err = rt.Alloc(jit.ClassChildData, st.Capacity, 16, false)
	if !errors.Is(err, jiterrors.ErrJOutOfSpace) {
		return fmt.Errorf("oversized allocation should exhaust the partition, got %v", err)
	}
	fmt.Printf("✓ Oversized request rejected with %s\n", jiterrors.GetErrorCodeWithName(err))

	fmt.Printf("\n[4/5] Idiom library...\n")
	asm := x86.NewAssembler()
	x86.BuildGetTSC(asm, x86.R10)
	asm.Ret()
	tscCode, err := asm.EncodedBytes()
	if err != nil {
		return err
	}
	m := x86.NewMachine()
	m.TSC = func() uint64 { return 0x0123456789ABCDEF }
	if err := m.Run(tscCode, 0); err != nil {
		return err
	}
	if got := m.GetReg(x86.R10); got != 0x0123456789ABCDEF {
		return fmt.Errorf("tsc read into r10 produced %#x", got)
	}
	fmt.Printf("✓ Full timestamp read lands in r10\n")

	fmt.Printf("\n[5/5] AOT bridge round trip...\n")
	dir, err := os.MkdirTemp("", "jitctl-selftest")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	eng := aot.NewNativeEngine(rt)
	comp := aot.NewCompiler(eng)
	comp.AddModuleCached(aot.Module{
		Name: "selftest",
		Funcs: []aot.NamedBuilder{
			{Name: "selftest.one", Build: func(a *x86.Assembler, args [4]x86.Reg) {
				a.MovImm64(x86.RAX, 1)
				a.Ret()
			}},
			{Name: "selftest.two", Build: func(a *x86.Assembler, args [4]x86.Reg) {
				a.MovImm64(x86.RAX, 2)
				a.Ret()
			}},
		},
	}, dir+"/selftest.jro")
	if err := comp.Finalize(); err != nil {
		return err
	}
	one, err := comp.Resolve("selftest.one")
	if err != nil {
		return err
	}
	two, err := comp.Resolve("selftest.two")
	if err != nil {
		return err
	}
	if one == two || one == 0 || two == 0 {
		return fmt.Errorf("resolved addresses %#x and %#x are not distinct", one, two)
	}
	if !aot.CheckObjectFile(dir + "/selftest.jro") {
		return fmt.Errorf("freshly written object failed validation")
	}
	if _, err := comp.Resolve("selftest.missing"); !errors.Is(err, jiterrors.ErrANotFound) {
		return fmt.Errorf("unknown symbol should be NotFound, got %v", err)
	}
	fmt.Printf("✓ Two symbols resolved (%#x, %#x), cache object validated\n", one, two)

	fmt.Printf("\n%s", rt.StatsTree())
	fmt.Printf("functions announced: %d\n", rt.Registry().Len())
	return nil
}

func disasmCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "disasm [hex bytes]",
		Short: "Disassemble raw machine code from hex or a file",
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()
			var code []byte
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					fmt.Printf("read %s: %v\n", file, err)
					os.Exit(1)
				}
				code = data
			case len(args) > 0:
				clean := strings.NewReplacer(" ", "", "0x", "").Replace(strings.Join(args, ""))
				data, err := hex.DecodeString(clean)
				if err != nil {
					fmt.Printf("bad hex input: %v\n", err)
					os.Exit(1)
				}
				code = data
			default:
				fmt.Println("nothing to disassemble: pass hex bytes or --file")
				os.Exit(1)
			}
			fmt.Print(x86.Disassemble(code))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read machine code from a binary file")
	return cmd
}

func objectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Inspect compiled object files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info <path>",
		Short: "Print an object file's header and symbols",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()
			obj, err := aot.ReadObjectFile(args[0])
			if err != nil {
				fmt.Printf("%v\n", err)
				os.Exit(1)
			}
			fmt.Printf("target:      %s\n", obj.Target)
			fmt.Printf("engine:      %s\n", obj.Engine)
			fmt.Printf("fingerprint: %s\n", obj.Fingerprint.Hex())
			fmt.Printf("symbols:     %d\n", len(obj.Symbols))
			for _, sym := range obj.Symbols {
				fmt.Printf("  %-32s %6d bytes\n", sym.Name, len(sym.Code))
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate an object file (exit 1 when unusable)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()
			if aot.CheckObjectFile(args[0]) {
				fmt.Printf("%s: ok\n", args[0])
				return
			}
			fmt.Printf("%s: invalid\n", args[0])
			os.Exit(1)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disasm <path> <symbol>",
		Short: "Disassemble one symbol of an object file",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()
			obj, err := aot.ReadObjectFile(args[0])
			if err != nil {
				fmt.Printf("%v\n", err)
				os.Exit(1)
			}
			for _, sym := range obj.Symbols {
				if sym.Name == args[1] {
					fmt.Print(x86.Disassemble(sym.Code))
					return
				}
			}
			fmt.Printf("symbol %s not found in %s\n", args[1], args[0])
			os.Exit(1)
		},
	})

	return cmd
}

func cacheCmd() *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the compiled-object cache index",
	}
	cmd.PersistentFlags().StringVar(&index, "index", "", "Cache index directory (leveldb)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached object entries",
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()
			if index == "" {
				fmt.Println("--index is required")
				os.Exit(1)
			}
			cache, err := aot.OpenCache(index)
			if err != nil {
				fmt.Printf("%v\n", err)
				os.Exit(1)
			}
			defer cache.Close()
			entries, err := cache.List()
			if err != nil {
				fmt.Printf("%v\n", err)
				os.Exit(1)
			}
			if len(entries) == 0 {
				fmt.Println("cache index is empty")
				return
			}
			for _, e := range entries {
				fmt.Printf("%-24s %-10s %-10s %7dB hits=%-3d %s\n",
					e.Module, e.Target, e.Engine, e.Size, e.Hits, e.Path)
			}
		},
	})

	return cmd
}
