package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/jitweb"
	"github.com/colorfulnotion/jitrt/telemetry"
	"github.com/colorfulnotion/jitrt/x86"
)

func serveCmd() *cobra.Command {
	var (
		addr              string
		journalPath       string
		perfMap           bool
		logSymbols        bool
		telemetryEndpoint string
		demo              bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live symbol feed server",
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()

			rt, err := jit.NewRuntime(jit.DefaultConfig())
			if err != nil {
				fmt.Printf("runtime: %v\n", err)
				os.Exit(1)
			}
			defer rt.Finalize()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if journalPath != "" {
				journal, err := jit.OpenJournal(journalPath)
				if err != nil {
					fmt.Printf("journal: %v\n", err)
					os.Exit(1)
				}
				defer journal.Close()
				rt.AddSink(journal)
				fmt.Printf("✓ Journal at %s\n", journalPath)
			}
			if perfMap {
				pm, err := jit.NewPerfMapSink()
				if err != nil {
					fmt.Printf("perf map: %v\n", err)
					os.Exit(1)
				}
				defer pm.Close()
				rt.AddSink(pm)
				fmt.Printf("✓ Perf map at %s\n", pm.Path())
			}
			if logSymbols {
				rt.AddSink(jit.LogSink{})
			}
			if telemetryEndpoint != "" {
				tp, err := telemetry.Init(ctx, telemetryEndpoint, "jitctl")
				if err != nil {
					fmt.Printf("Warning: Failed to initialize telemetry: %v\n", err)
				} else {
					rt.EnableTracing(tp.TracerProvider())
					defer tp.Shutdown(context.Background())
					fmt.Printf("✓ Telemetry enabled: %s\n", telemetryEndpoint)
				}
			}

			if demo {
				go runDemoBuilds(ctx, rt)
				fmt.Printf("✓ Demo build loop running\n")
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				fmt.Printf("\nShutting down symbol feed...\n")
				cancel()
			}()

			fmt.Printf("\n========================================\n")
			fmt.Printf("Symbol feed ready!\n")
			fmt.Printf("  Feed:    ws://localhost%s/ws\n", addr)
			fmt.Printf("  Symbols: http://localhost%s/symbols\n", addr)
			fmt.Printf("  Stats:   http://localhost%s/stats\n", addr)
			fmt.Printf("========================================\n\n")

			if err := jitweb.NewServer(rt).Run(ctx, addr); err != nil {
				fmt.Printf("%v\n", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8666", "Feed listen address")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Persist announcements to this leveldb directory")
	cmd.Flags().BoolVar(&perfMap, "perf-map", false, "Write the perf(1) symbol map for this process")
	cmd.Flags().BoolVar(&logSymbols, "log-symbols", false, "Log one line per installed function")
	cmd.Flags().StringVar(&telemetryEndpoint, "telemetry", "", "Telemetry server endpoint (e.g., localhost:4318)")
	cmd.Flags().BoolVar(&demo, "demo", false, "Install a synthetic function per second to feed subscribers")
	return cmd
}

// runDemoBuilds installs one small function per second so feed clients
// have live traffic to watch.
func runDemoBuilds(ctx context.Context, rt *jit.Runtime) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq := uint64(n)
		name := fmt.Sprintf("demo.fn%04d", n)
		_, err := rt.BuildFunction(name, func(a *x86.Assembler, args [4]x86.Reg) {
			a.MovRegReg(x86.RAX, args[0])
			a.MovImm64(x86.R11, seq)
			a.AddRegReg(x86.RAX, x86.R11)
			a.Ret()
		})
		if err != nil {
			fmt.Printf("demo build %s: %v\n", name, err)
			return
		}
	}
}
