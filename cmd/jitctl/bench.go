package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"github.com/colorfulnotion/jitrt/common"
	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/x86"
)

// randomBuilder emits an arithmetic chain of the given depth over the
// first argument register, the kind of body short translated leaves
// have.
func randomBuilder(rng *rand.Rand, depth int) (jit.BuilderFunc, uint64) {
	type step struct {
		op  int
		imm uint64
	}
	steps := make([]step, depth)
	for i := range steps {
		steps[i] = step{op: rng.Intn(3), imm: uint64(rng.Intn(1 << 16))}
	}

	// Model the chain so the result can be verified after the build
	expect := func(x uint64) uint64 {
		for _, s := range steps {
			switch s.op {
			case 0:
				x += s.imm
			case 1:
				x ^= s.imm
			default:
				x -= s.imm
			}
		}
		return x
	}

	builder := func(a *x86.Assembler, args [4]x86.Reg) {
		a.MovRegReg(x86.RAX, args[0])
		for _, s := range steps {
			a.MovImm64(x86.R11, s.imm)
			switch s.op {
			case 0:
				a.AddRegReg(x86.RAX, x86.R11)
			case 1:
				a.XorRegReg(x86.RAX, x86.R11)
			default:
				a.SubRegReg(x86.RAX, x86.R11)
			}
		}
		a.Ret()
	}
	return builder, expect(benchSeedArg)
}

const benchSeedArg = uint64(7)

func benchCmd() *cobra.Command {
	var (
		count int
		depth int
		seed  uint64
		chart string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Build synthetic functions and measure emission latency",
		Run: func(cmd *cobra.Command, args []string) {
			initLogging()
			if err := runBench(count, depth, seed, chart); err != nil {
				fmt.Printf("bench failed: %v\n", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 500, "Number of functions to build")
	cmd.Flags().IntVar(&depth, "depth", 32, "Arithmetic chain length per function")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Workload seed")
	cmd.Flags().StringVar(&chart, "chart", "", "Write an HTML latency/occupancy chart to this path")
	return cmd
}

func runBench(count, depth int, seed uint64, chartPath string) error {
	rt, err := jit.NewRuntime(jit.DefaultConfig())
	if err != nil {
		return err
	}
	defer rt.Finalize()

	rng := rand.New(rand.NewSource(seed))
	args := rt.ArgRegs()
	lat := make([]int64, 0, count)

	var minNs, maxNs, sumNs int64
	for i := 0; i < count; i++ {
		builder, want := randomBuilder(rng, depth)
		name := fmt.Sprintf("bench.fn%04d", i)

		start := time.Now()
		fn, err := rt.BuildFunction(name, builder)
		elapsed := time.Since(start).Nanoseconds()
		if err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}

		// Every tenth body is re-run through the evaluator to confirm
		// the installed bytes compute the modeled chain
		if i%10 == 0 {
			m := x86.NewMachine()
			got, err := m.Call(fn.Code(), args, benchSeedArg)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", name, err)
			}
			if got != want {
				return fmt.Errorf("%s computed %#x, want %#x", name, got, want)
			}
		}

		lat = append(lat, elapsed)
		sumNs += elapsed
		if i == 0 || elapsed < minNs {
			minNs = elapsed
		}
		if elapsed > maxNs {
			maxNs = elapsed
		}
	}

	st := rt.Stats()[jit.ClassServiceCode]
	fmt.Printf("built %d functions, depth %d\n", count, depth)
	fmt.Printf("%slatency  min/avg/max: %dns / %dns / %dns%s\n",
		common.ColorGray, minNs, sumNs/int64(count), maxNs, common.ColorReset)
	fmt.Printf("%scode partition: %d / %d bytes in %d functions%s\n",
		common.ColorGray, st.Used, st.Capacity, st.Spans, common.ColorReset)

	if chartPath != "" {
		if err := writeBenchChart(chartPath, lat, rt.Stats()); err != nil {
			return err
		}
		fmt.Printf("chart written to %s\n", chartPath)
	}
	return nil
}

// writeBenchChart renders per-build latency and partition occupancy as
// one HTML page.
func writeBenchChart(path string, lat []int64, stats []jit.ArenaStats) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Emission latency",
			Subtitle: "nanoseconds per BuildFunction",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	xs := make([]string, len(lat))
	items := make([]opts.LineData, len(lat))
	for i, ns := range lat {
		xs[i] = fmt.Sprintf("%d", i)
		items[i] = opts.LineData{Value: ns}
	}
	line.SetXAxis(xs).AddSeries("build ns", items)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Arena occupancy",
			Subtitle: "bytes used per partition",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	classes := make([]string, len(stats))
	used := make([]opts.BarData, len(stats))
	for i, st := range stats {
		classes[i] = st.Class.String()
		used[i] = opts.BarData{Value: st.Used}
	}
	bar.SetXAxis(classes).AddSeries("used", used)

	page := components.NewPage()
	page.AddCharts(line, bar)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart %s: %w", path, err)
	}
	defer f.Close()
	return page.Render(f)
}
