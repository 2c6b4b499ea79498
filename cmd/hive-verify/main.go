// hive-verify runs the allreduce verification matrix against a backend.
//
// It sweeps every scenario of the matrix -- the generic fallback reduction, the
// single-device reductions and the gated 2-, 4- and 8-device optimized
// reductions -- checking each result against the expected sums, and prints a
// table of outcomes followed by the backend's memory report.
//
// Example:
//
//	hive-verify -backend "sim:devices=8,access=hives,hive=4"
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/hive/backends"
	_ "github.com/gomlx/hive/backends/simdev"
	"github.com/gomlx/hive/collective"
	"github.com/gomlx/hive/verify"
)

var (
	flagBackend = flag.String("backend", "", "Backend configuration as \"<name>:<options>\". "+
		"Defaults to $"+backends.HIVE_BACKEND+" if set, otherwise the simulated backend with all defaults.")
	flagStrategy = flag.String("strategy", "", "Run only the scenarios using this strategy, one of: "+
		strings.Join(collective.KindNames(), ", ")+". The default runs the full matrix.")
	flagList = flag.Bool("list", false, "List the scenarios of the matrix and exit without running them.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'hive-verify -help'.", flag.Args())
		os.Exit(1)
	}

	backend := newBackend()
	defer backend.Finalize()

	scenarios := verify.Scenarios(backend)
	if *flagStrategy != "" {
		kind := must.M1(collective.ParseKind(*flagStrategy))
		scenarios = filterByKind(scenarios, kind)
	}

	if *flagList {
		fmt.Printf("Backend %s: %d devices, %d scenarios:\n",
			backend, backend.NumDevices(), len(scenarios))
		for _, s := range scenarios {
			fmt.Printf("\t%s\t(%s)\n", s, s.Kind)
		}
		return
	}

	failures := sweep(backend, scenarios)
	if report, ok := backend.(interface{ MemoryReport() string }); ok {
		fmt.Println(titleStyle.Render("Memory"))
		fmt.Print(report.MemoryReport())
	}
	if failures > 0 {
		klog.Errorf("%d of %d scenarios failed.", failures, len(scenarios))
		os.Exit(1)
	}
}

// newBackend builds the backend from -backend, $HIVE_BACKEND or the registered
// defaults, in that order.
func newBackend() backends.Backend {
	if *flagBackend != "" {
		return backends.NewWithConfig(*flagBackend)
	}
	return backends.New()
}

func filterByKind(scenarios []verify.Scenario, kind collective.Kind) []verify.Scenario {
	filtered := scenarios[:0]
	for _, s := range scenarios {
		if s.Kind == kind {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// sweep runs the scenarios, rendering a progress bar while they run and a
// result table when done. It returns the number of hard failures.
func sweep(backend backends.Backend, scenarios []verify.Scenario) (failures int) {
	runner := &verify.Runner{
		Backend: backend,
		Logf:    klog.V(1).Infof,
	}
	bar := progressbar.NewOptions(len(scenarios),
		progressbar.OptionSetDescription("Verifying"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	table := newResultTable()
	for _, s := range scenarios {
		err := runner.RunScenario(s)
		var result string
		switch {
		case err == nil:
			result = "ok"
		case verify.IsSkip(err):
			result = fmt.Sprintf("skipped: %v", err)
		default:
			result = fmt.Sprintf("FAILED: %v", err)
			failures++
		}
		table.Row(s.Name, deviceList(s.Devices), s.Kind.String(), result)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Allreduce on %s", backend)))
	fmt.Println(table.Render())
	return
}

func deviceList(devices []backends.DeviceNum) string {
	parts := make([]string, len(devices))
	for i, d := range devices {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return strings.Join(parts, ",")
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newResultTable() *lgtable.Table {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			return
		})
	table.Row("Scenario", "Devices", "Strategy", "Result")
	return table
}
