package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/trimorphdev/cherry/diag"
	"github.com/trimorphdev/cherry/engine"
	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/layout"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	lineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// styleFlagNames are the accepted spellings of the diagnostic style flag.
var styleFlagNames = []string{"diag-style", "d-style", "diagstyle", "display-style", "displaystyle"}

func main() {
	var (
		only        = flag.String("scenario", "all", "Scenarios to run, comma separated (A,B,C,D,E or all)")
		pages       = flag.Uint("pages", 256, "Linear memory limit in 64KiB pages")
		list        = flag.Bool("list", false, "List scenarios and exit")
		verbose     = flag.Bool("v", false, "Log heap and engine events")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		witFile     = flag.String("wit", "", "Print the layout of each named type in a WIT JSON file and exit")
		style       string
	)
	for _, name := range styleFlagNames {
		flag.StringVar(&style, name, "rich", "Diagnostic display style: rich, medium, short")
	}
	flag.Parse()

	if *list {
		for _, sc := range scenarios {
			fmt.Printf("%s  %-45s %s\n", sc.id, sc.title, helpStyle.Render(sc.expect))
		}
		return
	}

	if *witFile != "" {
		os.Exit(printWIT(*witFile))
	}

	displayStyle, err := diag.ParseStyle(style)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	selected, err := selectScenarios(*only)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = logger.Sync() }()
		heap.SetLogger(logger)
		engine.SetLogger(logger)
	}

	ctx := context.Background()
	reg, closeHeap, err := setupHeap(ctx, uint32(*pages))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeHeap()

	if *interactive {
		if err := runInteractive(reg, selected, displayStyle); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if failed := runAll(ctx, os.Stdout, reg, selected, displayStyle); failed > 0 {
		os.Exit(1)
	}
}

func printWIT(path string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()

	failed, err := witLayouts(os.Stdout, f, layout.NewResolver(nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// setupHeap creates the process-wide registry over a fresh linear memory
// and installs it.
func setupHeap(ctx context.Context, pages uint32) (*heap.Registry, func(), error) {
	cfg := &heap.Config{
		MemoryLimitPages: pages,
		OnFault: func(err *errors.Error) {
			fmt.Fprintln(os.Stderr, errorStyle.Render("fault: "+err.Error()))
			os.Exit(3)
		},
	}
	lin, err := heap.NewLinear(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	reg := heap.NewRegistry(lin, cfg)
	if err := heap.Install(reg); err != nil {
		_ = lin.Close(ctx)
		return nil, nil, err
	}
	return reg, func() { _ = lin.Close(ctx) }, nil
}

// runAll runs each scenario and prints its trace. It returns the number of
// scenarios that did not behave as expected.
func runAll(ctx context.Context, w io.Writer, reg *heap.Registry, list []*scenario, style diag.DisplayStyle) int {
	emitter := diag.NewEmitter(w, style)
	s := &session{reg: reg, sink: emitter, res: layout.NewResolver(nil)}

	failed := 0
	for i, sc := range list {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n", titleStyle.Render(sc.id), sc.title)
		out := s.run(ctx, sc)
		if out.errors > 0 || out.warnings > 0 {
			_ = emitter.Summary(out.errors, out.warnings)
		}
		printOutcome(w, sc, out)
		if !out.ok(sc) {
			failed++
		}
	}
	st := reg.Stats()
	fmt.Fprintln(w)
	fmt.Fprintln(w, helpStyle.Render(fmt.Sprintf(
		"heap: %d live region(s), %d bytes in use, peak %d, %d allocs, %d frees, %d reallocs",
		st.Live, st.InUse, st.Peak, st.Allocs, st.Frees, st.Reallocs)))
	return failed
}

func printOutcome(w io.Writer, sc *scenario, out outcome) {
	width := 0
	for _, t := range out.trace {
		width = max(width, len(t.text))
	}
	for _, t := range out.trace {
		fmt.Fprintf(w, "  %s %-*s  %s\n",
			lineStyle.Render(fmt.Sprintf("%3d |", t.line)), width, t.text, stateStyle.Render(t.state))
	}
	if len(out.freed) > 0 {
		fmt.Fprintf(w, "  freed: %s\n", strings.Join(out.freed, ", "))
	}
	if len(out.leaked) > 0 {
		var total uint32
		var regions []string
		for _, r := range out.leaked {
			total += r.Size
			regions = append(regions, r.String())
		}
		fmt.Fprintf(w, "  still live: %d region(s), %d bytes (%s)\n", len(out.leaked), total, strings.Join(regions, ", "))
	}
	if out.err != nil {
		fmt.Fprintln(w, "  "+errorStyle.Render("error: "+out.err.Error()))
	}

	verdict := okStyle.Render("as expected")
	if !out.ok(sc) {
		verdict = errorStyle.Render("UNEXPECTED")
	}
	fmt.Fprintf(w, "  expect: %s ... %s\n", sc.expect, verdict)
}
