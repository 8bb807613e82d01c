package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/trimorphdev/cherry/check"
	"github.com/trimorphdev/cherry/diag"
	"github.com/trimorphdev/cherry/engine"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/ir"
	"github.com/trimorphdev/cherry/layout"
)

type traceLine struct {
	text  string
	state string
	line  int
}

type outcome struct {
	err      error
	trace    []traceLine
	freed    []string
	leaked   []heap.Region
	errors   int
	warnings int
}

// ok reports whether the scenario behaved as it expects to.
func (o outcome) ok(sc *scenario) bool {
	if sc.rejected {
		return o.errors > 0
	}
	return o.errors == 0 && o.err == nil
}

// session runs scenarios against one registry.
type session struct {
	reg  *heap.Registry
	sink diag.Sink
	res  *layout.Resolver
}

// prepare checks sc and returns a machine ready to run it. The table is
// returned even when the checker refused the program.
func (s *session) prepare(sc *scenario) (*engine.Machine, *check.Table, *source, error) {
	prog, src := sc.program()
	if e, ok := s.sink.(*diag.Emitter); ok {
		e.AddSource(sc.file, sc.text)
	}
	tab := check.Check(prog, s.res, s.sink)
	if !tab.OK() {
		return nil, tab, src, nil
	}
	m, err := engine.New(prog, tab, s.reg)
	return m, tab, src, err
}

func (s *session) run(ctx context.Context, sc *scenario) outcome {
	m, tab, src, err := s.prepare(sc)
	out := outcome{errors: tab.Errors, warnings: tab.Warnings, err: err}
	if m == nil || err != nil {
		return out
	}

	before := liveAddrs(s.reg)
	names := make(map[uint32]string)
	cancel := s.reg.Subscribe(heap.ObserverFunc(func(e heap.Event) {
		if e.Type == heap.EventDeallocated {
			out.freed = append(out.freed, regionName(names, e.Region))
		}
	}))
	defer cancel()

	bypassed := false
	for !m.Done() {
		if err := ctx.Err(); err != nil {
			out.err = err
			break
		}
		if sc.bypass != nil && !bypassed && m.Depth() == 1 {
			if _, more := m.Next(); !more {
				bypassed = true
				if err := sc.bypass(m); err != nil {
					out.err = err
					break
				}
			}
		}

		next, isStmt := m.Next()
		if err := m.Step(); err != nil {
			out.err = err
			break
		}
		remember(m, names)
		if isStmt {
			line := next.Position().Line
			out.trace = append(out.trace, traceLine{line: line, text: src.line(line), state: describe(m)})
		}
	}

	for _, r := range s.reg.Regions() {
		if !before[r.Addr] {
			out.leaked = append(out.leaked, r)
		}
	}
	return out
}

func liveAddrs(reg *heap.Registry) map[uint32]bool {
	out := make(map[uint32]bool)
	for _, r := range reg.Regions() {
		out[r.Addr] = true
	}
	return out
}

// remember labels live regions with the variables pointing at them. Inner
// scopes win over outer ones, and moved-from owners are ignored.
func remember(m *engine.Machine, names map[uint32]string) {
	for _, n := range slices.Backward(m.Names()) {
		if o, ok := m.Owning(n); ok {
			if o.Live() {
				names[o.Addr()] = n
			}
			continue
		}
		if p, ok := m.Pointer(n); ok && !p.IsNull() {
			names[p.Addr()] = n
		}
	}
}

func regionName(names map[uint32]string, r heap.Region) string {
	if n, ok := names[r.Addr]; ok {
		return n
	}
	return r.String()
}

// describe summarizes the pointers in scope, outermost first.
func describe(m *engine.Machine) string {
	var parts []string
	for _, n := range slices.Backward(m.Names()) {
		if o, ok := m.Owning(n); ok {
			if o.Live() {
				parts = append(parts, fmt.Sprintf("%s=%dB", n, o.Size()))
			} else {
				parts = append(parts, fmt.Sprintf("%s %s", n, o.State()))
			}
			continue
		}
		p, ok := m.Pointer(n)
		if !ok {
			continue
		}
		if m.Registry().Live(p.Region()) {
			parts = append(parts, fmt.Sprintf("%s=%dB", n, p.Size()))
		} else {
			parts = append(parts, n+" freed")
		}
	}
	return strings.Join(parts, "  ")
}

// stmtLabel is a short description of a statement for the stepper.
func stmtLabel(s ir.Stmt) string {
	switch s := s.(type) {
	case *ir.Let:
		return "let " + s.Name
	case *ir.Assign:
		return "store " + s.Place.String()
	case *ir.Realloc:
		return "realloc " + s.Ptr
	case *ir.Free:
		return "free " + s.Ptr
	case *ir.Drop:
		return "drop " + s.Ptr
	case *ir.Move:
		return "move " + s.Src + " -> " + s.Dst
	case *ir.Scope:
		return "enter scope"
	case *ir.If:
		return fmt.Sprintf("if %v", s.Cond)
	case *ir.Return:
		return "return"
	}
	return fmt.Sprintf("%T", s)
}
