package main

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/trimorphdev/cherry/engine"
	"github.com/trimorphdev/cherry/ir"
	"github.com/trimorphdev/cherry/layout"
	"github.com/trimorphdev/cherry/ptr"
	"github.com/trimorphdev/cherry/types"
)

// scenario is a small program with the source text it was built from.
type scenario struct {
	// bypass runs just before the outermost scope closes. It may write
	// memory behind the checker's back.
	bypass func(m *engine.Machine) error
	build  func(s *source) *ir.Block

	id     string
	title  string
	file   string
	text   string
	expect string

	// rejected is true when the checker is expected to refuse the program.
	rejected bool
}

// source maps line numbers of a scenario's text to positions.
type source struct {
	file  string
	lines []string
}

func newSource(file, text string) *source {
	return &source{file: file, lines: strings.Split(text, "\n")}
}

// at returns the position of the first non-blank column of line, or of
// the first occurrence of token on it when given.
func (s *source) at(line int, token ...string) ir.Pos {
	col := 1
	if line >= 1 && line <= len(s.lines) {
		text := s.lines[line-1]
		idx := len(text) - len(strings.TrimLeft(text, " \t"))
		if len(token) > 0 {
			if i := strings.Index(text, token[0]); i >= 0 {
				idx = i
			}
		}
		col = idx + 1
	}
	return ir.Pos{File: s.file, Line: line, Col: col}
}

// line returns the text of a 1-based line.
func (s *source) line(n int) string {
	if n < 1 || n > len(s.lines) {
		return ""
	}
	return s.lines[n-1]
}

func (sc *scenario) program() (*ir.Program, *source) {
	src := newSource(sc.file, sc.text)
	return &ir.Program{Body: sc.build(src), File: sc.file}, src
}

func u64s(vs ...uint64) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	return b
}

var scenarios = []*scenario{
	{
		id:     "A",
		title:  "reallocating a typed pointer",
		file:   "realloc.ch",
		expect: "size 8 after alloc, 16 after realloc, first element preserved",
		text: `let p: raw<u64> = alloc<u64>();
p[0] = 7u64;
realloc(p, 2);
let v = p[0];
free(p);`,
		build: func(s *source) *ir.Block {
			seven := ir.U64(7)
			seven.Pos = s.at(2, "7u64")
			return &ir.Block{Stmts: []ir.Stmt{
				&ir.Let{Name: "p", Type: types.Raw{Elem: types.U64}, Value: &ir.Alloc{Elem: types.U64, Pos: s.at(1, "alloc")}, Pos: s.at(1)},
				&ir.Assign{Place: ir.Place{Ptr: "p"}, Value: seven, Pos: s.at(2)},
				&ir.Realloc{Ptr: "p", Count: ir.U32(2), Pos: s.at(3)},
				&ir.Let{Name: "v", Value: &ir.Load{Place: ir.Place{Ptr: "p"}, Pos: s.at(4, "p[0]")}, Pos: s.at(4)},
				&ir.Free{Ptr: "p", Pos: s.at(5)},
			}}
		},
	},
	{
		id:     "B",
		title:  "allocating an array",
		file:   "array.ch",
		expect: "size 16, dropped at scope end",
		text: `let p: own<array<u64,2>> = alloc<array<u64,2>>();
p[0] = [1u64, 2u64];`,
		build: func(s *source) *ir.Block {
			arr := types.Array{Elem: types.U64, Len: 2}
			return &ir.Block{Stmts: []ir.Stmt{
				&ir.Let{Name: "p", Type: types.Own{Elem: arr}, Value: &ir.Alloc{Elem: arr, Pos: s.at(1, "alloc")}, Pos: s.at(1)},
				&ir.Assign{Place: ir.Place{Ptr: "p"}, Value: &ir.Lit{Type: arr, Bytes: u64s(1, 2), Pos: s.at(2, "[1u64")}, Pos: s.at(2)},
			}}
		},
	},
	{
		id:       "C",
		title:    "storing a container into a byte buffer",
		file:     "mistyped.ch",
		expect:   "rejected with a type mismatch",
		rejected: true,
		text: `let p: raw<u8> = alloc(size_of::<Vec<u64>>());
let v: Vec<u64> = Vec::new();
p[0] = v;
free(p);`,
		build: func(s *source) *ir.Block {
			vec := types.Vec(types.U64)
			return &ir.Block{Stmts: []ir.Stmt{
				&ir.Let{Name: "p", Type: types.Raw{Elem: types.Byte}, Value: &ir.Alloc{
					Bytes: true,
					Count: &ir.SizeOf{Type: vec, Pos: s.at(1, "size_of")},
					Pos:   s.at(1, "alloc"),
				}, Pos: s.at(1)},
				&ir.Let{Name: "v", Type: vec, Value: &ir.Lit{Type: vec, Pos: s.at(2, "Vec::")}, Pos: s.at(2)},
				&ir.Assign{Place: ir.Place{Ptr: "p"}, Value: &ir.Var{Name: "v", Pos: s.at(3, "v;")}, Pos: s.at(3)},
				&ir.Free{Ptr: "p", Pos: s.at(4)},
			}}
		},
	},
	{
		id:     "D",
		title:  "owning a container through a byte pointer",
		file:   "leak.ch",
		expect: "only the byte region is freed, the container's buffer leaks",
		text: `let p: own<u8> = alloc(size_of::<Vec<u64>>());
// unchecked: a Vec<u64> with a 4-element buffer is written through p`,
		build: func(s *source) *ir.Block {
			return &ir.Block{Stmts: []ir.Stmt{
				&ir.Let{Name: "p", Type: types.Own{Elem: types.Byte}, Value: &ir.Alloc{
					Bytes: true,
					Count: &ir.SizeOf{Type: types.Vec(types.U64), Pos: s.at(1, "size_of")},
					Pos:   s.at(1, "alloc"),
				}, Pos: s.at(1)},
			}}
		},
		bypass: writeVecHeader,
	},
	{
		id:     "E",
		title:  "drops across branches and an early return",
		file:   "drops.ch",
		expect: "every owner freed exactly once",
		text: `let a: own<Vec<u64>> = alloc<Vec<u64>>();
let b: own<u64> = alloc<u64>();
if true {
    let c = move a;
    drop(b);
}
{
    let d: own<u64> = alloc<u64>();
    if true {
        return;
    }
    let e: own<u64> = alloc<u64>();
}`,
		build: func(s *source) *ir.Block {
			vec := types.Vec(types.U64)
			return &ir.Block{Stmts: []ir.Stmt{
				&ir.Let{Name: "a", Type: types.Own{Elem: vec}, Value: &ir.Alloc{Elem: vec, Pos: s.at(1, "alloc")}, Pos: s.at(1)},
				&ir.Let{Name: "b", Type: types.Own{Elem: types.U64}, Value: &ir.Alloc{Elem: types.U64, Pos: s.at(2, "alloc")}, Pos: s.at(2)},
				&ir.If{Cond: true, Pos: s.at(3), Then: &ir.Block{Pos: s.at(3, "{"), Stmts: []ir.Stmt{
					&ir.Move{Dst: "c", Src: "a", Pos: s.at(4)},
					&ir.Drop{Ptr: "b", Pos: s.at(5)},
				}}},
				&ir.Scope{Pos: s.at(7), Body: &ir.Block{Pos: s.at(7), Stmts: []ir.Stmt{
					&ir.Let{Name: "d", Type: types.Own{Elem: types.U64}, Value: &ir.Alloc{Elem: types.U64, Pos: s.at(8, "alloc")}, Pos: s.at(8)},
					&ir.If{Cond: true, Pos: s.at(9), Then: &ir.Block{Pos: s.at(9, "{"), Stmts: []ir.Stmt{
						&ir.Return{Pos: s.at(10)},
					}}},
					&ir.Let{Name: "e", Type: types.Own{Elem: types.U64}, Value: &ir.Alloc{Elem: types.U64, Pos: s.at(12, "alloc")}, Pos: s.at(12)},
				}}},
			}}
		},
	},
}

// writeVecHeader stores a Vec<u64> header with a fresh 4-element buffer
// into p, the way unchecked code would.
func writeVecHeader(m *engine.Machine) error {
	p, ok := m.Pointer("p")
	if !ok {
		return fmt.Errorf("p is not in scope")
	}
	u64, err := layout.NewResolver(nil).LayoutOf(types.U64)
	if err != nil {
		return err
	}
	buf, err := ptr.AllocateCount(m.Registry(), u64, 4)
	if err != nil {
		return err
	}
	if err := p.StoreAddr(0, buf.Addr()); err != nil {
		return err
	}
	if err := p.StoreU32(4, 4); err != nil {
		return err
	}
	return p.StoreU32(8, 4)
}

// selectScenarios parses a comma separated list of ids, or "all".
func selectScenarios(sel string) ([]*scenario, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || strings.EqualFold(sel, "all") {
		return scenarios, nil
	}
	byID := make(map[string]*scenario, len(scenarios))
	for _, sc := range scenarios {
		byID[sc.id] = sc
	}
	var out []*scenario
	for _, id := range strings.Split(sel, ",") {
		id = strings.ToUpper(strings.TrimSpace(id))
		sc, ok := byID[id]
		if !ok {
			ids := make([]string, 0, len(byID))
			for k := range byID {
				ids = append(ids, k)
			}
			sort.Strings(ids)
			return nil, fmt.Errorf("unknown scenario %q, options: %s, all", id, strings.Join(ids, ", "))
		}
		out = append(out, sc)
	}
	return out, nil
}
