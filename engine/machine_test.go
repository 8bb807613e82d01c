package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/trimorphdev/cherry/check"
	"github.com/trimorphdev/cherry/diag"
	cerrors "github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/ir"
	"github.com/trimorphdev/cherry/types"
)

// countingAllocator tracks outstanding blocks so a second free of the same
// block is recorded instead of reaching the registry's fault path.
type countingAllocator struct {
	*heap.Linear
	live    map[uint32]bool
	doubles []uint32
	frees   int
	allocs  int
	mu      sync.Mutex
}

func (c *countingAllocator) Alloc(size, align uint32) (uint32, error) {
	p, err := c.Linear.Alloc(size, align)
	if err == nil {
		c.mu.Lock()
		c.live[p] = true
		c.allocs++
		c.mu.Unlock()
	}
	return p, err
}

func (c *countingAllocator) Free(p, size, align uint32) {
	c.mu.Lock()
	if !c.live[p] {
		c.doubles = append(c.doubles, p)
	}
	delete(c.live, p)
	c.frees++
	c.mu.Unlock()
	c.Linear.Free(p, size, align)
}

func (c *countingAllocator) Realloc(p, oldSize, align, newSize uint32) (uint32, error) {
	q, err := c.Linear.Realloc(p, oldSize, align, newSize)
	if err == nil {
		c.mu.Lock()
		delete(c.live, p)
		c.live[q] = true
		c.mu.Unlock()
	}
	return q, err
}

type env struct {
	alloc  *countingAllocator
	reg    *heap.Registry
	faults []*cerrors.Error
}

func newEnv(t *testing.T, cfg *heap.Config) *env {
	t.Helper()
	ctx := context.Background()
	if cfg == nil {
		cfg = &heap.Config{}
	}
	lin, err := heap.NewLinear(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lin.Close(ctx) })

	e := &env{alloc: &countingAllocator{Linear: lin, live: make(map[uint32]bool)}}
	cfg.OnFault = func(err *cerrors.Error) { e.faults = append(e.faults, err) }
	e.reg = heap.NewRegistry(e.alloc, cfg)
	return e
}

// assertClean fails unless every block was freed exactly once.
func (e *env) assertClean(t *testing.T) {
	t.Helper()
	if len(e.alloc.doubles) != 0 {
		t.Errorf("blocks freed twice: %v", e.alloc.doubles)
	}
	if len(e.alloc.live) != 0 {
		t.Errorf("blocks leaked: %d", len(e.alloc.live))
	}
	if e.alloc.frees != e.alloc.allocs {
		t.Errorf("allocs %d, frees %d", e.alloc.allocs, e.alloc.frees)
	}
	if len(e.faults) != 0 {
		t.Errorf("faults: %v", e.faults)
	}
}

func checked(t *testing.T, body *ir.Block) (*ir.Program, *check.Table) {
	t.Helper()
	prog := &ir.Program{Body: body}
	var l diag.List
	tab := check.Check(prog, nil, &l)
	if l.HasErrors() {
		t.Fatalf("check: %v", l.All())
	}
	return prog, tab
}

func block(stmts ...ir.Stmt) *ir.Block { return &ir.Block{Stmts: stmts} }

func letOwn(name string, elem types.Type) *ir.Let {
	return &ir.Let{Name: name, Type: types.Own{Elem: elem}, Value: &ir.Alloc{Elem: elem}}
}

// stepToEnd runs statements until the outermost block is about to close.
func stepToEnd(t *testing.T, m *Machine) {
	t.Helper()
	for m.Depth() > 1 || !atEnd(m) {
		if err := m.Step(); err != nil {
			t.Fatal(err)
		}
	}
}

func atEnd(m *Machine) bool {
	_, ok := m.Next()
	return !ok
}

func TestRunReallocate(t *testing.T) {
	e := newEnv(t, nil)
	prog, tab := checked(t, block(
		&ir.Let{Name: "p", Type: types.Raw{Elem: types.U64}, Value: &ir.Alloc{Elem: types.U64}},
		&ir.Assign{Place: ir.Place{Ptr: "p"}, Value: ir.U64(0xfeed)},
		&ir.Realloc{Ptr: "p", Count: ir.U32(2)},
		&ir.Let{Name: "v", Value: &ir.Load{Place: ir.Place{Ptr: "p"}}},
	))
	m, err := New(prog, tab, e.reg)
	if err != nil {
		t.Fatal(err)
	}
	stepToEnd(t, m)

	p, ok := m.Pointer("p")
	if !ok {
		t.Fatal("p not bound")
	}
	if p.Size() != 16 || p.Count() != 2 {
		t.Errorf("after realloc: size %d count %d", p.Size(), p.Count())
	}
	v, _ := m.Value("v")
	if binary.LittleEndian.Uint64(v) != 0xfeed {
		t.Errorf("value not preserved across realloc: %x", v)
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !m.Done() || m.Depth() != 0 {
		t.Error("machine should be finished")
	}
	if !e.reg.Live(p.Region()) {
		t.Error("raw pointers are never freed implicitly")
	}
}

func TestRunArrayAllocation(t *testing.T) {
	e := newEnv(t, nil)
	arr := types.Array{Elem: types.U64, Len: 2}
	prog, tab := checked(t, block(letOwn("p", arr)))

	m, err := New(prog, tab, e.reg)
	if err != nil {
		t.Fatal(err)
	}
	stepToEnd(t, m)
	p, _ := m.Owning("p")
	if p.Size() != 16 {
		t.Errorf("size: got %d, want 16", p.Size())
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.assertClean(t)
}

func TestRunRejectsErrors(t *testing.T) {
	e := newEnv(t, nil)
	prog := &ir.Program{Body: block(
		&ir.Let{Name: "p", Type: types.Raw{Elem: types.Byte}, Value: &ir.Alloc{Bytes: true, Count: ir.U32(12)}},
		&ir.Assign{Place: ir.Place{Ptr: "p"}, Value: &ir.Lit{Type: types.Vec(types.U64)}},
	)}
	tab := check.Check(prog, nil, nil)

	err := Run(context.Background(), prog, tab, e.reg)
	if !errors.Is(err, &cerrors.Error{Kind: cerrors.KindRejected}) {
		t.Fatalf("got %v, want rejection", err)
	}
	if e.reg.Stats().Allocs != 0 {
		t.Error("a rejected program must not allocate")
	}

	if _, err := New(prog, nil, e.reg); err == nil {
		t.Error("missing table should fail")
	}
	if _, err := New(prog, tab, nil); err == nil {
		t.Error("missing registry should fail")
	}
}

// Every owner is dropped exactly once whichever way the branches go and
// wherever the program returns.
func TestDropAtMostOnce(t *testing.T) {
	build := func(moveA, early, late bool) *ir.Block {
		return block(
			letOwn("a", types.U64),
			letOwn("b", types.Vec(types.U8)),
			&ir.If{
				Cond: moveA,
				Then: block(
					&ir.Move{Dst: "c", Src: "a"},
					&ir.Drop{Ptr: "b"},
				),
				Else: block(letOwn("d", types.U32)),
			},
			&ir.Scope{Body: block(
				letOwn("e", types.U64),
				&ir.If{Cond: early, Then: block(
					letOwn("f", types.U64),
					&ir.Return{},
				)},
				letOwn("g", types.U64),
			)},
			&ir.If{Cond: late, Then: block(&ir.Return{})},
			letOwn("h", types.U64),
		)
	}

	for _, moveA := range []bool{false, true} {
		for _, early := range []bool{false, true} {
			for _, late := range []bool{false, true} {
				name := fmt.Sprintf("move=%v/early=%v/late=%v", moveA, early, late)
				t.Run(name, func(t *testing.T) {
					e := newEnv(t, nil)
					prog, tab := checked(t, build(moveA, early, late))
					if err := Run(context.Background(), prog, tab, e.reg); err != nil {
						t.Fatal(err)
					}
					e.assertClean(t)
					if st := e.reg.Stats(); st.Live != 0 {
						t.Errorf("live regions: %d", st.Live)
					}
				})
			}
		}
	}
}

func TestRunOutOfMemory(t *testing.T) {
	e := newEnv(t, &heap.Config{MemoryLimitPages: 1})
	prog, tab := checked(t, block(
		letOwn("keep", types.U64),
		&ir.Let{Name: "big", Type: types.Raw{Elem: types.Byte}, Value: &ir.Alloc{Bytes: true, Count: ir.U32(1 << 20)}},
		letOwn("never", types.U64),
	))

	err := Run(context.Background(), prog, tab, e.reg)
	if !errors.Is(err, &cerrors.Error{Kind: cerrors.KindOutOfMemory}) {
		t.Fatalf("got %v, want out of memory", err)
	}
	// owners already in scope are released on the way out
	e.assertClean(t)
}

func TestRunCanceled(t *testing.T) {
	e := newEnv(t, nil)
	prog, tab := checked(t, block(letOwn("a", types.U64)))
	m, err := New(prog, tab, e.reg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Step(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if !errors.Is(m.Err(), context.Canceled) {
		t.Errorf("Err: %v", m.Err())
	}
	e.assertClean(t)
}

func TestNamesAndValues(t *testing.T) {
	e := newEnv(t, nil)
	prog, tab := checked(t, block(
		&ir.Let{Name: "n", Value: &ir.SizeOf{Type: types.Vec(types.U64)}},
		letOwn("a", types.U64),
		&ir.Move{Dst: "b", Src: "a"},
	))
	m, err := New(prog, tab, e.reg)
	if err != nil {
		t.Fatal(err)
	}
	stepToEnd(t, m)

	if got := m.Names(); len(got) != 3 || got[2] != "b" {
		t.Errorf("names: %v", got)
	}
	n, _ := m.Value("n")
	if binary.LittleEndian.Uint32(n) != 12 {
		t.Errorf("size_of(Vec<u64>) = %v", n)
	}
	a, _ := m.Owning("a")
	b, _ := m.Owning("b")
	if a.Live() || !b.Live() || a.Addr() != b.Addr() {
		t.Errorf("move: a %s, b %s", a.State(), b.State())
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.assertClean(t)
}
