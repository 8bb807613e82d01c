package ptr

import (
	"errors"
	"testing"

	cerrors "github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/types"
)

func TestOwningDropFreesNested(t *testing.T) {
	e := newEnv(t, nil)
	vec := e.layout(t, types.Vec(types.U64))
	u64 := e.layout(t, types.U64)

	p, err := NewOwning(e.reg, vec)
	if err != nil {
		t.Fatal(err)
	}
	buf := e.buildVec(t, p.Raw(), 0, u64, 4)

	if err := p.Drop(); err != nil {
		t.Fatal(err)
	}
	if e.reg.Live(buf.Region()) {
		t.Error("typed drop must free the element buffer")
	}
	if st := e.reg.Stats(); st.Live != 0 {
		t.Errorf("live regions: got %d, want 0", st.Live)
	}
	if e.faultCount() != 0 {
		t.Errorf("unexpected faults: %v", e.faults)
	}
}

// A byte-typed owner holding container bytes only frees itself; the
// container's buffer is leaked.
func TestOwningBytesLeaksNested(t *testing.T) {
	e := newEnv(t, nil)
	vec := e.layout(t, types.Vec(types.U64))
	u64 := e.layout(t, types.U64)

	p, err := NewOwningBytes(e.reg, vec.Size)
	if err != nil {
		t.Fatal(err)
	}
	buf := e.buildVec(t, p.Raw(), 0, u64, 4)
	top := p.Raw().Region()

	if err := p.Drop(); err != nil {
		t.Fatal(err)
	}
	if e.reg.Live(top) {
		t.Error("the top-level region must be freed")
	}
	if !e.reg.Live(buf.Region()) {
		t.Error("the nested buffer must remain live")
	}
	if st := e.reg.Stats(); st.Live != 1 || st.Frees != 1 {
		t.Errorf("stats: %+v", st)
	}
}

func TestOwningDropOrder(t *testing.T) {
	u := types.NewUniverse()
	u.Define("List", &types.Struct{Fields: []types.Field{
		{Name: "value", Type: types.U32},
		{Name: "next", Type: types.Own{Elem: types.Named{Name: "List"}}},
	}})
	e := newEnv(t, u)
	list := e.layout(t, types.Named{Name: "List"})
	next, _ := list.FieldByName("next")

	head, err := NewOwning(e.reg, list)
	if err != nil {
		t.Fatal(err)
	}
	addrs := []uint32{head.Addr()}
	cur := head.Raw()
	for i := 0; i < 2; i++ {
		n, err := Allocate(e.reg, list)
		if err != nil {
			t.Fatal(err)
		}
		_ = cur.StoreAddr(next.Offset, n.Addr())
		addrs = append(addrs, n.Addr())
		cur = n
	}

	var freed []uint32
	e.reg.Subscribe(heap.ObserverFunc(func(ev heap.Event) {
		if ev.Type == heap.EventDeallocated {
			freed = append(freed, ev.Region.Addr)
		}
	}))

	if err := head.Drop(); err != nil {
		t.Fatal(err)
	}
	want := []uint32{addrs[2], addrs[1], addrs[0]}
	if len(freed) != len(want) {
		t.Fatalf("freed %v, want %v", freed, want)
	}
	for i := range want {
		if freed[i] != want[i] {
			t.Errorf("free %d: got %d, want %d", i, freed[i], want[i])
		}
	}
}

func TestOwningDropSliceElements(t *testing.T) {
	e := newEnv(t, nil)
	outer := e.layout(t, types.Vec(types.Vec(types.U8)))
	inner := e.layout(t, types.Vec(types.U8))

	p, err := NewOwning(e.reg, outer)
	if err != nil {
		t.Fatal(err)
	}
	elems := e.buildVec(t, p.Raw(), 0, inner, 2)
	for i := uint32(0); i < 2; i++ {
		e.buildVec(t, elems, i*inner.Size, e.layout(t, types.U8), 16)
	}
	if e.reg.Stats().Live != 4 {
		t.Fatalf("setup: %d live regions", e.reg.Stats().Live)
	}

	if err := p.Drop(); err != nil {
		t.Fatal(err)
	}
	if st := e.reg.Stats(); st.Live != 0 {
		t.Errorf("live after drop: %d", st.Live)
	}
}

func TestOwningDropIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	p, err := NewOwning(e.reg, e.layout(t, types.Vec(types.U8)))
	if err != nil {
		t.Fatal(err)
	}

	// null buffer is skipped
	if err := p.Drop(); err != nil {
		t.Fatal(err)
	}
	if err := p.Drop(); err != nil {
		t.Fatal(err)
	}
	if p.State() != StateDropped {
		t.Errorf("state: got %s", p.State())
	}
	if st := e.reg.Stats(); st.Frees != 1 {
		t.Errorf("frees: got %d, want 1", st.Frees)
	}
	if e.faultCount() != 0 {
		t.Errorf("unexpected faults: %v", e.faults)
	}
	if err := p.Reallocate(2); !errors.Is(err, cerrors.ErrUseAfterFree) {
		t.Errorf("reallocate after drop: got %v", err)
	}
}

func TestOwningMove(t *testing.T) {
	e := newEnv(t, nil)
	src, err := NewOwning(e.reg, e.layout(t, types.U64))
	if err != nil {
		t.Fatal(err)
	}

	dst, err := src.Move()
	if err != nil {
		t.Fatal(err)
	}
	if src.State() != StateMovedFrom || !dst.Live() {
		t.Fatalf("states: src %s dst %s", src.State(), dst.State())
	}
	if _, err := src.Move(); !errors.Is(err, cerrors.ErrUseAfterMove) {
		t.Errorf("second move: got %v", err)
	}

	_ = src.Drop()
	if e.reg.Stats().Frees != 0 {
		t.Error("dropping a moved-from pointer must not free")
	}
	_ = dst.Drop()
	if st := e.reg.Stats(); st.Frees != 1 || st.Live != 0 {
		t.Errorf("stats: %+v", st)
	}
}

func TestOwningDanglingField(t *testing.T) {
	e := newEnv(t, nil)
	p, err := NewOwning(e.reg, e.layout(t, types.Box(types.U64)))
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Raw().StoreAddr(0, 4096)

	err = p.Drop()
	if !errors.Is(err, cerrors.ErrUseAfterFree) {
		t.Errorf("expected use after free, got %v", err)
	}
	if e.faultCount() != 1 {
		t.Errorf("faults: got %d, want 1", e.faultCount())
	}
	if e.reg.Stats().Live != 0 {
		t.Error("the top-level region must still be freed")
	}
}

func TestAdopt(t *testing.T) {
	e := newEnv(t, nil)
	raw, _ := AllocateBytes(e.reg, 32)
	o := Adopt(raw)
	if !o.Live() || o.Size() != 32 {
		t.Errorf("adopted: %s", o)
	}
	_ = o.Drop()
	if e.reg.Live(raw.Region()) {
		t.Error("adopted region should be freed on drop")
	}

	if Adopt(Raw{}).State() != StateUninitialized {
		t.Error("adopting null should yield an uninitialized owner")
	}
}

func TestOwningShrinkDropsTruncated(t *testing.T) {
	e := newEnv(t, nil)
	vec := e.layout(t, types.Vec(types.U64))
	u64 := e.layout(t, types.U64)

	p, err := NewOwningCount(e.reg, vec, 2)
	if err != nil {
		t.Fatal(err)
	}
	first := e.buildVec(t, p.Raw(), 0, u64, 4)
	second := e.buildVec(t, p.Raw(), vec.Size, u64, 4)

	if err := p.Reallocate(1); err != nil {
		t.Fatal(err)
	}
	if e.reg.Live(second.Region()) {
		t.Error("the truncated element's buffer must be freed")
	}
	if !e.reg.Live(first.Region()) {
		t.Error("the kept element's buffer must stay live")
	}
	if p.Count() != 1 {
		t.Errorf("count: got %d, want 1", p.Count())
	}

	if err := p.Drop(); err != nil {
		t.Fatal(err)
	}
	if st := e.reg.Stats(); st.Live != 0 {
		t.Errorf("live after drop: %d", st.Live)
	}
	if e.faultCount() != 0 {
		t.Errorf("unexpected faults: %v", e.faults)
	}
}

func TestOwningDropCycle(t *testing.T) {
	u := types.NewUniverse()
	u.Define("Node", &types.Struct{Fields: []types.Field{
		{Name: "value", Type: types.U32},
		{Name: "next", Type: types.Own{Elem: types.Named{Name: "Node"}}},
	}})

	tests := []struct {
		name  string
		nodes int
	}{
		{"self", 1},
		{"pair", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, u)
			node := e.layout(t, types.Named{Name: "Node"})
			next, _ := node.FieldByName("next")

			head, err := NewOwning(e.reg, node)
			if err != nil {
				t.Fatal(err)
			}
			cur := head.Raw()
			for i := 1; i < tt.nodes; i++ {
				n, err := Allocate(e.reg, node)
				if err != nil {
					t.Fatal(err)
				}
				_ = cur.StoreAddr(next.Offset, n.Addr())
				cur = n
			}
			_ = cur.StoreAddr(next.Offset, head.Addr())

			err = head.Drop()
			if !errors.Is(err, cerrors.ErrDoubleFree) {
				t.Errorf("expected double free, got %v", err)
			}
			if e.faultCount() != 1 {
				t.Errorf("faults: got %d, want 1", e.faultCount())
			}
			if st := e.reg.Stats(); st.Live != 0 {
				t.Errorf("live after drop: %d", st.Live)
			}
		})
	}
}
