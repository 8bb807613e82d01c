package ptr

import (
	"errors"
	"testing"

	cerrors "github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/types"
)

func TestRawAllocateReallocate(t *testing.T) {
	e := newEnv(t, nil)

	t.Run("typed_u64", func(t *testing.T) {
		p, err := Allocate(e.reg, e.layout(t, types.U64))
		if err != nil {
			t.Fatal(err)
		}
		if p.Size() != 8 {
			t.Errorf("size: got %d, want 8", p.Size())
		}
		if err := p.Reallocate(2); err != nil {
			t.Fatal(err)
		}
		if p.Size() != 16 || p.Count() != 2 {
			t.Errorf("after realloc: size %d count %d, want 16 and 2", p.Size(), p.Count())
		}
		if err := p.Deallocate(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("array", func(t *testing.T) {
		p, err := Allocate(e.reg, e.layout(t, types.Array{Elem: types.U64, Len: 2}))
		if err != nil {
			t.Fatal(err)
		}
		if p.Size() != 16 {
			t.Errorf("size: got %d, want 16", p.Size())
		}
		_ = p.Deallocate()
	})

	t.Run("bytes_count_is_bytes", func(t *testing.T) {
		p, err := AllocateBytes(e.reg, 8)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Reallocate(24); err != nil {
			t.Fatal(err)
		}
		if p.Size() != 24 {
			t.Errorf("size: got %d, want 24", p.Size())
		}
		_ = p.Deallocate()
	})

	if e.faultCount() != 0 {
		t.Errorf("unexpected faults: %v", e.faults)
	}
}

func TestRawReallocatePreservesPrefix(t *testing.T) {
	e := newEnv(t, nil)
	p, err := AllocateCount(e.reg, e.layout(t, types.U64), 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = p.StoreU64(0, 7)
	_ = p.StoreU64(1, 9)

	// another allocation right after forces a move
	blocker, _ := AllocateBytes(e.reg, 8)
	defer func() { _ = blocker.Deallocate() }()

	if err := p.Reallocate(8); err != nil {
		t.Fatal(err)
	}
	if p.Size() != 64 {
		t.Errorf("size: got %d, want 64", p.Size())
	}
	for i, want := range []uint64{7, 9, 0, 0} {
		if v, _ := p.LoadU64(uint32(i)); v != want {
			t.Errorf("element %d: got %d, want %d", i, v, want)
		}
	}

	if err := p.Reallocate(1); err != nil {
		t.Fatal(err)
	}
	if v, _ := p.LoadU64(0); v != 7 {
		t.Errorf("after shrink: got %d, want 7", v)
	}
	_ = p.Deallocate()
}

func TestRawDoubleFree(t *testing.T) {
	e := newEnv(t, nil)
	p, _ := AllocateBytes(e.reg, 16)
	alias := p

	if err := p.Deallocate(); err != nil {
		t.Fatal(err)
	}
	if err := alias.Deallocate(); !errors.Is(err, cerrors.ErrDoubleFree) {
		t.Errorf("expected double free, got %v", err)
	}
	if e.faultCount() != 1 {
		t.Errorf("faults: got %d, want 1", e.faultCount())
	}
}

func TestRawCountOverflow(t *testing.T) {
	e := newEnv(t, nil)
	_, err := AllocateCount(e.reg, e.layout(t, types.U64), 1<<30)
	if !errors.Is(err, cerrors.ErrOutOfMemory) {
		t.Errorf("expected out of memory, got %v", err)
	}
	if e.reg.Stats().Live != 0 {
		t.Error("nothing should be allocated")
	}
}

func TestRawLoadStore(t *testing.T) {
	e := newEnv(t, nil)
	p, err := AllocateCount(e.reg, e.layout(t, types.U32), 4)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = p.Deallocate() }()

	if err := p.Store(2, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	got, err := p.Load(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Errorf("Load(2) = %v", got)
	}
	if p.Offset(2) != p.Addr()+8 {
		t.Errorf("Offset(2) = %d", p.Offset(2))
	}
	if v, _ := p.LoadU32(8); v != 0x04030201 {
		t.Errorf("LoadU32(8) = %x", v)
	}
}

func TestRawNilRegistry(t *testing.T) {
	if _, err := AllocateBytes(nil, 8); err == nil {
		t.Error("nil registry should fail")
	}
	var p Raw
	if err := p.Deallocate(); err == nil {
		t.Error("zero Raw should not deallocate")
	}
}

func TestRawAs(t *testing.T) {
	e := newEnv(t, nil)
	p, err := AllocateCount(e.reg, e.layout(t, types.U64), 3)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = p.Deallocate() }()

	b := p.As(nil)
	if !b.Elem().IsByte() || b.Count() != 24 || b.Addr() != p.Addr() {
		t.Errorf("byte view: elem %s count %d", b.Elem(), b.Count())
	}
	if p.Count() != 3 {
		t.Error("As must not modify the receiver")
	}
}
