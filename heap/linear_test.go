package heap

import (
	"context"
	"errors"
	"testing"

	"github.com/trimorphdev/cherry"
	cerrors "github.com/trimorphdev/cherry/errors"
)

func TestLinear_Alloc(t *testing.T) {
	lin := newLinear(t, nil)

	tests := []struct {
		name  string
		size  uint32
		align uint32
	}{
		{"byte", 1, 1},
		{"word", 4, 4},
		{"dword", 8, 8},
		{"wide_align", 24, 64},
		{"empty", 0, 1},
	}

	seen := make(map[uint32]bool)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := lin.Alloc(tc.size, tc.align)
			if err != nil {
				t.Fatalf("Alloc: %v", err)
			}
			if addr == 0 {
				t.Fatal("address 0 is null")
			}
			if addr%tc.align != 0 {
				t.Errorf("addr %d not aligned to %d", addr, tc.align)
			}
			if seen[addr] {
				t.Errorf("addr %d issued twice", addr)
			}
			seen[addr] = true
			if c, ok := lin.Capacity(addr); !ok || c < tc.size {
				t.Errorf("capacity %d < size %d", c, tc.size)
			}
		})
	}
}

func TestLinear_ZeroesReusedBlocks(t *testing.T) {
	lin := newLinear(t, nil)
	mem := lin.Memory()

	a, err := lin.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteU64(a, 0xffffffffffffffff); err != nil {
		t.Fatal(err)
	}
	lin.Free(a, 16, 8)

	b, err := lin.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if b != a {
		t.Fatalf("first fit should reuse %d, got %d", a, b)
	}
	if v, _ := mem.ReadU64(b); v != 0 {
		t.Errorf("reused block not zeroed: %x", v)
	}
}

func TestLinear_Coalesce(t *testing.T) {
	lin := newLinear(t, nil)
	start := lin.FreeBytes()

	a, _ := lin.Alloc(16, 8)
	b, _ := lin.Alloc(16, 8)
	c, _ := lin.Alloc(16, 8)
	if lin.FreeBytes() != start-48 {
		t.Fatalf("free bytes: got %d, want %d", lin.FreeBytes(), start-48)
	}

	lin.Free(a, 16, 8)
	lin.Free(b, 16, 8)

	// a and b merged into one 32 byte span
	d, err := lin.Alloc(32, 8)
	if err != nil {
		t.Fatal(err)
	}
	if d != a {
		t.Errorf("coalesced span should start at %d, got %d", a, d)
	}

	lin.Free(c, 16, 8)
	lin.Free(d, 32, 8)
	if lin.FreeBytes() != start {
		t.Errorf("after freeing everything: got %d, want %d", lin.FreeBytes(), start)
	}
}

func TestLinear_Grow(t *testing.T) {
	lin := newLinear(t, &Config{MemoryLimitPages: 4})

	addr, err := lin.Alloc(100000, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if lin.Pages() < 2 {
		t.Errorf("pages: got %d, want >= 2", lin.Pages())
	}
	if addr+100000 > lin.Pages()*cherry.PageSize {
		t.Error("block extends past memory")
	}
}

func TestLinear_OutOfMemory(t *testing.T) {
	lin := newLinear(t, &Config{MemoryLimitPages: 1})

	_, err := lin.Alloc(70000, 8)
	if !errors.Is(err, cerrors.ErrOutOfMemory) {
		t.Fatalf("expected out of memory, got %v", err)
	}

	// the allocator is still usable
	if _, err := lin.Alloc(64, 8); err != nil {
		t.Errorf("small alloc after OOM: %v", err)
	}
}

func TestLinear_Realloc(t *testing.T) {
	prefix := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	check := func(t *testing.T, mem cherry.Memory, addr uint32, want []byte) {
		t.Helper()
		got, err := mem.Read(addr, uint32(len(want)))
		if err != nil {
			t.Fatal(err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("byte %d: got %d, want %d", i, got[i], want[i])
			}
		}
	}

	t.Run("grow_in_place", func(t *testing.T) {
		lin := newLinear(t, nil)
		a, _ := lin.Alloc(16, 8)
		_ = lin.Memory().Write(a, prefix)

		b, err := lin.Realloc(a, 16, 8, 64)
		if err != nil {
			t.Fatal(err)
		}
		if b != a {
			t.Errorf("free neighbour should allow in place growth, moved %d -> %d", a, b)
		}
		check(t, lin.Memory(), b, prefix)
		check(t, lin.Memory(), b+16, make([]byte, 48))
	})

	t.Run("move", func(t *testing.T) {
		lin := newLinear(t, nil)
		a, _ := lin.Alloc(16, 8)
		_, _ = lin.Alloc(16, 8) // blocks in-place growth
		_ = lin.Memory().Write(a, prefix)

		b, err := lin.Realloc(a, 16, 8, 64)
		if err != nil {
			t.Fatal(err)
		}
		if b == a {
			t.Fatal("expected the block to move")
		}
		check(t, lin.Memory(), b, prefix)
		if _, ok := lin.Capacity(a); ok {
			t.Error("old block should be released")
		}
	})

	t.Run("shrink", func(t *testing.T) {
		lin := newLinear(t, nil)
		a, _ := lin.Alloc(16, 8)
		_ = lin.Memory().Write(a, prefix)

		b, err := lin.Realloc(a, 16, 8, 8)
		if err != nil {
			t.Fatal(err)
		}
		if b != a {
			t.Error("shrink should stay in place")
		}
		check(t, lin.Memory(), b, prefix[:8])
		if c, _ := lin.Capacity(b); c != 8 {
			t.Errorf("capacity after shrink: got %d, want 8", c)
		}
	})

	t.Run("unknown_block", func(t *testing.T) {
		lin := newLinear(t, nil)
		if _, err := lin.Realloc(4096, 8, 8, 16); err == nil {
			t.Error("realloc of unknown block should fail")
		}
	})
}

func TestNewLinear_Config(t *testing.T) {
	ctx := context.Background()
	_, err := NewLinear(ctx, &Config{InitialPages: 8, MemoryLimitPages: 2})
	if err == nil {
		t.Fatal("initial pages above the limit should be rejected")
	}

	lin := newLinear(t, &Config{InitialPages: 3, MemoryLimitPages: 8})
	if lin.Pages() != 3 {
		t.Errorf("pages: got %d, want 3", lin.Pages())
	}
}
