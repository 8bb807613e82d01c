package ptr

import (
	"context"
	"sync"
	"testing"

	cerrors "github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/layout"
	"github.com/trimorphdev/cherry/types"
)

type env struct {
	reg    *heap.Registry
	res    *layout.Resolver
	faults []*cerrors.Error
	mu     sync.Mutex
}

func newEnv(t *testing.T, u *types.Universe) *env {
	t.Helper()
	ctx := context.Background()
	lin, err := heap.NewLinear(ctx, nil)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	t.Cleanup(func() { _ = lin.Close(ctx) })

	e := &env{res: layout.NewResolver(u)}
	e.reg = heap.NewRegistry(lin, &heap.Config{OnFault: func(err *cerrors.Error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.faults = append(e.faults, err)
	}})
	return e
}

func (e *env) layout(t *testing.T, typ types.Type) *layout.Descriptor {
	t.Helper()
	d, err := e.res.LayoutOf(typ)
	if err != nil {
		t.Fatalf("LayoutOf(%s): %v", typ, err)
	}
	return d
}

func (e *env) faultCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.faults)
}

// buildVec writes a Vec<elem> header at dst pointing at a fresh buffer of n
// elements and returns the buffer.
func (e *env) buildVec(t *testing.T, dst Raw, off uint32, elem *layout.Descriptor, n uint32) Raw {
	t.Helper()
	buf, err := AllocateCount(e.reg, elem, n)
	if err != nil {
		t.Fatal(err)
	}
	if err := dst.StoreAddr(off, buf.Addr()); err != nil {
		t.Fatal(err)
	}
	if err := dst.StoreU32(off+4, n); err != nil {
		t.Fatal(err)
	}
	if err := dst.StoreU32(off+8, n); err != nil {
		t.Fatal(err)
	}
	return buf
}
