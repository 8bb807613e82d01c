package heap

import (
	"context"
	"errors"
	"testing"

	"github.com/tetratelabs/wazero"

	cerrors "github.com/trimorphdev/cherry/errors"
)

func TestWrapMemory_Nil(t *testing.T) {
	if WrapMemory(nil) != nil {
		t.Error("expected nil for nil memory")
	}
}

func TestMemory_ReadWrite(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod, err := rt.Instantiate(ctx, memoryModule)
	if err != nil {
		t.Fatalf("failed to instantiate: %v", err)
	}
	mem := WrapMemory(mod.ExportedMemory("memory"))

	if err := mem.Write(16, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	read, err := mem.Read(16, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, b := range read {
		if b != byte(i+1) {
			t.Errorf("byte %d: expected %d, got %d", i, i+1, b)
		}
	}

	// reads are copies
	read[0] = 99
	if v, _ := mem.ReadU8(16); v != 1 {
		t.Errorf("Read should return a copy, memory now holds %d", v)
	}

	if err := mem.WriteU32(32, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, err := mem.ReadU32(32); err != nil || v != 0xdeadbeef {
		t.Errorf("ReadU32 = %x, %v", v, err)
	}
	if err := mem.WriteU64(40, 1<<40); err != nil {
		t.Fatal(err)
	}
	if v, err := mem.ReadU64(40); err != nil || v != 1<<40 {
		t.Errorf("ReadU64 = %d, %v", v, err)
	}
	if err := mem.WriteU8(48, 7); err != nil {
		t.Fatal(err)
	}

	if err := mem.zero(16, 4); err != nil {
		t.Fatal(err)
	}
	if v, _ := mem.ReadU32(16); v != 0 {
		t.Errorf("zero left %x", v)
	}
}

func TestMemory_OutOfBounds(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	mod, err := rt.Instantiate(ctx, memoryModule)
	if err != nil {
		t.Fatalf("failed to instantiate: %v", err)
	}
	mem := WrapMemory(mod.ExportedMemory("memory"))
	size := mem.Size()

	oob := &cerrors.Error{Kind: cerrors.KindOutOfBounds}
	if _, err := mem.Read(size-2, 4); !errors.Is(err, oob) {
		t.Errorf("Read: expected out of bounds, got %v", err)
	}
	if err := mem.Write(size, []byte{1}); !errors.Is(err, oob) {
		t.Errorf("Write: expected out of bounds, got %v", err)
	}
	if _, err := mem.ReadU64(size - 4); !errors.Is(err, oob) {
		t.Errorf("ReadU64: expected out of bounds, got %v", err)
	}
	if err := mem.WriteU32(size-1, 1); !errors.Is(err, oob) {
		t.Errorf("WriteU32: expected out of bounds, got %v", err)
	}
}
