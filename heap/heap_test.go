package heap

import (
	"context"
	"testing"
)

func newLinear(t *testing.T, cfg *Config) *Linear {
	t.Helper()
	ctx := context.Background()
	lin, err := NewLinear(ctx, cfg)
	if err != nil {
		t.Fatalf("NewLinear: %v", err)
	}
	t.Cleanup(func() { _ = lin.Close(ctx) })
	return lin
}
