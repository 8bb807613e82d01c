// Package heap provides the allocator registry and the linear memory
// allocator behind it.
//
// A Registry wraps exactly one cherry.Allocator and is the only path by
// which typed pointers obtain and release memory. It remembers every live
// Region it has issued, so releasing a region twice, resizing a released
// region, or releasing a region from another registry is detected and
// reported as a fault rather than corrupting the free list.
//
// Linear is the default allocator: a first-fit free list with coalescing
// over a wazero linear memory, grown a page at a time up to
// Config.MemoryLimitPages.
//
//	lin, err := heap.NewLinear(ctx, &heap.Config{MemoryLimitPages: 256})
//	if err != nil {
//		return err
//	}
//	defer lin.Close(ctx)
//
//	reg := heap.NewRegistry(lin, nil)
//	if err := heap.Install(reg); err != nil {
//		return err
//	}
//
// # Faults
//
// Faults are *errors.Error values with kind KindDoubleFree,
// KindUseAfterFree or KindForeignRegion. They are passed to Config.OnFault,
// which panics by default, and also returned to the caller.
package heap
