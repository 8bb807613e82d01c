// Package cherry provides the typed allocation subsystem of the Cherry
// compiler: a layout resolver, a process-wide allocator registry, raw and
// owning pointers, and a static allocation checker.
//
// # Architecture Overview
//
//	cherry/          Root package with the linear Memory contract
//	├── types/       Type model supplied by the front end
//	├── layout/      Size, alignment, field offsets and drop plans
//	├── heap/        Allocator registry and the wazero-backed allocator
//	├── ptr/         Raw (unmanaged) and Owning (managed) pointers
//	├── ir/          Allocation program representation
//	├── check/       Static allocation type-checker
//	├── diag/        Diagnostics sink and renderer
//	├── engine/      Executes checked programs against a registry
//	└── errors/      Structured error types
//
// # Quick Start
//
//	alloc, err := heap.NewLinear(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer alloc.Close(ctx)
//
//	reg := heap.NewRegistry(alloc, nil)
//	if err := heap.Install(reg); err != nil {
//	    log.Fatal(err)
//	}
//
//	res := layout.NewResolver(nil)
//	desc, _ := res.LayoutOf(types.Vec(types.U64))
//
//	p, err := ptr.NewOwning(reg, desc)
//	if err != nil {
//	    log.Fatal(err) // out of memory
//	}
//	defer p.Drop()
//
// # Two Passes
//
// Types are validated once, statically, by check.Check. The engine trusts
// the resulting table and never re-validates a write at run time.
//
// # Memory Model
//
// Linear memory can only grow, never shrink. Deallocated blocks return to
// the allocator's free list and are reused by later allocations.
//
// Owning pointers release memory deterministically when dropped, walking
// the drop plan of their static element type. Erasing that type to bytes
// disables the walk for everything beneath the top-level region.
package cherry
