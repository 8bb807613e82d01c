// Package layout resolves cherry types to their wasm32 memory layout.
//
// # Layout Rules
//
// The resolver follows the Canonical ABI record rule:
//   - Scalars: size equals alignment (u8=1, u32=4, u64=8, etc.)
//   - Pointers (own<T>, raw<T>): 4 bytes, aligned to 4
//   - Arrays: N elements back to back, aligned like the element
//   - Structs: fields laid out sequentially with padding, size rounded up
//     to the largest field alignment
//
// Slices have no static size and only appear as the pointee of a pointer.
// A type that contains itself without pointer indirection fails with an
// infinite size error.
//
// # Drop plans
//
// Every descriptor carries a DropPlan listing the offsets of the owning
// pointers inside a value, in declaration order. Owning pointers use it to
// free nested allocations without walking the type again.
//
// # Usage
//
//	r := layout.NewResolver(universe)
//	d, err := r.LayoutOf(types.Vec(types.U64))
//	// d.Size == 12, d.Align == 4, d.DropPlan[0].Offset == 0
package layout
