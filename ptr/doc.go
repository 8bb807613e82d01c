// Package ptr implements typed raw and owning pointers into registry memory.
//
// Raw is a plain value: an address, an element layout and a count. It never
// frees on its own, and copies of it alias the same region.
//
// Owning wraps a Raw with a small state machine:
//
//	Uninitialized  (an empty slot, produced only by Adopt of null)
//	Live           after NewOwning / Adopt / Move
//	MovedFrom      the source of a Move; Drop is a no-op
//	Dropped        after the first Drop; further Drops are no-ops
//
// Drop walks the element's precomputed drop plan, releasing every non-null
// owned address (and, for slice pointees, every element's owned addresses)
// before releasing the owner's own region. The walk only sees the declared
// element type: an owner allocated as bytes never frees anything written
// into it.
package ptr
