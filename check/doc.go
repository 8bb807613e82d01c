// Package check is the static allocation pass. It walks an ir.Program once,
// infers the element type of every allocation site, validates every write
// through a pointer and tracks owning pointer state across scopes, branches
// and early returns.
//
// # Element types
//
// An allocation with an explicit type argument allocates that type; one
// without allocates bytes. The declared pointer element must match the
// inferred one unless it is the byte type. Writes must store exactly the
// element type, except that byte pointers accept values owning no nested
// allocations. Storing a container into a byte buffer would hide its
// buffer from the owner's drop plan, so it is a TypeMismatch.
//
// # Output
//
// Check reports diagnostics to a diag.Sink and returns a Table: one
// Decision per allocation site, plus the drop lists the engine runs at the
// end of each block and at each Return. The engine trusts the table and
// refuses to run one with errors.
package check
