// Package engine executes checked programs against a heap registry.
//
// The engine is the second of two passes. check.Check validates a program
// and records its decisions in a check.Table; the engine trusts that table
// and never re-validates types. A table carrying error diagnostics is
// refused with a KindRejected error.
//
// # Execution
//
// A Machine runs one statement per Step, so callers can observe the heap
// between statements:
//
//	m, err := engine.New(prog, table, reg)
//	for !m.Done() {
//	    if err := m.Step(); err != nil {
//	        return err
//	    }
//	}
//
// Allocation sites allocate the decided element type and count, then view
// the memory through the declared element type. Owning pointers are
// dropped from the table's drop lists when a scope closes and when a
// Return unwinds. Owning.Drop is a no-op on a moved-from or dropped owner,
// so conditional entries are safe to run on every path.
//
// # Errors
//
// Out-of-memory and other errors stop the program at the failing
// statement. Every owner still in scope is dropped before the error is
// returned. Faults from the registry go to its fault handler.
package engine
