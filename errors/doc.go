// Package errors provides structured error types for the cherry allocation
// subsystem.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the field path, the offending type name,
// a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLayout, errors.KindInfiniteSize).
//		Path("Node", "next").
//		Type("Node").
//		Detail("type contains itself without indirection").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfMemory(size, align, cause)
//	err := errors.Fault(errors.KindDoubleFree, addr, "already deallocated")
//
// Kind-only sentinels (ErrOutOfMemory, ErrDoubleFree, ...) match any phase
// with errors.Is.
package errors
