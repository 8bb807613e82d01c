// Package ir is the allocation program representation the checker and the
// engine share: declarations of raw and owning pointers, element writes,
// reallocation, explicit release, moves, nested scopes, branches and early
// returns.
//
// A front end produces a Program; check.Check validates it and records its
// decisions in a side table; engine.Run executes it trusting that table.
package ir
