// Package diag carries checker diagnostics and renders them.
//
// Diagnostics are reported to a Sink; List collects them and Emitter prints
// them in one of three display styles:
//
//	short:  a.ch:4:5: error[TypeMismatch]: cannot store Vec<u64> into p[0]
//
//	medium: error[TypeMismatch]: cannot store Vec<u64> into p[0]
//	         --> a.ch:4:5
//	         = note: ...
//
//	rich:   medium plus the source line and a caret under the column
//
// Color is applied with lipgloss when the output is a terminal.
package diag
