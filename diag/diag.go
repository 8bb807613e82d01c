package diag

import (
	"sync"

	"github.com/trimorphdev/cherry/ir"
)

// Severity of a diagnostic.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	}
	return "unknown"
}

// Code identifies a diagnostic class.
type Code string

const (
	LayoutError      Code = "LayoutError"
	TypeMismatch     Code = "TypeMismatch"
	OutOfMemory      Code = "OutOfMemory"
	UseAfterMove     Code = "UseAfterMove"
	UseAfterFree     Code = "UseAfterFree"
	InvalidOperation Code = "InvalidOperation"
	Unreachable      Code = "Unreachable"
)

// Diagnostic is one message about a program position. Label annotates the
// position itself in rich output; Notes follow the snippet.
type Diagnostic struct {
	Cause    error
	Code     Code
	Message  string
	Label    string
	Notes    []string
	Pos      ir.Pos
	Severity Severity
}

func (d Diagnostic) String() string {
	return d.Pos.String() + ": " + d.Severity.String() + "[" + string(d.Code) + "]: " + d.Message
}

// Sink receives diagnostics.
type Sink interface {
	Report(Diagnostic)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Diagnostic)

func (f SinkFunc) Report(d Diagnostic) { f(d) }

// List collects diagnostics in report order. It is safe for concurrent use.
type List struct {
	items []Diagnostic
	mu    sync.Mutex
}

func (l *List) Report(d Diagnostic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, d)
}

// All returns a copy of the collected diagnostics.
func (l *List) All() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Diagnostic, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// ErrorCount returns the number of error-severity diagnostics.
func (l *List) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, d := range l.items {
		if d.Severity == SeverityError {
			n++
		}
	}
	return n
}

func (l *List) HasErrors() bool {
	return l.ErrorCount() > 0
}

// Codes returns the codes of the collected diagnostics in order.
func (l *List) Codes() []Code {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Code, len(l.items))
	for i, d := range l.items {
		out[i] = d.Code
	}
	return out
}
