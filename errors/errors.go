package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLayout Phase = "layout" // type layout resolution
	PhaseCheck  Phase = "check"  // static allocation checking
	PhaseAlloc  Phase = "alloc"  // allocator and registry operations
	PhaseDrop   Phase = "drop"   // owning pointer teardown
	PhaseRun    Phase = "run"    // executing a checked program
	PhaseConfig Phase = "config" // process setup
)

// Kind categorizes the error
type Kind string

const (
	KindLayout           Kind = "layout"
	KindUnsized          Kind = "unsized"
	KindIncomplete       Kind = "incomplete"
	KindInfiniteSize     Kind = "infinite_size"
	KindOverflow         Kind = "overflow"
	KindUnsupported      Kind = "unsupported"
	KindTypeMismatch     Kind = "type_mismatch"
	KindOutOfMemory      Kind = "out_of_memory"
	KindUseAfterFree     Kind = "use_after_free"
	KindUseAfterMove     Kind = "use_after_move"
	KindDoubleFree       Kind = "double_free"
	KindForeignRegion    Kind = "foreign_region"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindInvalidInput     Kind = "invalid_input"
	KindNotInitialized   Kind = "not_initialized"
	KindAlreadyInstalled Kind = "already_installed"
	KindRejected         Kind = "rejected"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Type   string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Type != "" {
		b.WriteString(": type ")
		b.WriteString(e.Type)
	}

	if e.Detail != "" {
		if e.Type != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone, and one with an empty
// Kind matches on Phase alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	switch {
	case t.Phase == "":
		return e.Kind == t.Kind
	case t.Kind == "":
		return e.Phase == t.Phase
	default:
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Type sets the offending type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is matching on kind (or, for ErrLayout, phase) alone.
var (
	ErrOutOfMemory      = &Error{Kind: KindOutOfMemory}
	ErrLayout           = &Error{Phase: PhaseLayout}
	ErrTypeMismatch     = &Error{Kind: KindTypeMismatch}
	ErrDoubleFree       = &Error{Kind: KindDoubleFree}
	ErrUseAfterFree     = &Error{Kind: KindUseAfterFree}
	ErrUseAfterMove     = &Error{Kind: KindUseAfterMove}
	ErrForeignRegion    = &Error{Kind: KindForeignRegion}
	ErrAlreadyInstalled = &Error{Kind: KindAlreadyInstalled}
)

// Convenience constructors for common error patterns

// Layout creates a layout error for a type that cannot be laid out
func Layout(kind Kind, path []string, typ, detail string) *Error {
	return &Error{
		Phase:  PhaseLayout,
		Kind:   kind,
		Path:   path,
		Type:   typ,
		Detail: detail,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(path []string, want, got string) *Error {
	return &Error{
		Phase:  PhaseCheck,
		Kind:   KindTypeMismatch,
		Path:   path,
		Type:   got,
		Detail: fmt.Sprintf("expected %s", want),
	}
}

// OutOfMemory creates an allocation failure error
func OutOfMemory(size, align uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindOutOfMemory,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// Overflow creates an overflow error for size arithmetic
func Overflow(phase Phase, path []string, count, elemSize uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("%d elements of %d bytes overflows the address space", count, elemSize),
		Value:  count,
	}
}

// Fault creates a registry fault for a region that is not live in this registry
func Fault(kind Kind, addr uint32, detail string) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   kind,
		Detail: fmt.Sprintf("region 0x%x: %s", addr, detail),
		Value:  addr,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("offset %d length %d outside linear memory", offset, length),
		Value:  offset,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Rejected is returned when a program with error diagnostics is handed to
// the engine.
func Rejected(count int) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindRejected,
		Detail: fmt.Sprintf("program has %d error diagnostic(s)", count),
		Value:  count,
	}
}
