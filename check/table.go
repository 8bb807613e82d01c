package check

import (
	"github.com/trimorphdev/cherry/ir"
	"github.com/trimorphdev/cherry/layout"
)

// PtrKind is how a variable holds memory.
type PtrKind uint8

const (
	NotPointer PtrKind = iota
	RawPtr
	OwningPtr
)

func (k PtrKind) String() string {
	switch k {
	case RawPtr:
		return "raw"
	case OwningPtr:
		return "own"
	}
	return "value"
}

// Decision is what the checker settled for one allocation site. Elem and
// Count size the allocation; View is the element type the declared pointer
// sees, which differs from Elem only for byte pointers.
type Decision struct {
	Elem  *layout.Descriptor
	View  *layout.Descriptor
	Kind  PtrKind
	Count uint32
}

// DropEntry names an owning pointer to drop. Depth counts enclosing scopes
// outward from where the list applies, 0 being the innermost.
// Conditional marks owners that were moved or dropped on some paths only.
type DropEntry struct {
	Name        string
	Depth       int
	Conditional bool
}

// Table is the side table consumed by the engine. Nothing in it is checked
// again at run time.
type Table struct {
	Allocs   map[*ir.Alloc]Decision
	Reallocs map[*ir.Realloc]uint32

	// Sizes is the byte size of every value expression.
	Sizes map[ir.Expr]uint32

	// Consts holds folded counts and SizeOf values.
	Consts map[ir.Expr]uint32

	// Drops lists the owners to drop when a block ends normally, in
	// reverse declaration order.
	Drops map[*ir.Block][]DropEntry

	// Returns lists the owners to drop when a Return unwinds, innermost
	// scope first.
	Returns map[*ir.Return][]DropEntry

	Errors   int
	Warnings int
}

func newTable() *Table {
	return &Table{
		Allocs:   make(map[*ir.Alloc]Decision),
		Reallocs: make(map[*ir.Realloc]uint32),
		Sizes:    make(map[ir.Expr]uint32),
		Consts:   make(map[ir.Expr]uint32),
		Drops:    make(map[*ir.Block][]DropEntry),
		Returns:  make(map[*ir.Return][]DropEntry),
	}
}

// OK reports whether the program checked without errors.
func (t *Table) OK() bool {
	return t.Errors == 0
}

// Decision returns the decision for an allocation site.
func (t *Table) Decision(a *ir.Alloc) (Decision, bool) {
	d, ok := t.Allocs[a]
	return d, ok
}
