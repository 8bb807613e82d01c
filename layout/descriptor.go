package layout

import (
	"github.com/trimorphdev/cherry/types"
)

// Descriptor is the resolved layout of a concrete type.
type Descriptor struct {
	Type types.Type

	// Fields are the struct members in declaration order.
	Fields []Field

	// Elem is the element layout of an array or slice.
	Elem *Descriptor

	// Pointee is the layout an own<T> descriptor points at. It is filled
	// once the enclosing resolution completes, so recursive types work.
	Pointee *Descriptor

	// DropPlan lists, in declaration order, every owning address inside a
	// value of this type.
	DropPlan []DropStep

	Size  uint32
	Align uint32

	// Count is the array length; zero for slices.
	Count uint32

	Unsized    bool
	OwnsNested bool
}

// Field is a struct member placed at Offset.
type Field struct {
	Desc   *Descriptor
	Name   string
	Offset uint32
}

// DropStep locates one owning address inside a value. Ptr is the own<T>
// descriptor found at Offset.
type DropStep struct {
	Ptr    *Descriptor
	Path   string
	Offset uint32
}

// Target returns the layout the owning address points at.
func (s DropStep) Target() *Descriptor {
	return s.Ptr.Pointee
}

func (d *Descriptor) String() string {
	if d == nil || d.Type == nil {
		return "<nil>"
	}
	return d.Type.String()
}

// IsByte reports whether d describes untyped bytes.
func (d *Descriptor) IsByte() bool {
	return d != nil && types.IsByte(d.Type)
}

// FieldByName returns the named struct member.
func (d *Descriptor) FieldByName(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Bytes is the descriptor of the untyped byte element.
var Bytes = &Descriptor{Type: types.Byte, Size: 1, Align: 1}
