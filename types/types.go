package types

import (
	"strconv"
	"strings"
)

// Type is a concrete type as supplied by the front end. Two types are
// identical when their canonical strings are equal.
type Type interface {
	Kind() Kind
	String() string
}

// Scalar is a fixed-size primitive.
type Scalar struct {
	K Kind
}

func (s Scalar) Kind() Kind     { return s.K }
func (s Scalar) String() string { return s.K.String() }

var (
	Bool = Scalar{KindBool}
	U8   = Scalar{KindU8}
	S8   = Scalar{KindS8}
	U16  = Scalar{KindU16}
	S16  = Scalar{KindS16}
	U32  = Scalar{KindU32}
	S32  = Scalar{KindS32}
	U64  = Scalar{KindU64}
	S64  = Scalar{KindS64}
	F32  = Scalar{KindF32}
	F64  = Scalar{KindF64}

	// Byte is the untyped-memory element type.
	Byte = U8
)

// Array is a fixed-length sequence of Len elements.
type Array struct {
	Elem Type
	Len  uint32
}

func (a Array) Kind() Kind { return KindArray }
func (a Array) String() string {
	return "array<" + str(a.Elem) + "," + strconv.FormatUint(uint64(a.Len), 10) + ">"
}

// Slice is a dynamically sized run of elements. It has no static size and
// only appears behind a pointer.
type Slice struct {
	Elem Type
}

func (s Slice) Kind() Kind     { return KindSlice }
func (s Slice) String() string { return "[" + str(s.Elem) + "]" }

// Field is a named struct member.
type Field struct {
	Type Type
	Name string
}

// Struct is a compound type. Named structs are nominal; anonymous ones are
// identified by their field list. Args records the type arguments of a
// parameterized container such as Vec<T>.
type Struct struct {
	Name   string
	Args   []Type
	Fields []Field
}

func (s *Struct) Kind() Kind { return KindStruct }

func (s *Struct) String() string {
	var b strings.Builder
	if s.Name != "" {
		b.WriteString(s.Name)
		if len(s.Args) > 0 {
			b.WriteByte('<')
			for i, a := range s.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(str(a))
			}
			b.WriteByte('>')
		}
		return b.String()
	}
	b.WriteString("struct{")
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(str(f.Type))
	}
	b.WriteByte('}')
	return b.String()
}

// Own is an owning pointer to Elem. Dropping the owner drops the pointee.
type Own struct {
	Elem Type
}

func (o Own) Kind() Kind     { return KindOwn }
func (o Own) String() string { return "own<" + str(o.Elem) + ">" }

// Raw is an unmanaged pointer to Elem.
type Raw struct {
	Elem Type
}

func (r Raw) Kind() Kind     { return KindRaw }
func (r Raw) String() string { return "raw<" + str(r.Elem) + ">" }

// Named refers to a type declared in a Universe. It is how recursive types
// name themselves.
type Named struct {
	Name string
}

func (n Named) Kind() Kind     { return KindNamed }
func (n Named) String() string { return n.Name }

// Vec returns the growable container Vec<elem>: an owned element buffer
// plus length and capacity.
func Vec(elem Type) *Struct {
	return &Struct{
		Name: "Vec",
		Args: []Type{elem},
		Fields: []Field{
			{Name: "buf", Type: Own{Elem: Slice{Elem: elem}}},
			{Name: "len", Type: U32},
			{Name: "cap", Type: U32},
		},
	}
}

// Box returns Box<elem>, a struct holding a single owned elem.
func Box(elem Type) *Struct {
	return &Struct{
		Name:   "Box",
		Args:   []Type{elem},
		Fields: []Field{{Name: "ptr", Type: Own{Elem: elem}}},
	}
}

// Identical reports whether a and b denote the same type.
func Identical(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// IsByte reports whether t is the untyped byte element type.
func IsByte(t Type) bool {
	return t != nil && t.Kind() == KindU8
}

// Pointee returns the element type of a pointer type.
func Pointee(t Type) (elem Type, owning bool, ok bool) {
	switch p := t.(type) {
	case Own:
		return p.Elem, true, true
	case Raw:
		return p.Elem, false, true
	}
	return nil, false, false
}

func str(t Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
