package ir

import (
	"strconv"

	"github.com/trimorphdev/cherry/types"
)

// Pos is a source position. The zero Pos is unknown.
type Pos struct {
	File string
	Line int
	Col  int
}

// Position lets every node embedding Pos satisfy Node.
func (p Pos) Position() Pos { return p }

func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	file := p.File
	if file == "" {
		file = "<input>"
	}
	if !p.IsValid() {
		return file
	}
	return file + ":" + strconv.Itoa(p.Line) + ":" + strconv.Itoa(p.Col)
}

// Node is anything with a position.
type Node interface {
	Position() Pos
}

// Stmt is a statement.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression.
type Expr interface {
	Node
	exprNode()
}

// Program is a checked unit. Universe holds the named types it refers to.
type Program struct {
	Universe *types.Universe
	Body     *Block
	File     string
}

// Block is a lexical scope. Owning pointers declared in it are dropped when
// it ends.
type Block struct {
	Stmts []Stmt
	Pos
}

// Let declares Name. A pointer-typed Let must be initialised by an Alloc;
// a value-typed Let by a Lit, Var or Load. A nil Type is inferred from
// the value.
type Let struct {
	Type  types.Type
	Value Expr
	Name  string
	Pos
}

// Place addresses element Index of the memory a pointer variable refers to.
type Place struct {
	Ptr   string
	Index uint32
}

func (p Place) String() string {
	return p.Ptr + "[" + strconv.FormatUint(uint64(p.Index), 10) + "]"
}

// Assign writes Value into Place.
type Assign struct {
	Value Expr
	Place Place
	Pos
}

// Realloc resizes Ptr to Count elements (bytes for byte pointers).
type Realloc struct {
	Count Expr
	Ptr   string
	Pos
}

// Free deallocates a raw pointer.
type Free struct {
	Ptr string
	Pos
}

// Drop consumes an owning pointer before its scope ends.
type Drop struct {
	Ptr string
	Pos
}

// Move declares Dst and transfers Src into it. Owning sources become
// moved-from; raw sources are copied.
type Move struct {
	Dst string
	Src string
	Pos
}

// Scope is a nested block.
type Scope struct {
	Body *Block
	Pos
}

// If runs Then when Cond holds, Else otherwise. Cond is fixed when the
// program is built; the checker considers both arms.
type If struct {
	Then *Block
	Else *Block
	Cond bool
	Pos
}

// Return leaves the program, unwinding every enclosing scope.
type Return struct {
	Pos
}

func (*Let) stmtNode()     {}
func (*Assign) stmtNode()  {}
func (*Realloc) stmtNode() {}
func (*Free) stmtNode()    {}
func (*Drop) stmtNode()    {}
func (*Move) stmtNode()    {}
func (*Scope) stmtNode()   {}
func (*If) stmtNode()      {}
func (*Return) stmtNode()  {}

// Alloc requests memory. Elem is the explicit type argument; nil means
// byte. Count is the element count, nil meaning one. Bytes marks an
// untyped byte allocation whose Count is a byte count.
type Alloc struct {
	Elem  types.Type
	Count Expr
	Bytes bool
	Pos
}

// Lit is a value of Type given by its little-endian bytes. Shorter byte
// slices are zero-extended to the type's size.
type Lit struct {
	Type  types.Type
	Bytes []byte
	Pos
}

// Var reads a value variable.
type Var struct {
	Name string
	Pos
}

// Load reads one element through a pointer.
type Load struct {
	Place Place
	Pos
}

// SizeOf is the byte size of Type as a u32 constant.
type SizeOf struct {
	Type types.Type
	Pos
}

func (*Alloc) exprNode()  {}
func (*Lit) exprNode()    {}
func (*Var) exprNode()    {}
func (*Load) exprNode()   {}
func (*SizeOf) exprNode() {}

// U32 returns a u32 literal.
func U32(v uint32) *Lit {
	return &Lit{Type: types.U32, Bytes: []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}}
}

// U64 returns a u64 literal.
func U64(v uint64) *Lit {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return &Lit{Type: types.U64, Bytes: b}
}

// Uint decodes a little-endian literal of up to 8 bytes.
func (l *Lit) Uint() (uint64, bool) {
	if len(l.Bytes) > 8 {
		return 0, false
	}
	var v uint64
	for i, b := range l.Bytes {
		v |= uint64(b) << (8 * i)
	}
	return v, true
}
