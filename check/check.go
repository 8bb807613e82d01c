package check

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/trimorphdev/cherry/diag"
	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/internal/abi"
	"github.com/trimorphdev/cherry/ir"
	"github.com/trimorphdev/cherry/layout"
	"github.com/trimorphdev/cherry/types"
)

type varState uint8

const (
	stLive varState = iota
	stMoved
	stDropped
	stFreed
	stMaybeMoved
	stMaybeDropped
	stMaybeFreed
	stPoisoned
)

// maybe is the state of a variable that is live on one path and s on the
// other.
func (s varState) maybe() varState {
	switch s {
	case stMoved:
		return stMaybeMoved
	case stDropped:
		return stMaybeDropped
	case stFreed:
		return stMaybeFreed
	}
	return s
}

type variable struct {
	name string
	kind PtrKind
	typ  types.Type
	desc *layout.Descriptor // element layout for pointers, value layout otherwise
	decl ir.Pos
}

type scope struct {
	parent *scope
	names  map[string]*variable
	vars   []*variable
}

func (s *scope) lookup(name string) *variable {
	for ; s != nil; s = s.parent {
		if v, ok := s.names[name]; ok {
			return v
		}
	}
	return nil
}

type checker struct {
	res   *layout.Resolver
	sink  diag.Sink
	table *Table
	file  string
	scope *scope
	flow  map[*variable]varState
	dead  bool
}

// Check validates prog and returns the side table the engine runs from.
// Diagnostics go to sink; the returned table counts them. A nil res uses a
// fresh resolver over prog.Universe.
func Check(prog *ir.Program, res *layout.Resolver, sink diag.Sink) *Table {
	if sink == nil {
		sink = &diag.List{}
	}
	c := &checker{
		sink:  sink,
		table: newTable(),
		flow:  make(map[*variable]varState),
	}
	if prog == nil || prog.Body == nil {
		return c.table
	}
	if res == nil {
		res = layout.NewResolver(prog.Universe)
	}
	c.res = res
	c.file = prog.File
	c.block(prog.Body)
	return c.table
}

func (c *checker) report(sev diag.Severity, code diag.Code, pos ir.Pos, msg, label string, notes ...string) {
	if pos.File == "" {
		pos.File = c.file
	}
	switch sev {
	case diag.SeverityError:
		c.table.Errors++
	case diag.SeverityWarning:
		c.table.Warnings++
	}
	c.sink.Report(diag.Diagnostic{
		Severity: sev,
		Code:     code,
		Pos:      pos,
		Message:  msg,
		Label:    label,
		Notes:    notes,
	})
}

func (c *checker) errorf(code diag.Code, pos ir.Pos, label, format string, args ...any) {
	c.report(diag.SeverityError, code, pos, fmt.Sprintf(format, args...), label)
}

func (c *checker) layoutError(pos ir.Pos, t types.Type, err error) {
	label := err.Error()
	if e, ok := err.(*errors.Error); ok && e.Detail != "" {
		label = e.Detail
	}
	if pos.File == "" {
		pos.File = c.file
	}
	c.table.Errors++
	c.sink.Report(diag.Diagnostic{
		Severity: diag.SeverityError,
		Code:     diag.LayoutError,
		Pos:      pos,
		Message:  fmt.Sprintf("cannot lay out %s", typeName(t)),
		Label:    label,
		Cause:    err,
	})
}

func (c *checker) block(b *ir.Block) {
	c.scope = &scope{parent: c.scope, names: make(map[string]*variable)}
	defer func() { c.scope = c.scope.parent }()

	warned := false
	for _, s := range b.Stmts {
		if c.dead {
			if !warned {
				c.report(diag.SeverityWarning, diag.Unreachable, s.Position(), "unreachable statement", "")
				warned = true
			}
			continue
		}
		c.stmt(s)
	}
	c.table.Drops[b] = c.dropList(c.scope, 0)
}

// dropList returns the owners of s still needing a drop, newest first.
func (c *checker) dropList(s *scope, depth int) []DropEntry {
	var out []DropEntry
	for _, v := range slices.Backward(s.vars) {
		if v.kind != OwningPtr {
			continue
		}
		switch c.flow[v] {
		case stLive:
			out = append(out, DropEntry{Name: v.name, Depth: depth})
		case stMaybeMoved, stMaybeDropped:
			out = append(out, DropEntry{Name: v.name, Depth: depth, Conditional: true})
		}
	}
	return out
}

func (c *checker) stmt(s ir.Stmt) {
	switch s := s.(type) {
	case *ir.Let:
		if a, ok := s.Value.(*ir.Alloc); ok {
			c.letAlloc(s, a)
		} else {
			c.letValue(s)
		}
	case *ir.Assign:
		c.assign(s)
	case *ir.Realloc:
		c.realloc(s)
	case *ir.Free:
		c.free(s)
	case *ir.Drop:
		c.drop(s)
	case *ir.Move:
		c.move(s)
	case *ir.Scope:
		c.block(s.Body)
	case *ir.If:
		c.branch(s)
	case *ir.Return:
		var entries []DropEntry
		depth := 0
		for sc := c.scope; sc != nil; sc = sc.parent {
			entries = append(entries, c.dropList(sc, depth)...)
			depth++
		}
		c.table.Returns[s] = entries
		c.dead = true
	default:
		c.errorf(diag.InvalidOperation, s.Position(), "", "unsupported statement %T", s)
	}
}

func (c *checker) declare(name string, pos ir.Pos, v *variable, st varState) bool {
	if prev, ok := c.scope.names[name]; ok {
		c.report(diag.SeverityError, diag.InvalidOperation, pos,
			fmt.Sprintf("%s is already declared in this scope", name), "redeclared here",
			"previous declaration at "+prev.decl.String())
		return false
	}
	v.name = name
	v.decl = pos
	c.scope.names[name] = v
	c.scope.vars = append(c.scope.vars, v)
	c.flow[v] = st
	return true
}

// poison declares name so later uses stay quiet after a reported error.
func (c *checker) poison(name string, pos ir.Pos) {
	if _, ok := c.scope.names[name]; ok {
		return
	}
	c.declare(name, pos, &variable{}, stPoisoned)
}

func (c *checker) letAlloc(s *ir.Let, a *ir.Alloc) {
	inferred := a.Elem
	if a.Bytes || inferred == nil {
		inferred = types.Byte
	}

	kind := RawPtr
	declared := inferred
	if s.Type != nil {
		elem, owning, ok := types.Pointee(s.Type)
		if !ok {
			c.errorf(diag.InvalidOperation, s.Pos, "expected a pointer type",
				"allocation cannot initialise %s of type %s", s.Name, s.Type)
			c.poison(s.Name, s.Pos)
			return
		}
		if owning {
			kind = OwningPtr
		}
		declared = elem
	}

	elemDesc, err := c.res.LayoutOf(inferred)
	if err != nil {
		c.layoutError(a.Pos, inferred, err)
		c.poison(s.Name, s.Pos)
		return
	}
	view := elemDesc
	if !types.Identical(declared, inferred) {
		view, err = c.res.LayoutOf(declared)
		if err != nil {
			c.layoutError(s.Pos, declared, err)
			c.poison(s.Name, s.Pos)
			return
		}
		if view != elemDesc && !view.IsByte() {
			c.report(diag.SeverityError, diag.TypeMismatch, a.Pos,
				fmt.Sprintf("allocation of %s cannot initialise %s", inferred, s.Type),
				fmt.Sprintf("expected %s, found %s", declared, inferred))
			c.poison(s.Name, s.Pos)
			return
		}
	}

	count, ok := c.count(a.Count, elemDesc, a.Pos)
	if !ok {
		c.poison(s.Name, s.Pos)
		return
	}

	c.table.Allocs[a] = Decision{Elem: elemDesc, View: view, Kind: kind, Count: count}
	c.declare(s.Name, s.Pos, &variable{kind: kind, typ: declared, desc: view}, stLive)
}

// count folds a count expression and checks count × elem.Size fits the
// address space. A nil expression is one element.
func (c *checker) count(e ir.Expr, elem *layout.Descriptor, pos ir.Pos) (uint32, bool) {
	n := uint64(1)
	switch e := e.(type) {
	case nil:
	case *ir.Lit:
		if e.Type == nil || !isInteger(e.Type.Kind()) {
			c.errorf(diag.InvalidOperation, e.Pos, "expected an integer", "count must be an integer constant")
			return 0, false
		}
		v, ok := e.Uint()
		if !ok {
			c.errorf(diag.InvalidOperation, e.Pos, "", "count literal is wider than 64 bits")
			return 0, false
		}
		n = v
	case *ir.SizeOf:
		d, err := c.res.LayoutOf(e.Type)
		if err != nil {
			c.layoutError(e.Pos, e.Type, err)
			return 0, false
		}
		n = uint64(d.Size)
	default:
		c.errorf(diag.InvalidOperation, e.Position(), "not a constant", "count must be a constant")
		return 0, false
	}

	if n > math.MaxUint32 {
		c.report(diag.SeverityError, diag.OutOfMemory, pos,
			fmt.Sprintf("allocation of %d elements of %s can never succeed", n, elem.Type),
			"count exceeds the 32-bit address space")
		return 0, false
	}
	if _, ok := abi.SafeMulU32(uint32(n), elem.Size); !ok {
		c.report(diag.SeverityError, diag.OutOfMemory, pos,
			fmt.Sprintf("allocation of %d elements of %s can never succeed", n, elem.Type),
			fmt.Sprintf("%d × %d bytes exceeds the 32-bit address space", n, elem.Size))
		return 0, false
	}
	if e != nil {
		c.table.Consts[e] = uint32(n)
	}
	return uint32(n), true
}

func (c *checker) letValue(s *ir.Let) {
	if _, _, ok := types.Pointee(s.Type); ok {
		c.errorf(diag.InvalidOperation, s.Pos, "pointers come from allocations or moves",
			"%s of type %s must be initialised by an allocation", s.Name, s.Type)
		c.poison(s.Name, s.Pos)
		return
	}
	typ, desc, ok := c.value(s.Value)
	if !ok {
		c.poison(s.Name, s.Pos)
		return
	}
	if s.Type != nil && !c.same(s.Type, typ, desc) {
		c.report(diag.SeverityError, diag.TypeMismatch, s.Value.Position(),
			fmt.Sprintf("cannot initialise %s of type %s with %s", s.Name, s.Type, typ),
			fmt.Sprintf("expected %s, found %s", s.Type, typ))
		c.poison(s.Name, s.Pos)
		return
	}
	c.declare(s.Name, s.Pos, &variable{kind: NotPointer, typ: typ, desc: desc}, stLive)
}

// same reports whether t names the type described by d.
func (c *checker) same(t, u types.Type, d *layout.Descriptor) bool {
	if types.Identical(t, u) {
		return true
	}
	td, err := c.res.LayoutOf(t)
	return err == nil && td == d
}

// value types a value expression.
func (c *checker) value(e ir.Expr) (types.Type, *layout.Descriptor, bool) {
	switch e := e.(type) {
	case *ir.Lit:
		if e.Type == nil {
			c.errorf(diag.InvalidOperation, e.Pos, "", "literal has no type")
			return nil, nil, false
		}
		d, err := c.res.LayoutOf(e.Type)
		if err != nil {
			c.layoutError(e.Pos, e.Type, err)
			return nil, nil, false
		}
		if uint64(len(e.Bytes)) > uint64(d.Size) {
			c.errorf(diag.TypeMismatch, e.Pos, fmt.Sprintf("%d bytes", len(e.Bytes)),
				"literal does not fit in %s (%d bytes)", e.Type, d.Size)
			return nil, nil, false
		}
		c.table.Sizes[e] = d.Size
		return e.Type, d, true

	case *ir.Var:
		v := c.scope.lookup(e.Name)
		if v == nil {
			c.errorf(diag.InvalidOperation, e.Pos, "not found in this scope", "undefined variable %s", e.Name)
			return nil, nil, false
		}
		if c.flow[v] == stPoisoned {
			return nil, nil, false
		}
		if v.kind != NotPointer {
			c.errorf(diag.InvalidOperation, e.Pos, "use a move or a load",
				"pointer %s cannot be used as a value", e.Name)
			return nil, nil, false
		}
		if v.desc.OwnsNested {
			// a value owning allocations moves on use
			switch c.flow[v] {
			case stMoved, stMaybeMoved:
				c.report(diag.SeverityError, diag.UseAfterMove, e.Pos,
					fmt.Sprintf("use of moved value %s", e.Name), "value used after move",
					fmt.Sprintf("%s owns nested allocations, so using it transfers them", v.typ))
				c.flow[v] = stPoisoned
				return nil, nil, false
			}
			c.flow[v] = stMoved
		}
		c.table.Sizes[e] = v.desc.Size
		return v.typ, v.desc, true

	case *ir.Load:
		v := c.usePtr(e.Place.Ptr, e.Pos, "load through")
		if v == nil {
			return nil, nil, false
		}
		if v.desc.OwnsNested {
			c.report(diag.SeverityError, diag.InvalidOperation, e.Pos,
				fmt.Sprintf("cannot copy %s out of %s", v.typ, e.Place),
				"the copy would share nested allocations with the original",
				fmt.Sprintf("%s owns nested allocations; move the pointer instead", v.typ))
			return nil, nil, false
		}
		c.table.Sizes[e] = v.desc.Size
		return v.typ, v.desc, true

	case *ir.SizeOf:
		d, err := c.res.LayoutOf(e.Type)
		if err != nil {
			c.layoutError(e.Pos, e.Type, err)
			return nil, nil, false
		}
		c.table.Consts[e] = d.Size
		c.table.Sizes[e] = 4
		u, _ := c.res.LayoutOf(types.U32)
		return types.U32, u, true

	case *ir.Alloc:
		c.errorf(diag.InvalidOperation, e.Pos, "", "allocation result must be bound with let")
		return nil, nil, false

	case nil:
		c.errorf(diag.InvalidOperation, ir.Pos{}, "", "missing value")
		return nil, nil, false
	}
	c.errorf(diag.InvalidOperation, e.Position(), "", "unsupported expression %T", e)
	return nil, nil, false
}

// usePtr looks up a pointer variable and reports any state that forbids
// using it. It returns nil after reporting.
func (c *checker) usePtr(name string, pos ir.Pos, op string) *variable {
	v := c.scope.lookup(name)
	if v == nil {
		c.errorf(diag.InvalidOperation, pos, "not found in this scope", "undefined pointer %s", name)
		return nil
	}
	st := c.flow[v]
	if st == stPoisoned {
		return nil
	}
	if v.kind == NotPointer {
		c.errorf(diag.InvalidOperation, pos, "", "cannot %s %s: not a pointer", op, name)
		return nil
	}
	switch st {
	case stMoved:
		c.report(diag.SeverityError, diag.UseAfterMove, pos,
			fmt.Sprintf("cannot %s %s after it was moved", op, name), "value used after move",
			"ownership was transferred to another owner")
	case stMaybeMoved:
		c.report(diag.SeverityError, diag.UseAfterMove, pos,
			fmt.Sprintf("cannot %s %s: it may have been moved", op, name), "value possibly moved",
			"one branch transfers ownership")
	case stDropped, stMaybeDropped:
		c.report(diag.SeverityError, diag.UseAfterFree, pos,
			fmt.Sprintf("cannot %s %s after it was dropped", op, name), "value used after drop")
	case stFreed, stMaybeFreed:
		c.report(diag.SeverityError, diag.UseAfterFree, pos,
			fmt.Sprintf("cannot %s %s after it was freed", op, name), "value used after free")
	default:
		return v
	}
	// one report per variable
	c.flow[v] = stPoisoned
	return nil
}

func (c *checker) assign(s *ir.Assign) {
	v := c.usePtr(s.Place.Ptr, s.Pos, "write through")
	typ, desc, ok := c.value(s.Value)
	if v == nil || !ok {
		return
	}
	if c.same(v.typ, typ, desc) {
		return
	}
	if v.desc.IsByte() && !desc.OwnsNested {
		return
	}

	d := diag.Diagnostic{
		Severity: diag.SeverityError,
		Code:     diag.TypeMismatch,
		Pos:      s.Pos,
		Message:  fmt.Sprintf("cannot store %s into %s", typ, s.Place),
		Label:    fmt.Sprintf("expected %s, found %s", v.typ, typ),
	}
	if v.desc.IsByte() {
		d.Notes = []string{
			fmt.Sprintf("%s owns nested allocations that a byte pointer cannot drop", typ),
			fmt.Sprintf("allocate with an explicit type argument: alloc<%s>()", typ),
		}
	}
	if d.Pos.File == "" {
		d.Pos.File = c.file
	}
	c.table.Errors++
	c.sink.Report(d)
}

func (c *checker) realloc(s *ir.Realloc) {
	v := c.usePtr(s.Ptr, s.Pos, "reallocate")
	if v == nil {
		return
	}
	n, ok := c.count(s.Count, v.desc, s.Pos)
	if !ok {
		return
	}
	c.table.Reallocs[s] = n
}

func (c *checker) free(s *ir.Free) {
	if v := c.scope.lookup(s.Ptr); v != nil && v.kind == OwningPtr {
		c.report(diag.SeverityError, diag.InvalidOperation, s.Pos,
			fmt.Sprintf("cannot free owning pointer %s", s.Ptr), "owned memory is released by its owner",
			fmt.Sprintf("use drop(%s) to release it before the scope ends", s.Ptr))
		return
	}
	v := c.usePtr(s.Ptr, s.Pos, "free")
	if v == nil {
		return
	}
	c.flow[v] = stFreed
}

func (c *checker) drop(s *ir.Drop) {
	if v := c.scope.lookup(s.Ptr); v != nil && v.kind == RawPtr {
		c.report(diag.SeverityError, diag.InvalidOperation, s.Pos,
			fmt.Sprintf("cannot drop raw pointer %s", s.Ptr), "raw pointers own nothing",
			fmt.Sprintf("use free(%s) to release it", s.Ptr))
		return
	}
	v := c.usePtr(s.Ptr, s.Pos, "drop")
	if v == nil {
		return
	}
	c.flow[v] = stDropped
}

func (c *checker) move(s *ir.Move) {
	v := c.usePtr(s.Src, s.Pos, "move")
	if v == nil {
		c.poison(s.Dst, s.Pos)
		return
	}
	if !c.declare(s.Dst, s.Pos, &variable{kind: v.kind, typ: v.typ, desc: v.desc}, stLive) {
		return
	}
	if v.kind == OwningPtr {
		c.flow[v] = stMoved
	}
}

func (c *checker) branch(s *ir.If) {
	before := cloneFlow(c.flow)

	c.block(s.Then)
	thenFlow, thenDead := c.flow, c.dead

	c.flow, c.dead = before, false
	if s.Else != nil {
		c.block(s.Else)
	}
	elseFlow, elseDead := c.flow, c.dead

	switch {
	case thenDead && elseDead:
		c.flow, c.dead = elseFlow, true
	case thenDead:
		c.flow, c.dead = elseFlow, false
	case elseDead:
		c.flow, c.dead = thenFlow, false
	default:
		c.flow, c.dead = mergeFlow(thenFlow, elseFlow), false
	}
}

func cloneFlow(m map[*variable]varState) map[*variable]varState {
	return maps.Clone(m)
}

func isInteger(k types.Kind) bool {
	return k.IsScalar() && k != types.KindBool && k != types.KindF32 && k != types.KindF64
}

// mergeFlow joins the states of two paths. Variables declared inside a
// branch are out of scope afterwards and carried over unchanged.
func mergeFlow(a, b map[*variable]varState) map[*variable]varState {
	out := cloneFlow(a)
	for v, sb := range b {
		sa, ok := a[v]
		switch {
		case !ok || sa == sb:
			out[v] = sb
		case sa == stPoisoned || sb == stPoisoned:
			out[v] = stPoisoned
		case sa == stLive:
			out[v] = sb.maybe()
		case sb == stLive:
			out[v] = sa.maybe()
		default:
			// dead on both paths, in different ways
			out[v] = sa
		}
	}
	return out
}

func typeName(t types.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
