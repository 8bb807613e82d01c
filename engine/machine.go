package engine

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/trimorphdev/cherry/check"
	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/ir"
	"github.com/trimorphdev/cherry/ptr"
)

// binding is the run-time value of a variable.
type binding struct {
	own   *ptr.Owning
	value []byte
	raw   ptr.Raw
	kind  check.PtrKind
}

func (b *binding) pointer() ptr.Raw {
	if b.kind == check.OwningPtr {
		return b.own.Raw()
	}
	return b.raw
}

type frame struct {
	block *ir.Block
	env   map[string]*binding
	names []string
	pc    int
}

func (f *frame) bind(name string, b *binding) {
	if _, ok := f.env[name]; !ok {
		f.names = append(f.names, name)
	}
	f.env[name] = b
}

// Machine executes a checked program one statement at a time. It is not
// safe for concurrent use.
type Machine struct {
	err   error
	prog  *ir.Program
	table *check.Table
	reg   *heap.Registry
	stack []*frame
	steps int
	done  bool
}

// New prepares prog for execution against reg. The table must come from
// check.Check on the same program and carry no errors.
func New(prog *ir.Program, table *check.Table, reg *heap.Registry) (*Machine, error) {
	if reg == nil {
		return nil, errors.NotInitialized(errors.PhaseRun, "registry")
	}
	if table == nil {
		return nil, errors.InvalidInput(errors.PhaseRun, "program was not checked")
	}
	if table.Errors > 0 {
		return nil, errors.Rejected(table.Errors)
	}
	m := &Machine{prog: prog, table: table, reg: reg}
	if prog == nil || prog.Body == nil {
		m.done = true
		return m, nil
	}
	m.push(prog.Body)
	return m, nil
}

// Run executes prog to completion using the decisions in table. Types are
// not checked again.
func Run(ctx context.Context, prog *ir.Program, table *check.Table, reg *heap.Registry) error {
	m, err := New(prog, table, reg)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

// Run executes the remaining statements. Cancellation is observed between
// statements; owners still in scope are dropped before returning.
func (m *Machine) Run(ctx context.Context) error {
	for !m.done {
		if err := ctx.Err(); err != nil {
			m.abort(err)
			return err
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return m.err
}

// Done reports whether the program has finished or failed.
func (m *Machine) Done() bool { return m.done }

// Err returns the error that stopped the program, if any.
func (m *Machine) Err() error { return m.err }

// Steps returns the number of statements executed so far.
func (m *Machine) Steps() int { return m.steps }

// Registry returns the registry the program allocates from.
func (m *Machine) Registry() *heap.Registry { return m.reg }

// Depth returns the number of open scopes.
func (m *Machine) Depth() int { return len(m.stack) }

// Next returns the statement the next Step executes. It returns false when
// the next step closes a scope.
func (m *Machine) Next() (ir.Stmt, bool) {
	if m.done || len(m.stack) == 0 {
		return nil, false
	}
	f := m.stack[len(m.stack)-1]
	if f.pc >= len(f.block.Stmts) {
		return nil, false
	}
	return f.block.Stmts[f.pc], true
}

// Step executes one statement, or closes the innermost scope when its
// statements are exhausted. A failing step drops every owner still in scope
// and ends the program.
func (m *Machine) Step() error {
	if m.done {
		return m.err
	}
	f := m.stack[len(m.stack)-1]
	if f.pc >= len(f.block.Stmts) {
		if err := m.leave(); err != nil {
			m.abort(err)
			return err
		}
		return nil
	}

	s := f.block.Stmts[f.pc]
	f.pc++
	m.steps++
	Logger().Debug("exec",
		zap.Int("step", m.steps),
		zap.String("stmt", fmt.Sprintf("%T", s)),
		zap.Stringer("pos", s.Position()))

	if err := m.exec(s); err != nil {
		m.abort(err)
		return err
	}
	return nil
}

// Pointer returns the raw view of a pointer variable in scope.
func (m *Machine) Pointer(name string) (ptr.Raw, bool) {
	b := m.lookup(name)
	if b == nil || b.kind == check.NotPointer {
		return ptr.Raw{}, false
	}
	return b.pointer(), true
}

// Owning returns an owning pointer variable in scope.
func (m *Machine) Owning(name string) (*ptr.Owning, bool) {
	b := m.lookup(name)
	if b == nil || b.kind != check.OwningPtr {
		return nil, false
	}
	return b.own, true
}

// Value returns a copy of a value variable in scope.
func (m *Machine) Value(name string) ([]byte, bool) {
	b := m.lookup(name)
	if b == nil || b.kind != check.NotPointer {
		return nil, false
	}
	return append([]byte(nil), b.value...), true
}

// Names returns the variables in scope, innermost scope first.
func (m *Machine) Names() []string {
	var out []string
	for i := len(m.stack) - 1; i >= 0; i-- {
		out = append(out, m.stack[i].names...)
	}
	return out
}

func (m *Machine) push(b *ir.Block) {
	m.stack = append(m.stack, &frame{block: b, env: make(map[string]*binding)})
}

func (m *Machine) lookup(name string) *binding {
	for i := len(m.stack) - 1; i >= 0; i-- {
		if b, ok := m.stack[i].env[name]; ok {
			return b
		}
	}
	return nil
}

func (m *Machine) mustLookup(name string, pos ir.Pos) (*binding, error) {
	if b := m.lookup(name); b != nil {
		return b, nil
	}
	return nil, errors.InvalidInput(errors.PhaseRun, fmt.Sprintf("%s: %s is not bound", pos, name))
}

// leave closes the innermost scope, running its drop list.
func (m *Machine) leave() error {
	f := m.stack[len(m.stack)-1]
	err := m.dropAll(m.table.Drops[f.block])
	m.stack = m.stack[:len(m.stack)-1]
	if len(m.stack) == 0 {
		m.done = true
	}
	return err
}

// dropAll drops each entry, resolving Depth against the current stack.
func (m *Machine) dropAll(entries []check.DropEntry) error {
	var first error
	for _, e := range entries {
		idx := len(m.stack) - 1 - e.Depth
		if idx < 0 {
			continue
		}
		b, ok := m.stack[idx].env[e.Name]
		if !ok || b.kind != check.OwningPtr {
			continue
		}
		if err := b.own.Drop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// abort stops the program after err, dropping every owner still in scope
// from the innermost scope outwards, newest first.
func (m *Machine) abort(err error) {
	if m.err == nil {
		m.err = err
	}
	for i := len(m.stack) - 1; i >= 0; i-- {
		f := m.stack[i]
		for j := len(f.names) - 1; j >= 0; j-- {
			if b := f.env[f.names[j]]; b.kind == check.OwningPtr {
				_ = b.own.Drop()
			}
		}
	}
	m.stack = nil
	m.done = true
	Logger().Warn("program aborted", zap.Error(err))
}

func (m *Machine) exec(s ir.Stmt) error {
	f := m.stack[len(m.stack)-1]

	switch s := s.(type) {
	case *ir.Let:
		if a, ok := s.Value.(*ir.Alloc); ok {
			b, err := m.allocate(a)
			if err != nil {
				return err
			}
			f.bind(s.Name, b)
			return nil
		}
		v, err := m.eval(s.Value)
		if err != nil {
			return err
		}
		f.bind(s.Name, &binding{kind: check.NotPointer, value: v})
		return nil

	case *ir.Assign:
		b, err := m.mustLookup(s.Place.Ptr, s.Pos)
		if err != nil {
			return err
		}
		v, err := m.eval(s.Value)
		if err != nil {
			return err
		}
		return b.pointer().Store(s.Place.Index, v)

	case *ir.Realloc:
		b, err := m.mustLookup(s.Ptr, s.Pos)
		if err != nil {
			return err
		}
		n := m.table.Reallocs[s]
		if b.kind == check.OwningPtr {
			return b.own.Reallocate(n)
		}
		return b.raw.Reallocate(n)

	case *ir.Free:
		b, err := m.mustLookup(s.Ptr, s.Pos)
		if err != nil {
			return err
		}
		return b.raw.Deallocate()

	case *ir.Drop:
		b, err := m.mustLookup(s.Ptr, s.Pos)
		if err != nil {
			return err
		}
		return b.own.Drop()

	case *ir.Move:
		b, err := m.mustLookup(s.Src, s.Pos)
		if err != nil {
			return err
		}
		moved := &binding{kind: b.kind, raw: b.raw, value: append([]byte(nil), b.value...)}
		if b.kind == check.OwningPtr {
			if moved.own, err = b.own.Move(); err != nil {
				return err
			}
		}
		f.bind(s.Dst, moved)
		return nil

	case *ir.Scope:
		m.push(s.Body)
		return nil

	case *ir.If:
		switch {
		case s.Cond:
			m.push(s.Then)
		case s.Else != nil:
			m.push(s.Else)
		}
		return nil

	case *ir.Return:
		err := m.dropAll(m.table.Returns[s])
		m.stack = nil
		m.done = true
		return err
	}
	return errors.Unsupported(errors.PhaseRun, fmt.Sprintf("statement %T", s))
}

// allocate performs the allocation decided for a.
func (m *Machine) allocate(a *ir.Alloc) (*binding, error) {
	d, ok := m.table.Decision(a)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseRun, fmt.Sprintf("%s: allocation was not checked", a.Pos))
	}
	raw, err := ptr.AllocateCount(m.reg, d.Elem, d.Count)
	if err != nil {
		return nil, err
	}
	if d.View != nil && d.View != d.Elem {
		raw = raw.As(d.View)
	}
	if d.Kind == check.OwningPtr {
		return &binding{kind: check.OwningPtr, own: ptr.Adopt(raw)}, nil
	}
	return &binding{kind: check.RawPtr, raw: raw}, nil
}

func (m *Machine) eval(e ir.Expr) ([]byte, error) {
	switch e := e.(type) {
	case *ir.Lit:
		out := make([]byte, m.table.Sizes[e])
		copy(out, e.Bytes)
		return out, nil
	case *ir.Var:
		b, err := m.mustLookup(e.Name, e.Pos)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b.value...), nil
	case *ir.Load:
		b, err := m.mustLookup(e.Place.Ptr, e.Pos)
		if err != nil {
			return nil, err
		}
		return b.pointer().Load(e.Place.Index)
	case *ir.SizeOf:
		return binary.LittleEndian.AppendUint32(nil, m.table.Consts[e]), nil
	}
	return nil, errors.Unsupported(errors.PhaseRun, fmt.Sprintf("expression %T", e))
}
