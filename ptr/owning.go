package ptr

import (
	"go.uber.org/zap"

	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/layout"
)

// State is the lifecycle of an owning pointer.
type State uint8

const (
	StateUninitialized State = iota
	StateLive
	StateMovedFrom
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLive:
		return "live"
	case StateMovedFrom:
		return "moved-from"
	case StateDropped:
		return "dropped"
	}
	return "unknown"
}

// Owning is the single owner of an allocation. Dropping it releases every
// owned allocation reachable through the element's drop plan, then the
// allocation itself. Use it through a pointer; copying an Owning value
// duplicates ownership.
type Owning struct {
	raw   Raw
	state State
}

// NewOwning allocates one zeroed elem.
func NewOwning(reg *heap.Registry, elem *layout.Descriptor) (*Owning, error) {
	return NewOwningCount(reg, elem, 1)
}

// NewOwningBytes allocates n zeroed bytes.
func NewOwningBytes(reg *heap.Registry, n uint32) (*Owning, error) {
	return NewOwningCount(reg, layout.Bytes, n)
}

// NewOwningCount allocates n zeroed elements.
func NewOwningCount(reg *heap.Registry, elem *layout.Descriptor, n uint32) (*Owning, error) {
	raw, err := AllocateCount(reg, elem, n)
	if err != nil {
		return nil, err
	}
	return &Owning{raw: raw, state: StateLive}, nil
}

// Adopt takes ownership of raw. The caller must not deallocate raw or any
// copy of it afterwards.
func Adopt(raw Raw) *Owning {
	if raw.IsNull() {
		return &Owning{}
	}
	return &Owning{raw: raw, state: StateLive}
}

// State returns the current lifecycle state.
func (o *Owning) State() State { return o.state }

// Live reports whether o still owns its allocation.
func (o *Owning) Live() bool { return o.state == StateLive }

// Raw exposes the underlying pointer for byte-level access. Writes through
// it bypass element typing; the drop plan still follows the declared
// element type only.
func (o *Owning) Raw() Raw { return o.raw }

func (o *Owning) Elem() *layout.Descriptor { return o.raw.elem }
func (o *Owning) Count() uint32             { return o.raw.count }
func (o *Owning) Addr() uint32              { return o.raw.region.Addr }
func (o *Owning) Size() uint32              { return o.raw.region.Size }

func (o *Owning) String() string {
	return "own<" + o.raw.elem.String() + ">@" + o.raw.region.String() + " (" + o.state.String() + ")"
}

// Move transfers ownership to a new Owning. o becomes moved-from and its
// Drop turns into a no-op.
func (o *Owning) Move() (*Owning, error) {
	if err := o.use("move"); err != nil {
		return nil, err
	}
	moved := &Owning{raw: o.raw, state: StateLive}
	o.state = StateMovedFrom
	return moved, nil
}

// Reallocate resizes the owned allocation; see Raw.Reallocate. Shrinking
// drops the truncated elements first.
func (o *Owning) Reallocate(n uint32) error {
	if err := o.use("reallocate"); err != nil {
		return err
	}
	var err error
	if elem := o.raw.elem; n < o.raw.count && len(elem.DropPlan) > 0 {
		seen := map[uint32]bool{o.raw.region.Addr: true}
		err = dropContents(o.raw.reg, seen, o.raw.region.Addr+n*elem.Size, elem, o.raw.count-n)
	}
	if rerr := o.raw.Reallocate(n); rerr != nil {
		return rerr
	}
	return err
}

// Drop releases the allocation and everything it owns. Only the first call
// on a live pointer does anything; dropping a moved-from, dropped or
// uninitialized pointer is a no-op.
func (o *Owning) Drop() error {
	if o.state != StateLive {
		return nil
	}
	o.state = StateDropped

	reg := o.raw.reg
	seen := map[uint32]bool{o.raw.region.Addr: true}
	err := dropContents(reg, seen, o.raw.region.Addr, o.raw.elem, o.raw.count)
	if derr := reg.Deallocate(o.raw.region); err == nil {
		err = derr
	}
	heap.Logger().Debug("drop",
		zap.Stringer("ptr", o.raw),
		zap.Uint32("count", o.raw.count))
	return err
}

func (o *Owning) use(op string) error {
	switch o.state {
	case StateLive:
		return nil
	case StateMovedFrom:
		return errors.New(errors.PhaseDrop, errors.KindUseAfterMove).
			Type(o.raw.elem.String()).
			Detail("%s of a moved-from owning pointer", op).
			Build()
	case StateDropped:
		return errors.New(errors.PhaseDrop, errors.KindUseAfterFree).
			Type(o.raw.elem.String()).
			Detail("%s of a dropped owning pointer", op).
			Build()
	default:
		return errors.NotInitialized(errors.PhaseDrop, "owning pointer")
	}
}

// dropContents releases what count consecutive elems starting at addr own,
// following the element drop plan. Null owned addresses are skipped. seen
// holds the regions already being dropped; an owned address pointing back
// into one of them is a fault.
func dropContents(reg *heap.Registry, seen map[uint32]bool, addr uint32, elem *layout.Descriptor, count uint32) error {
	if elem == nil || len(elem.DropPlan) == 0 {
		return nil
	}
	mem := reg.Memory()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for i := uint32(0); i < count; i++ {
		base := addr + i*elem.Size
		for _, step := range elem.DropPlan {
			owned, err := mem.ReadU32(base + step.Offset)
			if err != nil {
				keep(err)
				continue
			}
			if owned == 0 {
				continue
			}

			region, ok := reg.Lookup(owned)
			if !ok {
				keep(reg.Fault(errors.Fault(errors.KindUseAfterFree, owned,
					"owned field "+step.Path+" of "+elem.String()+" is not live")))
				continue
			}
			if seen[region.Addr] {
				keep(reg.Fault(errors.Fault(errors.KindDoubleFree, owned,
					"owned field "+step.Path+" of "+elem.String()+" points back into a region being dropped")))
				continue
			}
			seen[region.Addr] = true

			target := step.Target()
			if target.Unsized {
				n := uint32(0)
				if target.Elem.Size > 0 {
					n = region.Size / target.Elem.Size
				}
				keep(dropContents(reg, seen, owned, target.Elem, n))
			} else {
				keep(dropContents(reg, seen, owned, target, 1))
			}
			keep(reg.Deallocate(region))
		}
	}
	return first
}
