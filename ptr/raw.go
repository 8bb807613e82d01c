package ptr

import (
	"github.com/trimorphdev/cherry"
	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/internal/abi"
	"github.com/trimorphdev/cherry/layout"
)

// Raw is an unmanaged pointer to Count elements of Elem. Copying or
// discarding a Raw never releases memory; Deallocate must be called
// explicitly, exactly once.
type Raw struct {
	reg    *heap.Registry
	elem   *layout.Descriptor
	region heap.Region
	count  uint32
}

// Allocate reserves one zeroed elem.
func Allocate(reg *heap.Registry, elem *layout.Descriptor) (Raw, error) {
	return AllocateCount(reg, elem, 1)
}

// AllocateBytes reserves n zeroed bytes.
func AllocateBytes(reg *heap.Registry, n uint32) (Raw, error) {
	return AllocateCount(reg, layout.Bytes, n)
}

// AllocateCount reserves n zeroed elements. A nil elem means bytes. A
// count whose byte size does not fit the address space is reported as
// OutOfMemory.
func AllocateCount(reg *heap.Registry, elem *layout.Descriptor, n uint32) (Raw, error) {
	if reg == nil {
		return Raw{}, errors.NotInitialized(errors.PhaseAlloc, "registry")
	}
	if elem == nil {
		elem = layout.Bytes
	}
	if elem.Unsized {
		return Raw{}, errors.Layout(errors.KindUnsized, nil, elem.String(), "cannot allocate an unsized element")
	}

	size, ok := abi.SafeMulU32(n, elem.Size)
	if !ok {
		return Raw{}, errors.OutOfMemory(0, elem.Align,
			errors.Overflow(errors.PhaseAlloc, nil, n, elem.Size))
	}

	region, err := reg.Allocate(size, max(elem.Align, 1))
	if err != nil {
		return Raw{}, err
	}
	return Raw{reg: reg, elem: elem, region: region, count: n}, nil
}

// Deallocate releases the memory. Copies of the pointer dangle afterwards;
// deallocating any of them again faults.
func (p Raw) Deallocate() error {
	if p.reg == nil {
		return errors.NotInitialized(errors.PhaseAlloc, "raw pointer")
	}
	return p.reg.Deallocate(p.region)
}

// Reallocate resizes the allocation to n elements, or n bytes when the
// element is the byte type. The first min(old, new) bytes are preserved.
// On failure p is unchanged and still valid.
func (p *Raw) Reallocate(n uint32) error {
	if p.reg == nil {
		return errors.NotInitialized(errors.PhaseAlloc, "raw pointer")
	}
	size, ok := abi.SafeMulU32(n, p.elem.Size)
	if !ok {
		return errors.OutOfMemory(0, p.region.Align,
			errors.Overflow(errors.PhaseAlloc, nil, n, p.elem.Size))
	}
	region, err := p.reg.Reallocate(p.region, size)
	if err != nil {
		return err
	}
	p.region = region
	p.count = n
	return nil
}

// Size returns the allocation size in bytes.
func (p Raw) Size() uint32 { return p.region.Size }

// Align returns the allocation alignment.
func (p Raw) Align() uint32 { return p.region.Align }

// Count returns the number of elements.
func (p Raw) Count() uint32 { return p.count }

// Addr returns the address of the first element.
func (p Raw) Addr() uint32 { return p.region.Addr }

// Elem returns the element layout.
func (p Raw) Elem() *layout.Descriptor { return p.elem }

// As reinterprets the memory as elements of elem. The count is recomputed
// from the region size. Nothing about the memory changes; in particular an
// owning pointer adopting the result drops through elem's plan only.
func (p Raw) As(elem *layout.Descriptor) Raw {
	if elem == nil {
		elem = layout.Bytes
	}
	q := p
	q.elem = elem
	if elem.Size > 0 {
		q.count = p.region.Size / elem.Size
	}
	return q
}

// Region returns the underlying registry region.
func (p Raw) Region() heap.Region { return p.region }

// Registry returns the registry the memory came from.
func (p Raw) Registry() *heap.Registry { return p.reg }

// IsNull reports whether p points nowhere.
func (p Raw) IsNull() bool { return p.region.IsNull() }

func (p Raw) String() string {
	return "raw<" + p.elem.String() + ">@" + p.region.String()
}

// Offset returns the address of element i.
func (p Raw) Offset(i uint32) uint32 {
	return p.region.Addr + i*p.elem.Size
}

func (p Raw) memory() cherry.Memory {
	return p.reg.Memory()
}

// Store writes data at element i. data may be longer or shorter than one
// element; only linear memory bounds are enforced.
func (p Raw) Store(i uint32, data []byte) error {
	return p.memory().Write(p.Offset(i), data)
}

// Load reads element i.
func (p Raw) Load(i uint32) ([]byte, error) {
	return p.memory().Read(p.Offset(i), p.elem.Size)
}

// StoreU64 writes v little-endian at element i.
func (p Raw) StoreU64(i uint32, v uint64) error {
	return p.memory().WriteU64(p.Offset(i), v)
}

// LoadU64 reads a little-endian u64 at element i.
func (p Raw) LoadU64(i uint32) (uint64, error) {
	return p.memory().ReadU64(p.Offset(i))
}

// StoreU32 writes v little-endian at byte offset off from the start.
func (p Raw) StoreU32(off uint32, v uint32) error {
	return p.memory().WriteU32(p.region.Addr+off, v)
}

// LoadU32 reads a little-endian u32 at byte offset off from the start.
func (p Raw) LoadU32(off uint32) (uint32, error) {
	return p.memory().ReadU32(p.region.Addr + off)
}

// StoreAddr writes an address into the pointer field at byte offset off.
func (p Raw) StoreAddr(off uint32, addr uint32) error {
	return p.StoreU32(off, addr)
}

// LoadAddr reads the pointer field at byte offset off.
func (p Raw) LoadAddr(off uint32) (uint32, error) {
	return p.LoadU32(off)
}

// Bytes returns a copy of the whole allocation.
func (p Raw) Bytes() ([]byte, error) {
	return p.memory().Read(p.region.Addr, p.region.Size)
}
