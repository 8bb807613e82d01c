package layout

import (
	"strconv"
	"sync"

	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/internal/abi"
	"github.com/trimorphdev/cherry/types"
)

// PointerSize is the width of every pointer in the wasm32 data model.
const PointerSize = 4

// Resolver computes and caches descriptors. It is safe for concurrent use.
type Resolver struct {
	universe *types.Universe
	cache    map[string]*Descriptor
	mu       sync.Mutex
}

// NewResolver creates a resolver that looks named types up in u. A nil
// universe treats every Named reference as unknown.
func NewResolver(u *types.Universe) *Resolver {
	return &Resolver{
		universe: u,
		cache:    make(map[string]*Descriptor),
	}
}

// LayoutOf returns the descriptor for t. Repeated calls for identical types
// return the same descriptor.
func (r *Resolver) LayoutOf(t types.Type) (*Descriptor, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseLayout, "nil type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &session{r: r, active: make(map[string]bool)}
	d, err := s.resolve(t, nil)
	if err == nil {
		err = s.finish()
	}
	if err != nil {
		for _, k := range s.added {
			delete(r.cache, k)
		}
		return nil, err
	}
	return d, nil
}

// SizeOf returns the byte size of t.
func (r *Resolver) SizeOf(t types.Type) (uint32, error) {
	d, err := r.LayoutOf(t)
	if err != nil {
		return 0, err
	}
	return d.Size, nil
}

// AlignOf returns the alignment of t.
func (r *Resolver) AlignOf(t types.Type) (uint32, error) {
	d, err := r.LayoutOf(t)
	if err != nil {
		return 0, err
	}
	return d.Align, nil
}

type pendingPointee struct {
	ptr  *Descriptor
	elem types.Type
	path []string
}

// session is one top-level LayoutOf call. Pointees are resolved after the
// enclosing type so that own<Self> terminates.
type session struct {
	r       *Resolver
	active  map[string]bool
	added   []string
	pending []pendingPointee
}

func (s *session) store(key string, d *Descriptor) {
	s.r.cache[key] = d
	s.added = append(s.added, key)
}

func (s *session) finish() error {
	for len(s.pending) > 0 {
		p := s.pending[0]
		s.pending = s.pending[1:]

		// each pointee is a fresh top level for containment purposes
		s.active = make(map[string]bool)
		d, err := s.resolvePointee(p.elem, p.path)
		if err != nil {
			return err
		}
		p.ptr.Pointee = d
	}
	return nil
}

func (s *session) resolvePointee(t types.Type, path []string) (*Descriptor, error) {
	sl, ok := t.(types.Slice)
	if !ok {
		return s.resolve(t, path)
	}

	key := "*" + sl.String()
	if d, ok := s.r.cache[key]; ok {
		return d, nil
	}
	elem, err := s.resolve(sl.Elem, append(path, "[]"))
	if err != nil {
		return nil, err
	}
	d := &Descriptor{
		Type:       sl,
		Elem:       elem,
		Align:      elem.Align,
		Unsized:    true,
		OwnsNested: elem.OwnsNested,
	}
	s.store(key, d)
	return d, nil
}

func (s *session) resolve(t types.Type, path []string) (*Descriptor, error) {
	if t == nil {
		return nil, errors.Layout(errors.KindIncomplete, path, "<nil>", "missing type")
	}

	key := t.String()
	if d, ok := s.r.cache[key]; ok {
		return d, nil
	}

	switch typ := t.(type) {
	case types.Scalar:
		return s.scalar(typ, key, path)
	case types.Own:
		d := &Descriptor{
			Type:       typ,
			Size:       PointerSize,
			Align:      PointerSize,
			OwnsNested: true,
		}
		d.DropPlan = []DropStep{{Ptr: d}}
		s.store(key, d)
		s.pending = append(s.pending, pendingPointee{ptr: d, elem: typ.Elem, path: clonePath(path)})
		return d, nil
	case types.Raw:
		d := &Descriptor{Type: typ, Size: PointerSize, Align: PointerSize}
		s.store(key, d)
		return d, nil
	case types.Slice:
		return nil, errors.Layout(errors.KindUnsized, path, key, "slice has no static size; place it behind a pointer")
	case types.Array:
		return s.array(typ, key, path)
	case *types.Struct:
		return s.record(typ, key, path)
	case types.Named:
		return s.named(typ, path)
	default:
		return nil, errors.Layout(errors.KindUnsupported, path, key, "unsupported type kind "+t.Kind().String())
	}
}

func (s *session) scalar(t types.Scalar, key string, path []string) (*Descriptor, error) {
	var size uint32
	switch t.K {
	case types.KindBool, types.KindU8, types.KindS8:
		size = 1
	case types.KindU16, types.KindS16:
		size = 2
	case types.KindU32, types.KindS32, types.KindF32:
		size = 4
	case types.KindU64, types.KindS64, types.KindF64:
		size = 8
	default:
		return nil, errors.Layout(errors.KindUnsupported, path, key, "not a scalar kind")
	}
	d := &Descriptor{Type: t, Size: size, Align: size}
	s.store(key, d)
	return d, nil
}

func (s *session) array(t types.Array, key string, path []string) (*Descriptor, error) {
	if s.active[key] {
		return nil, errors.Layout(errors.KindInfiniteSize, path, key, "type contains itself without indirection")
	}
	s.active[key] = true
	defer delete(s.active, key)

	elem, err := s.resolve(t.Elem, append(path, "[]"))
	if err != nil {
		return nil, err
	}

	size, ok := abi.SafeMulU32(t.Len, elem.Size)
	if !ok {
		return nil, errors.Overflow(errors.PhaseLayout, clonePath(path), t.Len, elem.Size)
	}

	d := &Descriptor{
		Type:       t,
		Elem:       elem,
		Count:      t.Len,
		Size:       size,
		Align:      elem.Align,
		OwnsNested: elem.OwnsNested,
	}
	if len(elem.DropPlan) > 0 {
		for i := uint32(0); i < t.Len; i++ {
			base := i * elem.Size
			prefix := "[" + strconv.FormatUint(uint64(i), 10) + "]"
			for _, st := range elem.DropPlan {
				d.DropPlan = append(d.DropPlan, DropStep{
					Ptr:    st.Ptr,
					Offset: base + st.Offset,
					Path:   joinPath(prefix, st.Path),
				})
			}
		}
	}
	s.store(key, d)
	return d, nil
}

func (s *session) record(t *types.Struct, key string, path []string) (*Descriptor, error) {
	if s.active[key] {
		return nil, errors.Layout(errors.KindInfiniteSize, path, key, "type contains itself without indirection")
	}
	s.active[key] = true
	defer delete(s.active, key)

	d := &Descriptor{Type: t, Align: 1}
	offset := uint32(0)

	for _, f := range t.Fields {
		fd, err := s.resolve(f.Type, append(path, f.Name))
		if err != nil {
			return nil, err
		}

		var ok bool
		if offset, ok = abi.SafeAlignTo(offset, fd.Align); !ok {
			return nil, errors.Overflow(errors.PhaseLayout, append(clonePath(path), f.Name), 1, fd.Size)
		}
		d.Fields = append(d.Fields, Field{Name: f.Name, Desc: fd, Offset: offset})

		if fd.Align > d.Align {
			d.Align = fd.Align
		}
		if fd.OwnsNested {
			d.OwnsNested = true
		}
		for _, st := range fd.DropPlan {
			d.DropPlan = append(d.DropPlan, DropStep{
				Ptr:    st.Ptr,
				Offset: offset + st.Offset,
				Path:   joinPath(f.Name, st.Path),
			})
		}

		if offset, ok = abi.SafeAddU32(offset, fd.Size); !ok {
			return nil, errors.Overflow(errors.PhaseLayout, append(clonePath(path), f.Name), 1, fd.Size)
		}
	}

	size, ok := abi.SafeAlignTo(offset, d.Align)
	if !ok {
		return nil, errors.Overflow(errors.PhaseLayout, clonePath(path), 1, offset)
	}
	d.Size = size

	s.store(key, d)
	return d, nil
}

func (s *session) named(t types.Named, path []string) (*Descriptor, error) {
	def, declared := s.r.universe.Lookup(t.Name)
	if def == nil {
		detail := "unknown type"
		if declared {
			detail = "declared but never defined"
		}
		return nil, errors.Layout(errors.KindIncomplete, path, t.Name, detail)
	}

	// alias chains are tracked apart from the structs they end in
	if _, alias := def.(types.Named); alias {
		ak := "=" + t.Name
		if s.active[ak] {
			return nil, errors.Layout(errors.KindInfiniteSize, path, t.Name, "type alias refers to itself")
		}
		s.active[ak] = true
		defer delete(s.active, ak)
	}

	d, err := s.resolve(def, path)
	if err != nil {
		return nil, err
	}
	if _, ok := s.r.cache[t.Name]; !ok {
		s.store(t.Name, d)
	}
	return d, nil
}

func joinPath(prefix, rest string) string {
	switch {
	case rest == "":
		return prefix
	case rest[0] == '[':
		return prefix + rest
	default:
		return prefix + "." + rest
	}
}

func clonePath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, len(path))
	copy(out, path)
	return out
}
