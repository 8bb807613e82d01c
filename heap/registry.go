package heap

import (
	"cmp"
	stderrors "errors"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/trimorphdev/cherry"
	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/internal/abi"
)

var registrySerial atomic.Uint64

type liveRegion struct {
	id    uint64
	size  uint32
	align uint32
}

type subscription struct {
	o  Observer
	id uint64
}

// Registry wraps one Allocator and tracks every region it has issued.
// Deallocating or reallocating a region that is not live in this registry
// is a fault. All methods are safe for concurrent use.
type Registry struct {
	alloc     cherry.Allocator
	onFault   func(*errors.Error)
	live      map[uint32]liveRegion
	observers []subscription
	stats     Stats
	serial    uint64
	nextID    uint64
	nextSub   uint64
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

// NewRegistry wraps a. Faults go to cfg.OnFault, or panic when unset.
func NewRegistry(a cherry.Allocator, cfg *Config) *Registry {
	return &Registry{
		alloc:   a,
		onFault: cfg.faultHandler(),
		live:    make(map[uint32]liveRegion),
		serial:  registrySerial.Add(1),
	}
}

// Allocator returns the wrapped allocator.
func (r *Registry) Allocator() cherry.Allocator {
	return r.alloc
}

// Memory returns the linear memory regions live in.
func (r *Registry) Memory() cherry.Memory {
	return r.alloc.Memory()
}

// Allocate returns a fresh zeroed region of size bytes. align must be a
// power of two. Exhaustion returns an OutOfMemory error and is never
// retried.
func (r *Registry) Allocate(size, align uint32) (Region, error) {
	if !abi.IsPowerOfTwo(align) {
		return Region{}, errors.New(errors.PhaseAlloc, errors.KindInvalidInput).
			Value(align).
			Detail("alignment %d is not a power of two", align).
			Build()
	}

	r.mu.Lock()
	addr, err := r.alloc.Alloc(size, align)
	if err == nil && addr == 0 {
		err = errors.OutOfMemory(size, align, nil)
	}
	if err != nil {
		r.mu.Unlock()
		Logger().Debug("allocation failed",
			zap.Uint32("size", size),
			zap.Uint32("align", align),
			zap.Error(err))
		return Region{}, asOutOfMemory(err, size, align)
	}

	r.nextID++
	reg := Region{Addr: addr, Size: size, Align: align, id: r.nextID, owner: r.serial}
	r.live[addr] = liveRegion{id: reg.id, size: size, align: align}
	r.stats.Allocs++
	r.stats.Live++
	r.grew(uint64(size))
	r.mu.Unlock()

	Logger().Debug("allocate",
		zap.Uint32("addr", addr),
		zap.Uint32("size", size),
		zap.Uint32("align", align))
	r.notify(Event{Type: EventAllocated, Region: reg})
	return reg, nil
}

// Deallocate releases reg. Deallocating the null region is a no-op. A
// region that was already released faults with KindDoubleFree, and one
// issued by another registry with KindForeignRegion.
func (r *Registry) Deallocate(reg Region) error {
	if reg.IsNull() {
		return nil
	}

	r.mu.Lock()
	if err := r.validate(reg, errors.KindDoubleFree, "already deallocated"); err != nil {
		r.mu.Unlock()
		return r.fault(err)
	}
	delete(r.live, reg.Addr)
	r.alloc.Free(reg.Addr, reg.Size, reg.Align)
	r.stats.Frees++
	r.stats.Live--
	r.stats.InUse -= uint64(reg.Size)
	r.mu.Unlock()

	Logger().Debug("deallocate",
		zap.Uint32("addr", reg.Addr),
		zap.Uint32("size", reg.Size))
	r.notify(Event{Type: EventDeallocated, Region: reg})
	return nil
}

// Reallocate resizes reg to newSize bytes, preserving min(old, new) bytes.
// On success reg is no longer live and the returned region replaces it. On
// failure reg stays live and unchanged.
func (r *Registry) Reallocate(reg Region, newSize uint32) (Region, error) {
	r.mu.Lock()
	if err := r.validate(reg, errors.KindUseAfterFree, "reallocated after deallocation"); err != nil {
		r.mu.Unlock()
		return Region{}, r.fault(err)
	}

	addr, err := r.alloc.Realloc(reg.Addr, reg.Size, reg.Align, newSize)
	if err != nil {
		r.mu.Unlock()
		Logger().Debug("reallocation failed",
			zap.Uint32("addr", reg.Addr),
			zap.Uint32("size", newSize),
			zap.Error(err))
		return Region{}, asOutOfMemory(err, newSize, reg.Align)
	}

	delete(r.live, reg.Addr)
	r.nextID++
	out := Region{Addr: addr, Size: newSize, Align: reg.Align, id: r.nextID, owner: r.serial}
	r.live[addr] = liveRegion{id: out.id, size: newSize, align: reg.Align}
	r.stats.Reallocs++
	r.stats.InUse -= uint64(reg.Size)
	r.grew(uint64(newSize))
	r.mu.Unlock()

	Logger().Debug("reallocate",
		zap.Uint32("from", reg.Addr),
		zap.Uint32("to", addr),
		zap.Uint32("size", newSize))
	r.notify(Event{Type: EventReallocated, Region: out, Old: reg})
	return out, nil
}

// Live reports whether reg is currently live in this registry.
func (r *Registry) Live(reg Region) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validate(reg, errors.KindUseAfterFree, "") == nil
}

// Regions returns a snapshot of the live regions ordered by address.
func (r *Registry) Regions() []Region {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Region, 0, len(r.live))
	for addr, e := range r.live {
		out = append(out, Region{Addr: addr, Size: e.size, Align: e.align, id: e.id, owner: r.serial})
	}
	slices.SortFunc(out, func(a, b Region) int { return cmp.Compare(a.Addr, b.Addr) })
	return out
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Subscribe adds an observer and returns a function that removes it.
func (r *Registry) Subscribe(o Observer) (cancel func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.nextSub++
	id := r.nextSub
	r.observers = append(r.observers, subscription{o: o, id: id})
	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		for i, s := range r.observers {
			if s.id == id {
				r.observers = append(r.observers[:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, s := range r.observers {
		s.o.OnHeapEvent(e)
	}
}

func (r *Registry) grew(n uint64) {
	r.stats.InUse += n
	if r.stats.InUse > r.stats.Peak {
		r.stats.Peak = r.stats.InUse
	}
}

// validate must be called with r.mu held.
func (r *Registry) validate(reg Region, stale errors.Kind, detail string) *errors.Error {
	if reg.owner != r.serial {
		return errors.Fault(errors.KindForeignRegion, reg.Addr, "not issued by this registry")
	}
	e, ok := r.live[reg.Addr]
	if !ok || e.id != reg.id {
		return errors.Fault(stale, reg.Addr, detail)
	}
	return nil
}

func (r *Registry) fault(err *errors.Error) error {
	Logger().Warn("heap fault",
		zap.String("kind", string(err.Kind)),
		zap.Any("addr", err.Value),
		zap.String("detail", err.Detail))
	r.onFault(err)
	return err
}

func asOutOfMemory(err error, size, align uint32) error {
	if stderrors.Is(err, errors.ErrOutOfMemory) {
		return err
	}
	return errors.OutOfMemory(size, align, err)
}

// Lookup returns the live region starting at addr.
func (r *Registry) Lookup(addr uint32) (Region, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live[addr]
	if !ok {
		return Region{}, false
	}
	return Region{Addr: addr, Size: e.size, Align: e.align, id: e.id, owner: r.serial}, true
}

// Fault routes err to the configured fault handler and returns it.
func (r *Registry) Fault(err *errors.Error) error {
	return r.fault(err)
}
