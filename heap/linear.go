package heap

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/trimorphdev/cherry"
	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/internal/abi"
)

const (
	// heapBase is the first address handed out; [0, heapBase) stays
	// unused so that address 0 is never a valid region.
	heapBase = 8

	// blockAlign is the minimum alignment and size granule of a block.
	blockAlign = 8
)

// memoryModule is a minimal core module exporting one page of memory as
// "memory", with no declared maximum.
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 page, no max
	0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // name: "memory"
	0x02, 0x00, // kind: memory, index 0
}

type span struct {
	start uint32
	end   uint32
}

func (s span) len() uint32 { return s.end - s.start }

// Linear is a first-fit allocator over a wazero linear memory. Free spans
// are kept sorted by address and coalesced on release. Memory grows by
// whole pages up to the configured limit.
type Linear struct {
	runtime wazero.Runtime
	mem     *Memory
	blocks  map[uint32]uint32 // address -> block capacity
	free    []span
	limit   uint32
	mu      sync.Mutex
}

var _ cherry.Allocator = (*Linear)(nil)

// NewLinear instantiates a fresh linear memory and an allocator over it.
// Release it with Close.
func NewLinear(ctx context.Context, cfg *Config) (*Linear, error) {
	limit := cfg.limitPages()
	initial := cfg.initialPages()
	if initial > limit {
		return nil, errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("initial pages %d exceed memory limit %d", initial, limit))
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(limit))
	mod, err := rt.Instantiate(ctx, memoryModule)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotInitialized, err, "instantiate linear memory")
	}

	mem := mod.ExportedMemory("memory")
	if initial > 1 {
		if _, ok := mem.Grow(initial - 1); !ok {
			_ = rt.Close(ctx)
			return nil, errors.InvalidInput(errors.PhaseConfig,
				fmt.Sprintf("cannot grow linear memory to %d pages", initial))
		}
	}

	return &Linear{
		runtime: rt,
		mem:     WrapMemory(mem),
		blocks:  make(map[uint32]uint32),
		free:    []span{{start: heapBase, end: mem.Size()}},
		limit:   limit,
	}, nil
}

// Memory returns the backing linear memory.
func (l *Linear) Memory() cherry.Memory {
	return l.mem
}

// Close releases the wazero runtime and its memory.
func (l *Linear) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// Alloc returns a zeroed block of at least size bytes aligned to align.
func (l *Linear) Alloc(size, align uint32) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alloc(size, align)
}

func (l *Linear) alloc(size, align uint32) (uint32, error) {
	if align < blockAlign {
		align = blockAlign
	}
	block, ok := blockSize(size)
	if !ok {
		return 0, errors.OutOfMemory(size, align, nil)
	}

	for {
		if addr, ok := l.take(block, align); ok {
			if err := l.mem.zero(addr, block); err != nil {
				return 0, err
			}
			l.blocks[addr] = block
			return addr, nil
		}
		need, ok := abi.SafeAddU32(block, align)
		if !ok {
			return 0, errors.OutOfMemory(size, align, nil)
		}
		if err := l.grow(need); err != nil {
			return 0, errors.OutOfMemory(size, align, err)
		}
	}
}

// Free releases the block at ptr. Unknown addresses are logged and ignored.
func (l *Linear) Free(ptr, size, align uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	block, ok := l.blocks[ptr]
	if !ok {
		Logger().Warn("Free: unknown block",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Uint32("align", align))
		return
	}
	delete(l.blocks, ptr)
	l.release(span{start: ptr, end: ptr + block})
}

// Realloc resizes in place when the block or its free neighbour has room,
// otherwise it moves the data to a new block.
func (l *Linear) Realloc(ptr, oldSize, align, newSize uint32) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	block, ok := l.blocks[ptr]
	if !ok {
		return 0, errors.Fault(errors.KindUseAfterFree, ptr, "realloc of unknown block")
	}
	want, ok := blockSize(newSize)
	if !ok {
		return 0, errors.OutOfMemory(newSize, align, nil)
	}

	if want <= block || l.extend(ptr, block, want) {
		if want < block {
			l.release(span{start: ptr + want, end: ptr + block})
		}
		l.blocks[ptr] = want
		if newSize > oldSize {
			if err := l.mem.zero(ptr+oldSize, want-oldSize); err != nil {
				return 0, err
			}
		}
		return ptr, nil
	}

	addr, err := l.alloc(newSize, align)
	if err != nil {
		return 0, err
	}
	data, err := l.mem.Read(ptr, min(oldSize, newSize))
	if err != nil {
		return 0, err
	}
	if err := l.mem.Write(addr, data); err != nil {
		return 0, err
	}
	delete(l.blocks, ptr)
	l.release(span{start: ptr, end: ptr + block})
	return addr, nil
}

// Capacity returns the block size backing ptr.
func (l *Linear) Capacity(ptr uint32) (uint32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.blocks[ptr]
	return c, ok
}

// FreeBytes returns the bytes available without growing memory.
func (l *Linear) FreeBytes() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n uint32
	for _, s := range l.free {
		n += s.len()
	}
	return n
}

// Pages returns the current memory size in pages.
func (l *Linear) Pages() uint32 {
	return l.mem.Size() / cherry.PageSize
}

func (l *Linear) take(block, align uint32) (uint32, bool) {
	for i, s := range l.free {
		start, ok := abi.SafeAlignTo(s.start, align)
		if !ok {
			continue
		}
		end, ok := abi.SafeAddU32(start, block)
		if !ok || end > s.end {
			continue
		}

		var rest []span
		if start > s.start {
			rest = append(rest, span{start: s.start, end: start})
		}
		if end < s.end {
			rest = append(rest, span{start: end, end: s.end})
		}
		l.free = slices.Replace(l.free, i, i+1, rest...)
		return start, true
	}
	return 0, false
}

// extend grows the block at ptr into the free span directly after it.
func (l *Linear) extend(ptr, block, want uint32) bool {
	end := ptr + block
	i := sort.Search(len(l.free), func(i int) bool { return l.free[i].start >= end })
	if i == len(l.free) || l.free[i].start != end {
		return false
	}
	need := want - block
	switch {
	case l.free[i].len() < need:
		return false
	case l.free[i].len() == need:
		l.free = slices.Delete(l.free, i, i+1)
	default:
		l.free[i].start += need
	}
	return true
}

func (l *Linear) release(s span) {
	if s.len() == 0 {
		return
	}
	i := sort.Search(len(l.free), func(i int) bool { return l.free[i].start >= s.start })
	l.free = slices.Insert(l.free, i, s)

	if i+1 < len(l.free) && l.free[i].end == l.free[i+1].start {
		l.free[i].end = l.free[i+1].end
		l.free = slices.Delete(l.free, i+1, i+2)
	}
	if i > 0 && l.free[i-1].end == l.free[i].start {
		l.free[i-1].end = l.free[i].end
		l.free = slices.Delete(l.free, i, i+1)
	}
}

// grow adds enough pages for a trailing free span of at least need bytes.
func (l *Linear) grow(need uint32) error {
	cur := l.mem.Size()
	var avail uint32
	if n := len(l.free); n > 0 && l.free[n-1].end == cur {
		avail = l.free[n-1].len()
	}

	missing := uint64(need) - uint64(min(avail, need))
	delta := max((missing+cherry.PageSize-1)/cherry.PageSize, 1)
	pages := uint64(cur / cherry.PageSize)
	if pages+delta > uint64(l.limit) {
		return errors.New(errors.PhaseAlloc, errors.KindOutOfMemory).
			Detail("memory limit of %d pages reached", l.limit).
			Build()
	}

	if _, ok := l.mem.mem.Grow(uint32(delta)); !ok {
		return errors.New(errors.PhaseAlloc, errors.KindOutOfMemory).
			Detail("linear memory refused to grow by %d pages", delta).
			Build()
	}
	l.release(span{start: cur, end: l.mem.Size()})

	Logger().Debug("linear memory grown",
		zap.Uint64("pages", pages+delta),
		zap.Uint32("need", need))
	return nil
}

func blockSize(size uint32) (uint32, bool) {
	if size == 0 {
		return blockAlign, true
	}
	return abi.SafeAlignTo(size, blockAlign)
}
