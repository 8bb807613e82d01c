package cherry

// Memory is the linear memory an allocator carves regions out of.
// Multi-byte accessors are little-endian.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// PageSize is the linear memory growth granule.
const PageSize = 65536

// PointerSize is the width of an address in the wasm32 data model used for
// every layout computation.
const PointerSize = 4

// Allocator carves regions out of a Memory. Implementations do not track
// ownership; the heap registry does that on top of them.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
	// Realloc resizes the block at ptr, preserving min(oldSize, newSize)
	// bytes. The returned address may differ from ptr.
	Realloc(ptr, oldSize, align, newSize uint32) (uint32, error)
	Memory() Memory
}
