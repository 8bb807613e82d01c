package heap

import "fmt"

// Region is a block of linear memory issued by a Registry. Size is the
// requested length; the backing block may be larger. The zero Region is
// null.
type Region struct {
	Addr  uint32
	Size  uint32
	Align uint32

	id    uint64
	owner uint64
}

// IsNull reports whether r refers to no memory.
func (r Region) IsNull() bool {
	return r.Addr == 0
}

// End returns the first address past the requested length.
func (r Region) End() uint32 {
	return r.Addr + r.Size
}

func (r Region) String() string {
	if r.IsNull() {
		return "null"
	}
	return fmt.Sprintf("0x%x+%d", r.Addr, r.Size)
}
