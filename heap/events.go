package heap

// EventType identifies a registry event.
type EventType uint8

const (
	EventAllocated EventType = iota
	EventDeallocated
	EventReallocated
)

func (t EventType) String() string {
	switch t {
	case EventAllocated:
		return "allocate"
	case EventDeallocated:
		return "deallocate"
	case EventReallocated:
		return "reallocate"
	}
	return "unknown"
}

// Event describes one successful registry operation. Old is set for
// reallocations only.
type Event struct {
	Region Region
	Old    Region
	Type   EventType
}

// Observer receives registry events. Observers run after the registry has
// released its lock and may call back into it.
type Observer interface {
	OnHeapEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHeapEvent(e Event) { f(e) }

// Stats is a snapshot of registry bookkeeping.
type Stats struct {
	Live     int
	InUse    uint64
	Peak     uint64
	Allocs   uint64
	Frees    uint64
	Reallocs uint64
}
