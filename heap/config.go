package heap

import "github.com/trimorphdev/cherry/errors"

const (
	// DefaultMemoryLimitPages caps linear memory at 1GiB when Config leaves
	// it unset.
	DefaultMemoryLimitPages = 16384

	// MaxMemoryLimitPages keeps every address and block end below 1<<32.
	MaxMemoryLimitPages = 65535
)

// Config holds heap configuration. A nil *Config selects the defaults.
type Config struct {
	// OnFault receives use-after-free, double-free and foreign-region
	// faults. Nil panics with the fault.
	OnFault func(*errors.Error)

	// InitialPages is the linear memory size at creation, in 64KiB pages.
	// 0 means one page.
	InitialPages uint32

	// MemoryLimitPages bounds linear memory growth, in 64KiB pages.
	// 0 means DefaultMemoryLimitPages. 16 = 1MiB, 256 = 16MiB.
	MemoryLimitPages uint32
}

func (c *Config) initialPages() uint32 {
	if c == nil || c.InitialPages == 0 {
		return 1
	}
	return c.InitialPages
}

func (c *Config) limitPages() uint32 {
	if c == nil || c.MemoryLimitPages == 0 {
		return DefaultMemoryLimitPages
	}
	return min(c.MemoryLimitPages, MaxMemoryLimitPages)
}

func (c *Config) faultHandler() func(*errors.Error) {
	if c == nil || c.OnFault == nil {
		return panicOnFault
	}
	return c.OnFault
}

func panicOnFault(err *errors.Error) {
	panic(err)
}
