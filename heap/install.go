package heap

import (
	"sync/atomic"

	"github.com/trimorphdev/cherry/errors"
)

var installed atomic.Pointer[Registry]

// Install makes r the process-wide registry. It succeeds once; later calls
// return an error matching errors.ErrAlreadyInstalled and leave the first
// registry in place.
func Install(r *Registry) error {
	if r == nil {
		return errors.InvalidInput(errors.PhaseConfig, "nil registry")
	}
	if !installed.CompareAndSwap(nil, r) {
		return errors.New(errors.PhaseConfig, errors.KindAlreadyInstalled).
			Detail("a global registry is already installed").
			Build()
	}
	return nil
}

// Installed returns the process-wide registry, or nil before Install.
func Installed() *Registry {
	return installed.Load()
}
