//go:build !linux

package machine

import (
	"errors"

	"github.com/tinyrange/sysint/internal/mmio"
	"github.com/tinyrange/sysint/internal/platform"
)

// RegisterWindows maps the interrupt controller core's registers. Mapping is
// only supported on linux.
type RegisterWindows struct{}

// OpenRegisterWindows always fails on this platform.
func OpenRegisterWindows(cfg *platform.Config, path string) (*RegisterWindows, error) {
	return nil, errors.New("machine: register windows are only supported on linux")
}

func (rw *RegisterWindows) Mirrors() []mmio.Mirror  { return nil }
func (rw *RegisterWindows) Regions() []mmio.Region { return nil }
func (rw *RegisterWindows) Close() error           { return nil }
