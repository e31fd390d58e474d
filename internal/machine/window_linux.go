//go:build linux

package machine

import (
	"errors"
	"fmt"
	"os"

	"github.com/tinyrange/sysint/internal/mmio"
	"github.com/tinyrange/sysint/internal/platform"
)

// RegisterWindows maps the interrupt controller core's registers from a UIO
// node or a shared register file.
type RegisterWindows struct {
	windows []*mmio.Window
}

// OpenRegisterWindows maps the registers of cfg from path using the UIO map
// layout: map 0, at file offset 0, is the page holding the built-in
// interrupt registers, and on boards with an IPI facility map 1, one page
// further on, is the page holding the IPI request register. A missing or
// short regular file is created or grown to cover every map.
func OpenRegisterWindows(cfg *platform.Config, path string) (*RegisterWindows, error) {
	page := uint64(os.Getpagesize())
	bases := []uint64{cfg.Registers.InterruptEnable &^ (page - 1)}
	if cfg.HasIPI() {
		bases = append(bases, cfg.Registers.IPIRequest&^(page-1))
	}
	if err := growRegisterFile(path, int64(len(bases))*int64(page)); err != nil {
		return nil, fmt.Errorf("machine: register file %s: %w", path, err)
	}

	rw := &RegisterWindows{}
	for i, base := range bases {
		w, err := mmio.OpenWindow(path, int64(i)*int64(page), int(page), base)
		if err != nil {
			rw.Close()
			return nil, err
		}
		rw.windows = append(rw.windows, w)
	}
	return rw, nil
}

func growRegisterFile(path string, size int64) error {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return os.WriteFile(path, make([]byte, size), 0o600)
	}
	if err != nil {
		return err
	}
	if fi.Mode().IsRegular() && fi.Size() < size {
		return os.Truncate(path, size)
	}
	return nil
}

// Mirrors returns the windows for WithMirrors.
func (rw *RegisterWindows) Mirrors() []mmio.Mirror {
	mirrors := make([]mmio.Mirror, len(rw.windows))
	for i, w := range rw.windows {
		mirrors[i] = w
	}
	return mirrors
}

// Regions returns the bus addresses the windows serve.
func (rw *RegisterWindows) Regions() []mmio.Region {
	regions := make([]mmio.Region, len(rw.windows))
	for i, w := range rw.windows {
		regions[i] = w.Region()
	}
	return regions
}

// Close unmaps every window.
func (rw *RegisterWindows) Close() error {
	var errs []error
	for _, w := range rw.windows {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rw.windows = nil
	return errors.Join(errs...)
}
