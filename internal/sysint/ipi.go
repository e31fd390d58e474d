package sysint

import (
	"github.com/tinyrange/sysint/internal/mmio"
	"github.com/tinyrange/sysint/internal/platform"
)

// IPIDispatcher posts inter-processor interrupts.
type IPIDispatcher struct {
	regs mmio.Accessor
	addr uint64
}

// NewIPIDispatcher returns the dispatcher for a board. On boards without an
// IPI request register every request is a no-op.
func NewIPIDispatcher(cfg *platform.Config, regs mmio.Accessor) *IPIDispatcher {
	return &IPIDispatcher{regs: regs, addr: cfg.Registers.IPIRequest}
}

// Available reports whether the board has an IPI facility.
func (d *IPIDispatcher) Available() bool {
	return d.addr != 0 && d.regs != nil
}

// Request sends an inter-processor interrupt to every processor in targets
// with one write of the mask to the request register. The interrupt is
// posted at the targets when Request returns.
func (d *IPIDispatcher) Request(targets Affinity) {
	if !d.Available() {
		return
	}
	d.regs.Write32(d.addr, uint32(targets))
	d.regs.Sync()
}
