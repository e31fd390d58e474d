// Package eisa drives the EISA bus interrupt controller: the cascaded 8259A
// pair and its edge/level control registers, reached through EISA I/O ports
// mapped into register space.
package eisa

import (
	"log/slog"

	"github.com/tinyrange/sysint/internal/mmio"
	"github.com/tinyrange/sysint/internal/platform"
	"github.com/tinyrange/sysint/internal/sysint"
)

const (
	primaryCommandPort   = 0x20
	primaryDataPort      = 0x21
	secondaryCommandPort = 0xa0
	secondaryDataPort    = 0xa1
	primaryELCRPort      = 0x4d0
	secondaryELCRPort    = 0x4d1

	// cascadeLine is the primary input the secondary is wired to.
	cascadeLine = 2

	icw1Init      = 0x11 // edge, cascaded, ICW4 follows
	icw4Mode8086  = 0x01
	ocw2Specific  = 0x60 // specific EOI
	ocw3Poll      = 0x0c
	ocw3ReadISR   = 0x0b
	pollRequested = 0x80
)

// Controller programs the 8259A pair. EnableInterrupt and DisableInterrupt
// change the mask and ELCR mirrors and are only called under the interrupt
// controller lock.
type Controller struct {
	regs    mmio.Accessor
	base    uint64
	vectors uint32
	lines   uint32

	mask  [2]uint8
	level [2]uint8
}

// New returns a controller for the board's EISA bus. Call Initialize before
// enabling any interrupt.
func New(cfg *platform.Config, regs mmio.Accessor) *Controller {
	return &Controller{
		regs:    regs,
		base:    cfg.Registers.EisaControlBase,
		vectors: cfg.EisaVectors,
		lines:   cfg.MaximumEisaVector,
		mask:    [2]uint8{0xff, 0xff},
	}
}

func (c *Controller) out(port uint64, v uint8) {
	c.regs.Write8(c.base+port, v)
}

func (c *Controller) in(port uint64) uint8 {
	return c.regs.Read8(c.base + port)
}

// Initialize runs the ICW sequence on both controllers, masks every line but
// the cascade input and makes every line edge triggered.
func (c *Controller) Initialize() {
	c.out(primaryCommandPort, icw1Init)
	c.out(primaryDataPort, 0x00)
	c.out(primaryDataPort, 1<<cascadeLine)
	c.out(primaryDataPort, icw4Mode8086)

	c.out(secondaryCommandPort, icw1Init)
	c.out(secondaryDataPort, 0x08)
	c.out(secondaryDataPort, cascadeLine)
	c.out(secondaryDataPort, icw4Mode8086)

	c.mask = [2]uint8{0xff &^ (1 << cascadeLine), 0xff}
	c.level = [2]uint8{0, 0}
	c.out(primaryDataPort, c.mask[0])
	c.out(secondaryDataPort, c.mask[1])
	c.out(primaryELCRPort, c.level[0])
	c.out(secondaryELCRPort, c.level[1])

	slog.Debug("eisa: interrupt controller initialized", "base", c.base)
}

// line splits vector v into controller index and input line.
func (c *Controller) line(v sysint.Vector) (int, uint8, bool) {
	if uint32(v) < c.vectors || uint32(v) >= c.vectors+c.lines {
		return 0, 0, false
	}
	n := uint32(v) - c.vectors
	return int(n >> 3), uint8(n & 7), true
}

func (c *Controller) writeMask(idx int) {
	if idx == 0 {
		c.out(primaryDataPort, c.mask[0])
	} else {
		c.out(secondaryDataPort, c.mask[1])
	}
}

func (c *Controller) writeLevel(idx int) {
	if idx == 0 {
		c.out(primaryELCRPort, c.level[0])
	} else {
		c.out(secondaryELCRPort, c.level[1])
	}
}

// EnableInterrupt implements sysint.BusController. It unmasks the line and
// sets its trigger mode.
func (c *Controller) EnableInterrupt(v sysint.Vector, mode sysint.InterruptMode) {
	idx, line, ok := c.line(v)
	if !ok {
		return
	}
	bit := uint8(1) << line
	c.mask[idx] &^= bit
	c.writeMask(idx)

	if mode == sysint.LevelSensitive {
		c.level[idx] |= bit
	} else {
		c.level[idx] &^= bit
	}
	c.writeLevel(idx)
}

// DisableInterrupt implements sysint.BusController. It masks the line.
func (c *Controller) DisableInterrupt(v sysint.Vector) {
	idx, line, ok := c.line(v)
	if !ok {
		return
	}
	c.mask[idx] |= 1 << line
	c.writeMask(idx)
}

// Masks returns the primary and secondary interrupt mask mirrors.
func (c *Controller) Masks() (primary, secondary uint8) {
	return c.mask[0], c.mask[1]
}

// Levels returns the primary and secondary ELCR mirrors.
func (c *Controller) Levels() (primary, secondary uint8) {
	return c.level[0], c.level[1]
}

// Acknowledge polls the controllers for the highest priority pending line
// and returns its system vector, marking it in service. ok is false when
// nothing is pending.
func (c *Controller) Acknowledge() (v sysint.Vector, ok bool) {
	c.out(primaryCommandPort, ocw3Poll)
	p := c.in(primaryCommandPort)
	if p&pollRequested == 0 {
		return 0, false
	}
	line := uint32(p & 7)
	if line == cascadeLine {
		c.out(secondaryCommandPort, ocw3Poll)
		s := c.in(secondaryCommandPort)
		if s&pollRequested == 0 {
			// Spurious on the secondary: retire the cascade line.
			c.out(primaryCommandPort, ocw2Specific|cascadeLine)
			return 0, false
		}
		line = 8 + uint32(s&7)
	}
	return sysint.Vector(c.vectors + line), true
}

// EndOfInterrupt retires vector v on the controllers that hold it in
// service.
func (c *Controller) EndOfInterrupt(v sysint.Vector) {
	idx, line, ok := c.line(v)
	if !ok {
		return
	}
	if idx == 1 {
		c.out(secondaryCommandPort, ocw2Specific|line)
		line = cascadeLine
	}
	c.out(primaryCommandPort, ocw2Specific|line)
}

// InService returns the in-service registers of both controllers.
func (c *Controller) InService() (primary, secondary uint8) {
	c.out(primaryCommandPort, ocw3ReadISR)
	c.out(secondaryCommandPort, ocw3ReadISR)
	return c.in(primaryCommandPort), c.in(secondaryCommandPort)
}

var _ sysint.BusController = (*Controller)(nil)
