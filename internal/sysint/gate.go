package sysint

import (
	"sync/atomic"

	"github.com/tinyrange/sysint/internal/irql"
	"github.com/tinyrange/sysint/internal/mmio"
	"github.com/tinyrange/sysint/internal/platform"
	"github.com/tinyrange/sysint/internal/spinlock"
)

// Locker is the controller lock. It must be usable from interrupt context
// and is not reentrant.
type Locker interface {
	Acquire()
	Release()
}

// BusController enables and disables the interrupts of the external bus.
// Both are called with the controller lock held at the highest level.
type BusController interface {
	EnableInterrupt(v Vector, mode InterruptMode)
	DisableInterrupt(v Vector)
}

type noopBusController struct{}

func (noopBusController) EnableInterrupt(Vector, InterruptMode) {}
func (noopBusController) DisableInterrupt(Vector)               {}

// EnableMask mirrors the write-only built-in enable register. It is only
// changed with the controller lock held, and every change is written through
// to the register as a whole.
type EnableMask struct {
	bits atomic.Uint32
	regs mmio.Accessor
	addr uint64
}

func (m *EnableMask) store(v uint16) {
	m.bits.Store(uint32(v))
	m.regs.Write16(m.addr, v)
}

func (m *EnableMask) set(bit uint) {
	m.store(m.Value() | 1<<bit)
}

func (m *EnableMask) clear(bit uint) {
	m.store(m.Value() &^ (1 << bit))
}

// Value returns the last value written to the register.
func (m *EnableMask) Value() uint16 {
	return uint16(m.bits.Load())
}

// Controller owns the shared interrupt controller state.
type Controller struct {
	deviceVectors        uint32
	maximumBuiltinVector uint32
	eisaVectors          uint32
	maximumEisaVector    uint32
	eisaDeviceLevel      irql.Level
	highLevel            irql.Level

	lock Locker
	bus  BusController
	mask EnableMask
}

// NewController builds the controller for a board and clears the enable
// register. A nil bus ignores external bus vectors.
func NewController(cfg *platform.Config, regs mmio.Accessor, bus BusController) *Controller {
	if bus == nil {
		bus = noopBusController{}
	}
	c := &Controller{
		deviceVectors:        cfg.DeviceVectors,
		maximumBuiltinVector: cfg.MaximumBuiltinVector,
		eisaVectors:          cfg.EisaVectors,
		maximumEisaVector:    cfg.MaximumEisaVector,
		eisaDeviceLevel:      cfg.EisaDeviceLevel,
		highLevel:            cfg.HighLevel,
		lock:                 &spinlock.Lock{},
		bus:                  bus,
		mask: EnableMask{
			regs: regs,
			addr: cfg.Registers.InterruptEnable,
		},
	}
	c.reset()
	return c
}

// SetLocker replaces the controller lock. It must be called before the
// controller is shared.
func (c *Controller) SetLocker(l Locker) {
	if l == nil {
		l = &spinlock.Lock{}
	}
	c.lock = l
}

// reset clears the enable register at bring-up, before the controller is
// shared with any execution unit.
func (c *Controller) reset() {
	c.lock.Acquire()
	c.mask.store(0)
	c.lock.Release()
}

// Mask returns the current built-in enable mask.
func (c *Controller) Mask() uint16 {
	return c.mask.Value()
}

func (c *Controller) builtinBit(v Vector) (uint, bool) {
	if uint32(v) < c.deviceVectors+1 || uint32(v) > c.maximumBuiltinVector {
		return 0, false
	}
	return uint(uint32(v) - c.deviceVectors - 1), true
}

func (c *Controller) busVector(v Vector, level irql.Level) bool {
	return uint32(v) >= c.eisaVectors &&
		uint32(v) < c.eisaVectors+c.maximumEisaVector &&
		level == c.eisaDeviceLevel
}

// Gate returns the enable/disable interface for code running on the
// execution unit whose level is controlled by cpu.
func (c *Controller) Gate(cpu irql.Controller) *Gate {
	return &Gate{c: c, cpu: cpu}
}

// Gate enables and disables system vectors from one execution unit.
type Gate struct {
	c   *Controller
	cpu irql.Controller
}

// Enable enables vector v, whose source runs at level. mode is passed to the
// external bus so it can program the trigger mode. Vectors outside both
// ranges, and bus vectors at any level other than the EISA device level, are
// ignored.
//
// Enable always returns true. The result is reserved for sources that could
// reject a mode; none on this platform do.
func (g *Gate) Enable(v Vector, level irql.Level, mode InterruptMode) bool {
	c := g.c
	guard := irql.Raise(g.cpu, c.highLevel)
	defer guard.Restore()
	c.lock.Acquire()
	defer c.lock.Release()

	if bit, ok := c.builtinBit(v); ok {
		c.mask.set(bit)
	}
	if c.busVector(v, level) {
		c.bus.EnableInterrupt(v, mode)
	}
	return true
}

// Disable disables vector v, whose source runs at level. An interrupt the
// processor has already accepted may still be delivered once.
func (g *Gate) Disable(v Vector, level irql.Level) {
	c := g.c
	guard := irql.Raise(g.cpu, c.highLevel)
	defer guard.Restore()
	c.lock.Acquire()
	defer c.lock.Release()

	if bit, ok := c.builtinBit(v); ok {
		c.mask.clear(bit)
	}
	if c.busVector(v, level) {
		c.bus.DisableInterrupt(v)
	}
}

// DisableAll disables every built-in vector. External bus vectors are left
// as they are.
func (g *Gate) DisableAll() {
	c := g.c
	guard := irql.Raise(g.cpu, c.highLevel)
	defer guard.Restore()
	c.lock.Acquire()
	defer c.lock.Release()

	c.mask.store(0)
}
