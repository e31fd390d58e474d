// Package machine assembles a simulated board from its platform description:
// processors, register bus, device models, the EISA controller and the
// interrupt controller core.
package machine

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/sysint/internal/cpu"
	"github.com/tinyrange/sysint/internal/devices/jazz"
	"github.com/tinyrange/sysint/internal/devices/pic"
	"github.com/tinyrange/sysint/internal/eisa"
	"github.com/tinyrange/sysint/internal/irql"
	"github.com/tinyrange/sysint/internal/mmio"
	"github.com/tinyrange/sysint/internal/platform"
	"github.com/tinyrange/sysint/internal/sysint"
)

var (
	ErrNotPresent   = errors.New("machine: interrupt source not present")
	ErrUnroutable   = errors.New("machine: vector outside the controller ranges")
	ErrConnected    = errors.New("machine: device already connected")
	ErrNotConnected = errors.New("machine: device not connected")
	ErrNoProcessor  = errors.New("machine: no such processor")
)

// Connection is a device whose interrupt has been resolved and enabled.
type Connection struct {
	Name      string
	Interrupt sysint.BusInterrupt
	Mode      sysint.InterruptMode
	sysint.Resolution
}

func (c Connection) String() string {
	return fmt.Sprintf("%s: %v bus=%d level=%d vector=%d -> %v (%v)",
		c.Name, c.Interrupt.Interface, c.Interrupt.BusNumber, c.Interrupt.Level,
		c.Interrupt.Vector, c.Resolution, c.Mode)
}

// Machine is one simulated board.
type Machine struct {
	cfg *platform.Config

	procs *cpu.Set
	bus   *mmio.Bus

	block  *jazz.InterruptBlock
	pics   *pic.DualPIC
	ipiReg *jazz.IPIRegister

	eisa     *eisa.Controller
	ctrl     *sysint.Controller
	resolver *sysint.Resolver
	ipi      *sysint.IPIDispatcher

	mirrors []mmio.Mirror

	eisaReady atomic.Bool

	mu        sync.Mutex
	connected map[string]Connection
}

// Option configures a Machine at bring-up.
type Option func(*Machine)

// WithMirrors repeats every write the interrupt controller core makes to the
// enable and IPI request registers on the mirror that covers it. The device
// models still see every access.
func WithMirrors(mirrors ...mmio.Mirror) Option {
	return func(m *Machine) {
		m.mirrors = append(m.mirrors, mirrors...)
	}
}

// New validates cfg and brings up a board: it maps the device models,
// initializes the EISA controller and clears the built-in enable register.
func New(cfg *platform.Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:       cfg,
		procs:     cpu.NewSet(cfg.Processors),
		block:     jazz.NewInterruptBlock(cfg.Registers.InterruptSource, cfg.Registers.InterruptEnable),
		pics:      pic.New(cfg.Registers.EisaControlBase),
		connected: make(map[string]Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pics.SetReadyLine(pic.ReadyLineFunc(m.eisaReady.Store))

	b := mmio.NewBusBuilder()
	if err := b.RegisterDevice("interrupts", m.block); err != nil {
		return nil, fmt.Errorf("machine: map interrupt block: %w", err)
	}
	if err := b.RegisterDevice("eisa-pic", m.pics); err != nil {
		return nil, fmt.Errorf("machine: map EISA controller: %w", err)
	}
	if cfg.HasIPI() {
		m.ipiReg = jazz.NewIPIRegister(cfg.Registers.IPIRequest, m.procs)
		if err := b.RegisterDevice("ipi", m.ipiReg); err != nil {
			return nil, fmt.Errorf("machine: map IPI register: %w", err)
		}
	}
	m.bus = b.Build()

	m.eisa = eisa.New(cfg, m.bus)
	m.eisa.Initialize()
	var regs mmio.Accessor = m.bus
	if len(m.mirrors) > 0 {
		regs = mmio.NewTee(m.bus, m.mirrors...)
	}
	m.ctrl = sysint.NewController(cfg, regs, m.eisa)
	m.resolver = sysint.NewResolver(cfg)
	m.ipi = sysint.NewIPIDispatcher(cfg, regs)

	slog.Debug("machine: board up",
		"board", cfg.Name,
		"processors", cfg.Processors,
		"ipi", cfg.HasIPI(),
		"mirrors", len(m.mirrors))
	return m, nil
}

func (m *Machine) Config() *platform.Config             { return m.cfg }
func (m *Machine) Processors() *cpu.Set                 { return m.procs }
func (m *Machine) Bus() *mmio.Bus                       { return m.bus }
func (m *Machine) Controller() *sysint.Controller       { return m.ctrl }
func (m *Machine) Resolver() *sysint.Resolver           { return m.resolver }
func (m *Machine) IPI() *sysint.IPIDispatcher           { return m.ipi }
func (m *Machine) EISA() *eisa.Controller               { return m.eisa }
func (m *Machine) InterruptBlock() *jazz.InterruptBlock { return m.block }
func (m *Machine) PIC() *pic.DualPIC                    { return m.pics }

// IPIRegister returns the IPI request register model, or nil on boards
// without one.
func (m *Machine) IPIRegister() *jazz.IPIRegister { return m.ipiReg }

// Gate returns the enable/disable gate for code running on processor id.
func (m *Machine) Gate(id int) (*sysint.Gate, error) {
	p := m.procs.Get(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoProcessor, id)
	}
	return m.ctrl.Gate(p), nil
}

// BusInterrupt parses the bus side of a device description.
func BusInterrupt(spec platform.DeviceSpec) (sysint.BusInterrupt, sysint.InterruptMode, error) {
	t, err := sysint.ParseInterfaceType(spec.Interface)
	if err != nil {
		return sysint.BusInterrupt{}, 0, fmt.Errorf("device %q: %w", spec.Name, err)
	}
	mode := sysint.Latched
	if spec.Mode != "" {
		mode, err = sysint.ParseInterruptMode(spec.Mode)
		if err != nil {
			return sysint.BusInterrupt{}, 0, fmt.Errorf("device %q: %w", spec.Name, err)
		}
	}
	bi := sysint.BusInterrupt{
		Interface: t,
		BusNumber: spec.Bus,
		Level:     spec.Level,
		Vector:    spec.Vector,
	}
	return bi, mode, nil
}

// Resolve maps a device description to its system vector without enabling
// it.
func (m *Machine) Resolve(spec platform.DeviceSpec) (Connection, error) {
	bi, mode, err := BusInterrupt(spec)
	if err != nil {
		return Connection{}, err
	}
	r := m.resolver.ResolveInterrupt(bi)
	if !r.Present() {
		return Connection{}, fmt.Errorf("%w: device %q on %v", ErrNotPresent, spec.Name, bi.Interface)
	}
	v := uint32(r.Vector)
	if !m.cfg.IsBuiltinVector(v) && !m.cfg.IsEisaVector(v) {
		return Connection{}, fmt.Errorf("%w: device %q vector %d", ErrUnroutable, spec.Name, v)
	}
	return Connection{Name: spec.Name, Interrupt: bi, Mode: mode, Resolution: r}, nil
}

// owner returns the processor that services a resolution: the lowest
// numbered present processor in its affinity.
func (m *Machine) owner(r sysint.Resolution) (*cpu.Processor, error) {
	a := uint64(r.Affinity) & m.procs.Present()
	if a == 0 {
		return nil, fmt.Errorf("%w: affinity %v", ErrNoProcessor, r.Affinity)
	}
	return m.procs.Get(bits.TrailingZeros64(a)), nil
}

// Connect resolves a device and enables its vector from the processor that
// services it.
func (m *Machine) Connect(spec platform.DeviceSpec) (Connection, error) {
	conn, err := m.Resolve(spec)
	if err != nil {
		return Connection{}, err
	}
	p, err := m.owner(conn.Resolution)
	if err != nil {
		return Connection{}, fmt.Errorf("device %q: %w", spec.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connected[spec.Name]; ok {
		return Connection{}, fmt.Errorf("%w: %q", ErrConnected, spec.Name)
	}
	m.ctrl.Gate(p).Enable(conn.Vector, conn.Level, conn.Mode)
	m.connected[spec.Name] = conn

	slog.Info("machine: connected",
		"device", spec.Name,
		"vector", uint32(conn.Vector),
		"level", conn.Level,
		"affinity", conn.Affinity.String(),
		"mode", conn.Mode.String())
	return conn, nil
}

// ConnectAll connects every device the board describes, in order.
func (m *Machine) ConnectAll() ([]Connection, error) {
	conns := make([]Connection, 0, len(m.cfg.Devices))
	for _, spec := range m.cfg.Devices {
		conn, err := m.Connect(spec)
		if err != nil {
			return conns, err
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

// Disconnect disables a connected device's vector.
func (m *Machine) Disconnect(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connected[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotConnected, name)
	}
	p, err := m.owner(conn.Resolution)
	if err != nil {
		return err
	}
	m.ctrl.Gate(p).Disable(conn.Vector, conn.Level)
	delete(m.connected, name)
	slog.Info("machine: disconnected", "device", name, "vector", uint32(conn.Vector))
	return nil
}

// Connections returns the connected devices ordered by vector.
func (m *Machine) Connections() []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := make([]Connection, 0, len(m.connected))
	for _, c := range m.connected {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].Vector != conns[j].Vector {
			return conns[i].Vector < conns[j].Vector
		}
		return conns[i].Name < conns[j].Name
	})
	return conns
}

// Assert drives the source line behind vector v.
func (m *Machine) Assert(v sysint.Vector, high bool) {
	switch {
	case m.cfg.IsBuiltinVector(uint32(v)):
		m.block.SetLine(uint(uint32(v)-m.cfg.DeviceVectors-1), high)
	case m.cfg.IsEisaVector(uint32(v)):
		m.pics.SetIRQ(uint8(uint32(v)-m.cfg.EisaVectors), high)
	}
}

// Pending returns the lowest numbered enabled built-in vector whose line is
// asserted, or failing that acknowledges the highest priority EISA
// interrupt. EISA vectors returned here must be retired with Complete.
func (m *Machine) Pending() (sysint.Vector, bool) {
	if src := m.bus.Read16(m.cfg.Registers.InterruptSource); src != 0 {
		return sysint.Vector(m.cfg.DeviceVectors + 1 + uint32(bits.TrailingZeros16(src))), true
	}
	if m.eisaReady.Load() {
		return m.eisa.Acknowledge()
	}
	return 0, false
}

// Complete retires an acknowledged EISA vector. Built-in vectors need no
// acknowledgement.
func (m *Machine) Complete(v sysint.Vector) {
	if m.cfg.IsEisaVector(uint32(v)) {
		m.eisa.EndOfInterrupt(v)
	}
}

// RequestIPI posts an inter-processor interrupt to targets and returns the
// processors that were interrupted.
func (m *Machine) RequestIPI(targets sysint.Affinity) []*cpu.Processor {
	m.ipi.Request(targets)
	var hit []*cpu.Processor
	for _, p := range m.procs.All() {
		if targets.Contains(p.ID()) && p.IPIPending() {
			hit = append(hit, p)
		}
	}
	return hit
}

// Level returns the current level of processor id.
func (m *Machine) Level(id int) (irql.Level, error) {
	p := m.procs.Get(id)
	if p == nil {
		return 0, fmt.Errorf("%w: %d", ErrNoProcessor, id)
	}
	return p.Level(), nil
}
