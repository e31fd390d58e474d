// Package pic models the cascaded pair of 8259A interrupt controllers on the
// EISA bus, including the EISA edge/level control registers (ELCR).
package pic

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/tinyrange/sysint/internal/mmio"
)

// I/O ports of the controller pair.
const (
	PrimaryCommandPort   uint16 = 0x20
	PrimaryDataPort      uint16 = 0x21
	SecondaryCommandPort uint16 = 0xa0
	SecondaryDataPort    uint16 = 0xa1
	PrimaryELCRPort      uint16 = 0x4d0
	SecondaryELCRPort    uint16 = 0x4d1

	// CascadeLine is the primary input the secondary is wired to.
	CascadeLine = 2

	lineMask    = 0x7
	spuriousIRQ = 7
)

// ReadyLine is the INT output of the primary controller.
type ReadyLine interface {
	SetLevel(high bool)
}

// ReadyLineFunc adapts a function to ReadyLine.
type ReadyLineFunc func(high bool)

func (f ReadyLineFunc) SetLevel(high bool) {
	if f != nil {
		f(high)
	}
}

type detachedReadyLine struct{}

func (detachedReadyLine) SetLevel(bool) {}

// DualPIC is the primary/secondary 8259A pair, reached through the EISA I/O
// ports mapped at a base address in register space.
type DualPIC struct {
	mu    sync.Mutex
	base  uint64
	ready ReadyLine
	pics  [2]*pic
}

// New returns a pair whose port 0 appears at base. Both controllers start
// uninitialized with every line masked.
func New(base uint64) *DualPIC {
	return &DualPIC{
		base:  base,
		ready: detachedReadyLine{},
		pics:  [2]*pic{newPic(true), newPic(false)},
	}
}

// SetReadyLine wires the INT output.
func (p *DualPIC) SetReadyLine(line ReadyLine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == nil {
		line = detachedReadyLine{}
	}
	p.ready = line
	p.syncOutputsLocked()
}

// Regions implements mmio.Device.
func (p *DualPIC) Regions() []mmio.Region {
	return []mmio.Region{
		{Address: p.base + uint64(PrimaryCommandPort), Size: 2},
		{Address: p.base + uint64(SecondaryCommandPort), Size: 2},
		{Address: p.base + uint64(PrimaryELCRPort), Size: 2},
	}
}

func (p *DualPIC) port(addr uint64, data []byte) (uint16, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("pic: invalid access size %d", len(data))
	}
	return uint16(addr - p.base), nil
}

// ReadMMIO implements mmio.Handler.
func (p *DualPIC) ReadMMIO(addr uint64, data []byte) error {
	port, err := p.port(addr, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case PrimaryCommandPort:
		data[0] = p.pics[0].readCommand()
	case PrimaryDataPort:
		data[0] = p.pics[0].imr
	case SecondaryCommandPort:
		data[0] = p.pics[1].readCommand()
	case SecondaryDataPort:
		data[0] = p.pics[1].imr
	case PrimaryELCRPort:
		data[0] = p.pics[0].elcr
	case SecondaryELCRPort:
		data[0] = p.pics[1].elcr
	default:
		return fmt.Errorf("pic: invalid read port 0x%04x", port)
	}
	p.syncOutputsLocked()
	return nil
}

// WriteMMIO implements mmio.Handler.
func (p *DualPIC) WriteMMIO(addr uint64, data []byte) error {
	port, err := p.port(addr, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case PrimaryCommandPort:
		p.pics[0].writeCommand(data[0])
	case PrimaryDataPort:
		p.pics[0].writeData(data[0])
	case SecondaryCommandPort:
		p.pics[1].writeCommand(data[0])
	case SecondaryDataPort:
		p.pics[1].writeData(data[0])
	case PrimaryELCRPort:
		p.pics[0].elcr = data[0]
	case SecondaryELCRPort:
		p.pics[1].elcr = data[0]
	default:
		return fmt.Errorf("pic: invalid write port 0x%04x", port)
	}
	p.syncOutputsLocked()
	return nil
}

func (p *DualPIC) syncOutputsLocked() {
	p.pics[0].setIRQ(CascadeLine, p.pics[1].interruptPending())
	p.ready.SetLevel(p.pics[0].interruptPending())
}

// SetIRQ drives bus line 0-15.
func (p *DualPIC) SetIRQ(line uint8, high bool) {
	if line >= 16 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if line >= 8 {
		p.pics[1].setIRQ(line-8, high)
	} else {
		p.pics[0].setIRQ(line, high)
	}
	p.syncOutputsLocked()
}

// Acknowledge performs the interrupt acknowledge cycle and returns the vector
// programmed for the highest priority pending line. ok is false for a
// spurious acknowledge.
func (p *DualPIC) Acknowledge() (vector uint8, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.syncOutputsLocked()

	ok, vector = p.pics[0].acknowledge()
	if ok && vector&lineMask == CascadeLine {
		ok, vector = p.pics[1].acknowledge()
	}
	return vector, ok
}

// State is a read-only view of one controller's registers.
type State struct {
	Initialized bool
	Base        uint8
	IMR         uint8
	ISR         uint8
	IRR         uint8
	ELCR        uint8
}

// State returns the registers of the primary (0) or secondary (1).
func (p *DualPIC) State(index int) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.pics[index&1]
	return State{
		Initialized: c.initStage == initInitialized,
		Base:        c.icw2,
		IMR:         c.imr,
		ISR:         c.isr,
		IRR:         c.irr(),
		ELCR:        c.elcr,
	}
}

func (p *DualPIC) String() string {
	return fmt.Sprintf("PIC(primary=%+v, secondary=%+v)", p.State(0), p.State(1))
}

var _ mmio.Device = (*DualPIC)(nil)

// pic models a single 8259A.
type pic struct {
	primary bool

	initStage initStage
	icw2      byte
	imr       byte
	ocw3      ocw3
	isr       byte
	elcr      byte
	lines     byte
	// lineLow tracks edge-triggered lines that went low since their last
	// acknowledge and so may latch again.
	lineLow byte
}

func newPic(primary bool) *pic {
	return &pic{
		primary:   primary,
		initStage: initUninitialized,
		imr:       0xff,
		lineLow:   0xff,
	}
}

// reset runs on ICW1. Line levels and ELCR are board state, not controller
// state, and survive it.
func (p *pic) reset() {
	lines, elcr := p.lines, p.elcr
	*p = *newPic(p.primary)
	p.lines, p.elcr = lines, elcr
	p.imr = 0
}

func (p *pic) irr() byte {
	return p.lines & (p.elcr | p.lineLow)
}

func (p *pic) setIRQ(line uint8, high bool) {
	bit := byte(1 << line)
	if high {
		p.lines |= bit
	} else {
		p.lines &^= bit
		p.lineLow |= bit
	}
}

func (p *pic) readyVec() byte {
	higherNotInService := lowestSetBit(p.isr) - 1
	return p.irr() &^ p.imr & higherNotInService
}

func (p *pic) interruptPending() bool {
	return p.readyVec() != 0
}

func (p *pic) acknowledge() (bool, uint8) {
	vec := p.readyVec()
	if vec == 0 {
		return false, p.icw2 | spuriousIRQ
	}
	line := byte(bits.TrailingZeros8(vec))
	bit := byte(1 << line)
	p.lineLow &^= bit
	p.isr |= bit
	return true, p.icw2 | line
}

func (p *pic) eoi(line *byte) {
	if line != nil {
		p.isr &^= 1 << *line
		return
	}
	p.isr &^= lowestSetBit(p.isr)
}

func (p *pic) readCommand() byte {
	if p.ocw3.poll() {
		p.ocw3.clearPoll()
		ok, vec := p.acknowledge()
		val := vec & lineMask
		if ok {
			val |= 1 << 7
		}
		return val
	}
	if p.ocw3.ris() {
		return p.isr
	}
	return p.irr()
}

func (p *pic) writeCommand(value byte) {
	const (
		initBit    = 0x10
		commandBit = 0x08
	)

	if value&initBit != 0 {
		p.reset()
		p.initStage = initExpectingICW2
		return
	}
	if p.initStage != initInitialized {
		return
	}

	if value&commandBit == 0 {
		ocw := ocw2(value)
		switch {
		case ocw.eoi() && ocw.specific():
			level := ocw.level()
			p.eoi(&level)
		case ocw.eoi():
			p.eoi(nil)
		}
		return
	}
	p.ocw3 = ocw3(value)
}

func (p *pic) writeData(value byte) {
	switch p.initStage {
	case initUninitialized, initInitialized:
		p.imr = value
	case initExpectingICW2:
		p.icw2 = value &^ lineMask
		p.initStage = initExpectingICW3
	case initExpectingICW3:
		if p.primary && value != 1<<CascadeLine {
			return
		}
		if !p.primary && value != CascadeLine {
			return
		}
		p.initStage = initExpectingICW4
	case initExpectingICW4:
		if value&0x01 == 0 {
			return
		}
		p.initStage = initInitialized
	}
}

type initStage int

const (
	initUninitialized initStage = iota
	initExpectingICW2
	initExpectingICW3
	initExpectingICW4
	initInitialized
)

type ocw2 byte

func (o ocw2) level() byte    { return byte(o) & lineMask }
func (o ocw2) specific() bool { return byte(o)&0x40 != 0 }
func (o ocw2) eoi() bool      { return byte(o)&0x20 != 0 }

type ocw3 byte

// ris selects ISR instead of IRR for command port reads. It latches across
// reads, as on the real part.
func (o ocw3) ris() bool { return byte(o)&0x03 == 0x03 }

func (o ocw3) poll() bool { return byte(o)&0x04 != 0 }

func (o *ocw3) clearPoll() { *o &^= 0x04 }

func lowestSetBit(b byte) byte {
	return b & byte(-int8(b))
}
