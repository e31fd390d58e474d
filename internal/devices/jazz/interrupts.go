// Package jazz models the board registers behind the built-in interrupt
// sources: the local interrupt register block and the inter-processor
// interrupt request register.
package jazz

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tinyrange/sysint/internal/mmio"
)

// InterruptBlock is the built-in device interrupt register block. Enable is
// write-only and reads back as zero. Source reads the pending lines that are
// also enabled.
type InterruptBlock struct {
	mu sync.Mutex

	sourceAddr uint64
	enableAddr uint64

	enable  uint16
	lines   uint16
	writes  uint64
	history []uint16
	keep    int
}

// NewInterruptBlock maps the Source and Enable registers at the given
// addresses.
func NewInterruptBlock(sourceAddr, enableAddr uint64) *InterruptBlock {
	return &InterruptBlock{sourceAddr: sourceAddr, enableAddr: enableAddr}
}

// KeepHistory makes the block remember the last n values written to Enable.
func (b *InterruptBlock) KeepHistory(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keep = n
	b.history = nil
}

// Regions implements mmio.Device.
func (b *InterruptBlock) Regions() []mmio.Region {
	regions := []mmio.Region{{Address: b.enableAddr, Size: 2}}
	if b.sourceAddr != 0 {
		regions = append(regions, mmio.Region{Address: b.sourceAddr, Size: 2})
	}
	return regions
}

// ReadMMIO implements mmio.Handler.
func (b *InterruptBlock) ReadMMIO(addr uint64, data []byte) error {
	if len(data) != 2 {
		return fmt.Errorf("jazz: invalid interrupt register read size %d", len(data))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch addr {
	case b.enableAddr:
		binary.LittleEndian.PutUint16(data, 0)
	case b.sourceAddr:
		binary.LittleEndian.PutUint16(data, b.lines&b.enable)
	default:
		return fmt.Errorf("jazz: invalid interrupt register 0x%x", addr)
	}
	return nil
}

// WriteMMIO implements mmio.Handler.
func (b *InterruptBlock) WriteMMIO(addr uint64, data []byte) error {
	if len(data) != 2 {
		return fmt.Errorf("jazz: invalid interrupt register write size %d", len(data))
	}
	if addr != b.enableAddr {
		return fmt.Errorf("jazz: write to read-only interrupt register 0x%x", addr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enable = binary.LittleEndian.Uint16(data)
	b.writes++
	if b.keep > 0 {
		b.history = append(b.history, b.enable)
		if len(b.history) > b.keep {
			b.history = b.history[len(b.history)-b.keep:]
		}
	}
	return nil
}

// SetLine drives built-in source line (0-15).
func (b *InterruptBlock) SetLine(line uint, high bool) {
	if line >= 16 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if high {
		b.lines |= 1 << line
	} else {
		b.lines &^= 1 << line
	}
}

// Enabled returns the value last written to the Enable register.
func (b *InterruptBlock) Enabled() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enable
}

// Writes returns the number of writes to the Enable register.
func (b *InterruptBlock) Writes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// History returns the remembered Enable values, oldest first.
func (b *InterruptBlock) History() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint16(nil), b.history...)
}

var _ mmio.Device = (*InterruptBlock)(nil)
