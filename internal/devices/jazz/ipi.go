package jazz

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyrange/sysint/internal/mmio"
)

// IPISink latches an IPI on each processor in mask and returns the bits that
// named no processor.
type IPISink interface {
	Post(mask uint64) (dropped uint64)
}

// IPIRegister is the 32-bit IPI request register. A write posts the IPI
// before the write completes.
type IPIRegister struct {
	addr uint64
	sink IPISink

	requests atomic.Uint64
	dropped  atomic.Uint64
	last     atomic.Uint32
}

// NewIPIRegister maps the request register at addr.
func NewIPIRegister(addr uint64, sink IPISink) *IPIRegister {
	return &IPIRegister{addr: addr, sink: sink}
}

// Regions implements mmio.Device.
func (r *IPIRegister) Regions() []mmio.Region {
	return []mmio.Region{{Address: r.addr, Size: 4}}
}

// ReadMMIO implements mmio.Handler. The register is write-only.
func (r *IPIRegister) ReadMMIO(addr uint64, data []byte) error {
	clear(data)
	return nil
}

// WriteMMIO implements mmio.Handler.
func (r *IPIRegister) WriteMMIO(addr uint64, data []byte) error {
	if addr != r.addr || len(data) != 4 {
		return fmt.Errorf("jazz: invalid IPI register write at 0x%x size %d", addr, len(data))
	}
	mask := binary.LittleEndian.Uint32(data)
	r.requests.Add(1)
	r.last.Store(mask)
	if r.sink == nil {
		return nil
	}
	if dropped := r.sink.Post(uint64(mask)); dropped != 0 {
		r.dropped.Add(1)
		slog.Debug("jazz: IPI to absent processors", "mask", fmt.Sprintf("%#x", dropped))
	}
	return nil
}

// Requests returns the number of writes to the register.
func (r *IPIRegister) Requests() uint64 { return r.requests.Load() }

// Dropped returns the number of requests that named an absent processor.
func (r *IPIRegister) Dropped() uint64 { return r.dropped.Load() }

// Last returns the last mask written.
func (r *IPIRegister) Last() uint32 { return r.last.Load() }

var _ mmio.Device = (*IPIRegister)(nil)
