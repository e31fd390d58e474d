package mmio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
)

var (
	ErrNilHandler = errors.New("mmio: nil handler")
	ErrOverlap    = errors.New("mmio: region overlaps existing region")
	ErrEmpty      = errors.New("mmio: region has zero size")
)

type binding struct {
	name    string
	region  Region
	handler Handler
}

// BusBuilder collects device bindings before a Bus is built.
type BusBuilder struct {
	bindings []binding
	names    map[string]struct{}
}

// NewBusBuilder returns an empty BusBuilder.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{names: make(map[string]struct{})}
}

// RegisterDevice maps every region the device reports.
func (b *BusBuilder) RegisterDevice(name string, dev Device) error {
	if name == "" {
		return fmt.Errorf("mmio: device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("mmio: device %q: %w", name, ErrNilHandler)
	}
	if _, exists := b.names[name]; exists {
		return fmt.Errorf("mmio: device %q already registered", name)
	}
	for _, region := range dev.Regions() {
		if err := b.WithRegion(name, region, dev); err != nil {
			return err
		}
	}
	b.names[name] = struct{}{}
	return nil
}

// WithRegion maps a single region to handler.
func (b *BusBuilder) WithRegion(name string, region Region, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("mmio: %s region %v: %w", name, region, ErrNilHandler)
	}
	if region.Size == 0 {
		return fmt.Errorf("mmio: %s region at 0x%x: %w", name, region.Address, ErrEmpty)
	}
	if region.Address+region.Size < region.Address {
		return fmt.Errorf("mmio: %s region at 0x%x with size 0x%x overflows", name, region.Address, region.Size)
	}
	for _, existing := range b.bindings {
		if region.overlaps(existing.region) {
			return fmt.Errorf("mmio: %s region %v, %s region %v: %w",
				name, region, existing.name, existing.region, ErrOverlap)
		}
	}
	b.bindings = append(b.bindings, binding{name: name, region: region, handler: handler})
	return nil
}

// Build returns the bus. The builder can be discarded afterwards.
func (b *BusBuilder) Build() *Bus {
	bindings := make([]binding, len(b.bindings))
	copy(bindings, b.bindings)
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].region.Address < bindings[j].region.Address
	})
	return &Bus{bindings: bindings}
}

// Bus routes register accesses to device models. It implements Accessor.
// Device handlers run synchronously on the caller, so a write has reached its
// device when the call returns.
type Bus struct {
	bindings []binding

	unhandled atomic.Uint64
	writes    atomic.Uint64
}

func (b *Bus) lookup(addr, size uint64) *binding {
	i := sort.Search(len(b.bindings), func(i int) bool {
		r := b.bindings[i].region
		return r.Address+r.Size > addr
	})
	if i < len(b.bindings) && b.bindings[i].region.Contains(addr, size) {
		return &b.bindings[i]
	}
	return nil
}

func (b *Bus) read(addr uint64, data []byte) {
	bind := b.lookup(addr, uint64(len(data)))
	if bind == nil {
		b.unhandled.Add(1)
		slog.Warn("mmio: no device for read", "addr", fmt.Sprintf("%#x", addr), "size", len(data))
		return
	}
	if err := bind.handler.ReadMMIO(addr, data); err != nil {
		slog.Warn("mmio: read failed", "device", bind.name, "addr", fmt.Sprintf("%#x", addr), "err", err)
	}
}

func (b *Bus) write(addr uint64, data []byte) {
	b.writes.Add(1)
	bind := b.lookup(addr, uint64(len(data)))
	if bind == nil {
		b.unhandled.Add(1)
		slog.Warn("mmio: no device for write", "addr", fmt.Sprintf("%#x", addr), "size", len(data))
		return
	}
	if err := bind.handler.WriteMMIO(addr, data); err != nil {
		slog.Warn("mmio: write failed", "device", bind.name, "addr", fmt.Sprintf("%#x", addr), "err", err)
	}
}

func (b *Bus) Read8(addr uint64) uint8 {
	var buf [1]byte
	b.read(addr, buf[:])
	return buf[0]
}

func (b *Bus) Write8(addr uint64, v uint8) {
	b.write(addr, []byte{v})
}

func (b *Bus) Read16(addr uint64) uint16 {
	var buf [2]byte
	b.read(addr, buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (b *Bus) Write16(addr uint64, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.write(addr, buf[:])
}

func (b *Bus) Read32(addr uint64) uint32 {
	var buf [4]byte
	b.read(addr, buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (b *Bus) Write32(addr uint64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.write(addr, buf[:])
}

// Sync implements Accessor. Handlers complete inside the write call, so
// there is nothing buffered.
func (b *Bus) Sync() {}

// Unhandled returns the number of accesses that hit no device.
func (b *Bus) Unhandled() uint64 { return b.unhandled.Load() }

// Writes returns the number of write accesses issued on the bus.
func (b *Bus) Writes() uint64 { return b.writes.Load() }

// Regions returns the mapped regions in address order, keyed by device name.
func (b *Bus) Regions() map[string][]Region {
	out := make(map[string][]Region)
	for _, bind := range b.bindings {
		out[bind.name] = append(out[bind.name], bind.region)
	}
	return out
}

var _ Accessor = (*Bus)(nil)
