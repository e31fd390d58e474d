// Package mmio provides memory-mapped register access for the interrupt
// controller and the device models behind it.
package mmio

import "fmt"

// Accessor reads and writes device registers. Accesses to the same device
// are performed in program order and are never cached. Sync returns once
// every earlier write has reached its device.
type Accessor interface {
	Read8(addr uint64) uint8
	Write8(addr uint64, v uint8)
	Read16(addr uint64) uint16
	Write16(addr uint64, v uint16)
	Read32(addr uint64) uint32
	Write32(addr uint64, v uint32)
	Sync()
}

// Region is a span of register address space.
type Region struct {
	Address uint64
	Size    uint64
}

// Contains reports whether the access [addr, addr+size) lies inside r.
func (r Region) Contains(addr, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	return addr >= r.Address && end <= r.Address+r.Size
}

func (r Region) overlaps(o Region) bool {
	return r.Address < o.Address+o.Size && o.Address < r.Address+r.Size
}

func (r Region) String() string {
	return fmt.Sprintf("0x%x-0x%x", r.Address, r.Address+r.Size-1)
}

// Handler serves register accesses for a device model. data holds the
// little-endian register value and its length is the access width.
type Handler interface {
	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

// Device is a device model that occupies one or more register regions.
type Device interface {
	Handler
	Regions() []Region
}
