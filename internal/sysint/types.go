// Package sysint maps bus interrupts to system vectors, enables and disables
// those vectors on the interrupt controller, and posts inter-processor
// interrupts.
package sysint

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/tinyrange/sysint/internal/irql"
)

// Vector identifies a system interrupt line.
type Vector uint32

// Affinity is a set of processors, bit n for processor n.
type Affinity uint64

// Contains reports whether processor id is in the set.
func (a Affinity) Contains(id int) bool {
	return id >= 0 && id < 64 && a&(1<<id) != 0
}

// Count returns the number of processors in the set.
func (a Affinity) Count() int {
	return bits.OnesCount64(uint64(a))
}

func (a Affinity) String() string {
	if a == 0 {
		return "{}"
	}
	var ids []string
	for id := 0; id < 64; id++ {
		if a.Contains(id) {
			ids = append(ids, fmt.Sprint(id))
		}
	}
	return "{" + strings.Join(ids, ",") + "}"
}

// InterfaceType is the kind of bus a device sits on.
type InterfaceType int

const (
	Internal InterfaceType = iota
	Isa
	Eisa
	MicroChannel
	TurboChannel
	PCIBus
	VMEBus
	NuBus
	PCMCIABus
)

var interfaceNames = map[InterfaceType]string{
	Internal:     "internal",
	Isa:          "isa",
	Eisa:         "eisa",
	MicroChannel: "microchannel",
	TurboChannel: "turbochannel",
	PCIBus:       "pci",
	VMEBus:       "vme",
	NuBus:        "nubus",
	PCMCIABus:    "pcmcia",
}

func (t InterfaceType) String() string {
	if name, ok := interfaceNames[t]; ok {
		return name
	}
	return fmt.Sprintf("interface(%d)", int(t))
}

// ParseInterfaceType maps a bus name to its InterfaceType.
func ParseInterfaceType(name string) (InterfaceType, error) {
	for t, n := range interfaceNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("sysint: unknown interface type %q", name)
}

// InterruptMode is the trigger mode of an interrupt source.
type InterruptMode int

const (
	LevelSensitive InterruptMode = iota
	Latched
)

func (m InterruptMode) String() string {
	switch m {
	case LevelSensitive:
		return "level"
	case Latched:
		return "latched"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseInterruptMode accepts "level" or "latched" ("edge" is an alias).
func ParseInterruptMode(name string) (InterruptMode, error) {
	switch strings.ToLower(name) {
	case "level", "level-sensitive":
		return LevelSensitive, nil
	case "latched", "edge":
		return Latched, nil
	default:
		return 0, fmt.Errorf("sysint: unknown interrupt mode %q", name)
	}
}

// BusInterrupt describes an interrupt source as its bus sees it.
type BusInterrupt struct {
	Interface InterfaceType
	BusNumber uint32
	Level     uint32
	Vector    uint32
}

// Resolution is the system view of a bus interrupt.
type Resolution struct {
	Vector   Vector
	Level    irql.Level
	Affinity Affinity
}

// Present reports whether the source exists on this system. The zero
// Resolution means it does not.
func (r Resolution) Present() bool {
	return r != Resolution{}
}

func (r Resolution) String() string {
	return fmt.Sprintf("vector=%d level=%v affinity=%v", r.Vector, r.Level, r.Affinity)
}
