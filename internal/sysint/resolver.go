package sysint

import (
	"github.com/tinyrange/sysint/internal/irql"
	"github.com/tinyrange/sysint/internal/platform"
)

// LevelRemap renumbers bus interrupt levels whose physical wiring differs
// from their bus numbering. Levels not in the table map to themselves.
type LevelRemap map[uint32]uint32

// Apply returns the wired level for bus level l.
func (m LevelRemap) Apply(l uint32) uint32 {
	if to, ok := m[l]; ok {
		return to
	}
	return l
}

// Resolver maps bus interrupts to system vectors. It holds no mutable state
// and is safe for concurrent use.
type Resolver struct {
	eisaVectors     uint32
	eisaDeviceLevel irql.Level
	eisaAffinity    Affinity
	remap           LevelRemap
}

// NewResolver builds a resolver from the board wiring.
func NewResolver(cfg *platform.Config) *Resolver {
	remap := make(LevelRemap, len(cfg.BusLevelRemap))
	for from, to := range cfg.BusLevelRemap {
		remap[from] = to
	}
	return &Resolver{
		eisaVectors:     cfg.EisaVectors,
		eisaDeviceLevel: cfg.EisaDeviceLevel,
		eisaAffinity:    Affinity(cfg.EisaAffinity),
		remap:           remap,
	}
}

// Resolve returns the system vector, level and affinity for a bus
// interrupt.
//
// Internal sources are wired straight to the processor, so their bus level
// and vector are returned unchanged with affinity {0}. ISA and EISA sources
// share the one EISA bus: the level is the EISA device level and the vector
// is the wired bus level plus the start of the EISA range. The bus number
// and bus vector are ignored for them. Any other bus is not present and
// yields the zero Resolution.
func (r *Resolver) Resolve(t InterfaceType, busNumber, busLevel, busVector uint32) (Vector, irql.Level, Affinity) {
	switch t {
	case Internal:
		return Vector(busVector), irql.Level(busLevel), 1
	case Isa, Eisa:
		level := r.remap.Apply(busLevel)
		return Vector(level + r.eisaVectors), r.eisaDeviceLevel, r.eisaAffinity
	default:
		return 0, 0, 0
	}
}

// ResolveInterrupt is Resolve over a BusInterrupt.
func (r *Resolver) ResolveInterrupt(bi BusInterrupt) Resolution {
	v, l, a := r.Resolve(bi.Interface, bi.BusNumber, bi.Level, bi.Vector)
	return Resolution{Vector: v, Level: l, Affinity: a}
}
