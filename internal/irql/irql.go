// Package irql defines interrupt request levels and the scoped guard used to
// run a critical section above every interrupt class.
package irql

import "fmt"

// Level is an interrupt request level. Higher values are more urgent.
type Level uint8

const (
	Passive  Level = 0
	APC      Level = 1
	Dispatch Level = 2

	// EisaDevice is the single level shared by every EISA interrupt.
	EisaDevice Level = 3
	// Device is the level of the built-in devices.
	Device Level = 4

	// High masks every interrupt source.
	High Level = 7
)

func (l Level) String() string {
	switch l {
	case Passive:
		return "passive"
	case APC:
		return "apc"
	case Dispatch:
		return "dispatch"
	case EisaDevice:
		return "eisa-device"
	case Device:
		return "device"
	case High:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Controller raises and lowers the interrupt request level of the current
// execution unit. Raise returns the previous level, which is the token handed
// back to Lower. Calls must nest.
type Controller interface {
	Raise(level Level) Level
	Lower(prior Level)
}

// Guard holds a raised level until Restore is called.
type Guard struct {
	c        Controller
	prior    Level
	restored bool
}

// Raise raises c to level and returns a guard that restores the prior level.
// Use it as
//
//	g := irql.Raise(c, irql.High)
//	defer g.Restore()
func Raise(c Controller, level Level) Guard {
	return Guard{c: c, prior: c.Raise(level)}
}

// Prior returns the level that was current before the guard was taken.
func (g *Guard) Prior() Level { return g.prior }

// Restore lowers back to the prior level. Only the first call has an effect.
func (g *Guard) Restore() {
	if g.restored {
		return
	}
	g.restored = true
	g.c.Lower(g.prior)
}
