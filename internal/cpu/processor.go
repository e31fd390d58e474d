// Package cpu models the processors of a board: each has its own interrupt
// request level and an inter-processor interrupt latch.
package cpu

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyrange/sysint/internal/irql"
)

// Processor is one execution unit. It implements irql.Controller for code
// running on it.
type Processor struct {
	id    int
	level atomic.Uint32

	ipiPending atomic.Bool
	ipiCount   atomic.Uint64
}

// NewProcessor returns processor id running at irql.Passive.
func NewProcessor(id int) *Processor {
	return &Processor{id: id}
}

func (p *Processor) ID() int { return p.id }

// Level returns the current interrupt request level.
func (p *Processor) Level() irql.Level {
	return irql.Level(p.level.Load())
}

// Raise implements irql.Controller. Raising to a level below the current one
// is a fatal programming error and leaves the level unchanged.
func (p *Processor) Raise(level irql.Level) irql.Level {
	prior := p.Level()
	if level < prior {
		panic(fmt.Sprintf("cpu%d: raise to %v below current level %v", p.id, level, prior))
	}
	p.level.Store(uint32(level))
	return prior
}

// Lower implements irql.Controller. Lowering to a level above the current one
// is a fatal programming error and leaves the level unchanged.
func (p *Processor) Lower(prior irql.Level) {
	current := p.Level()
	if prior > current {
		panic(fmt.Sprintf("cpu%d: lower to %v above current level %v", p.id, prior, current))
	}
	p.level.Store(uint32(prior))
}

// PostIPI latches an inter-processor interrupt request.
func (p *Processor) PostIPI() {
	p.ipiCount.Add(1)
	p.ipiPending.Store(true)
}

// IPIPending reports whether an IPI is latched and not yet taken.
func (p *Processor) IPIPending() bool {
	return p.ipiPending.Load()
}

// TakeIPI clears the latch and reports whether an IPI was pending.
func (p *Processor) TakeIPI() bool {
	return p.ipiPending.Swap(false)
}

// IPICount returns the number of IPIs ever posted to this processor.
func (p *Processor) IPICount() uint64 {
	return p.ipiCount.Load()
}

func (p *Processor) String() string {
	return fmt.Sprintf("cpu%d(level=%v, ipi=%v)", p.id, p.Level(), p.IPIPending())
}

var _ irql.Controller = (*Processor)(nil)
