// Package spinlock provides the busy-wait lock that serializes access to the
// interrupt controller from any execution context.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// spinsBeforeYield bounds how long Acquire spins before yielding the host
// thread. Simulated processors are goroutines sharing that thread.
const spinsBeforeYield = 64

var yieldFn = runtime.Gosched

// Lock is a non-recursive spin lock. The zero value is unlocked.
type Lock struct {
	state atomic.Uint32
}

// Acquire spins until the lock is held by the caller. Re-acquiring a lock the
// caller already holds deadlocks.
func (l *Lock) Acquire() {
	for spins := 0; ; spins++ {
		if l.state.Load() == 0 && l.state.CompareAndSwap(0, 1) {
			return
		}
		if spins >= spinsBeforeYield {
			spins = 0
			yieldFn()
		}
	}
}

// TryAcquire takes the lock if it is free and reports whether it did.
func (l *Lock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Releasing a free lock has no effect.
func (l *Lock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently taken by someone.
func (l *Lock) Held() bool {
	return l.state.Load() != 0
}
