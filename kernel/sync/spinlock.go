// Package sync provides the spinlock guarding the kernel's memory-management
// singletons.
package sync

import "sync/atomic"

// spinsBeforeYield is the number of failed compare-and-swap attempts after
// which a waiter calls yieldFn.
const spinsBeforeYield = 128

var (
	// yieldFn stays nil until the kernel can switch tasks.
	yieldFn func()
)

// Spinlock is a busy-waiting mutual exclusion lock. The zero value is an
// unlocked Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire spins until the lock is taken by the caller. Locks are not
// reentrant: acquiring a lock the caller already holds never returns.
func (l *Spinlock) Acquire() {
	for spins := 1; !atomic.CompareAndSwapUint32(&l.state, 0, 1); spins++ {
		if spins%spinsBeforeYield == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire takes the lock if it is free and reports whether it did.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release frees the lock. Releasing a free lock is a no-op.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
