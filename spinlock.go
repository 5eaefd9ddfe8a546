package kernel

import (
	"sync"
	"sync/atomic"
)

// Spinlock guards a single process table slot (or a pipe; the kernel's
// pid and wait locks are plain sync.Mutex values). It is a thin wrapper over sync.Mutex: real spinlocks
// exist to avoid the cost of parking a hart with interrupts disabled, which
// has no equivalent on a goroutine scheduler, so this package uses a mutex
// for the actual exclusion and reserves the name "Spinlock" for the
// lock-ordering discipline the reference kernel enforces around acquire/
// release (see Kernel.waitLock, and Proc.lock).
//
// Acquire/Release additionally track which CPU holds the lock, so Sched's
// precondition checks (noff == 1, lock held by the calling CPU) are real
// assertions rather than unchecked trust.
type Spinlock struct {
	mu     sync.Mutex
	holder atomic.Pointer[Cpu]
}

// Acquire blocks until the lock is held, recording c as the holder and
// bumping c's interrupt-disable nesting count (push_off).
func (l *Spinlock) Acquire(c *Cpu) {
	l.mu.Lock()
	l.holder.Store(c)
	c.pushOff()
}

// Release records the lock as free and unwinds c's interrupt-disable
// nesting count (pop_off). Panics if c does not hold the lock, matching the
// reference kernel's release() precondition check.
func (l *Spinlock) Release(c *Cpu) {
	if l.holder.Load() != c {
		violate("release of spinlock not held by calling CPU")
	}
	l.holder.Store(nil)
	c.popOff()
	l.mu.Unlock()
}

// Holding reports whether c currently holds the lock.
func (l *Spinlock) Holding(c *Cpu) bool {
	return l.holder.Load() == c
}
