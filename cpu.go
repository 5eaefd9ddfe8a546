package kernel

import (
	"runtime"
	"sync/atomic"
)

// Cpu is the per-CPU state a scheduler goroutine owns for its lifetime,
// mirroring the reference kernel's struct cpu: the process currently
// running on it, saved scheduler bookkeeping, and spinlock nesting depth.
//
// A Cpu is pinned to exactly one goroutine by RunCPU (via
// runtime.LockOSThread, matching the teacher's single-loop-goroutine
// affinity pattern generalized from one loop to NCPU schedulers), which
// records the owning goroutine's ID in goroutineID (see isCurrentGoroutine).
// That a lock is released by the CPU that acquired it is checked by
// Spinlock.Release, which compares the holder *Cpu, not goroutine IDs.
type Cpu struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte

	id int

	// proc is the process currently RUNNING on this CPU, or nil.
	proc atomic.Pointer[Proc]

	// noff counts nested push_off calls (Spinlock.Acquire); interrupts
	// (simulated: nothing real is disabled) are considered "off" while
	// noff > 0. intena is cleared by the first push_off and is not read or
	// restored anywhere: pop_off only decrements noff.
	noff   int
	intena bool

	goroutineID atomic.Uint64

	// wake is the eventfd (Linux) or channel (other platforms) this CPU
	// parks on when it finds no RUNNABLE process to run; see
	// idle_linux.go/idle_other.go.
	wake *wakeFd

	_ [sizeOfCacheLine]byte
}

// newCPU creates CPU state for scheduler id: an index in [0, NCPU), or -1
// for the Kernel's adminCPU.
func newCPU(id int) (*Cpu, error) {
	w, err := newWakeFd()
	if err != nil {
		return nil, err
	}
	return &Cpu{id: id, wake: w}, nil
}

// newBareCPU creates Cpu state with no wakeFd, for bookkeeping-only use by a
// single, never-shared value that is never scheduled and never parks - such
// as the private Cpu each pipe-backed File handle holds for its own Close.
// Unlike a scheduler's Cpu, a bare Cpu has no bound goroutine; callers must
// guarantee it is never touched by more than one goroutine at a time, since
// Spinlock.Acquire/Release mutate its noff/intena fields without their own
// synchronization.
func newBareCPU(id int) *Cpu {
	return &Cpu{id: id}
}

// bindGoroutine records the calling goroutine as this CPU's owner. Must be
// called once, at the top of RunCPU, before any Spinlock is acquired.
func (c *Cpu) bindGoroutine() {
	runtime.LockOSThread()
	c.goroutineID.Store(getGoroutineID())
}

// isCurrentGoroutine reports whether the calling goroutine is the one bound
// to this CPU.
func (c *Cpu) isCurrentGoroutine() bool {
	id := c.goroutineID.Load()
	return id != 0 && id == getGoroutineID()
}

// pushOff increments the interrupt-disable nesting count. On the first
// nesting level it would disable interrupts on real hardware; here it only
// clears intena, which nothing restores.
func (c *Cpu) pushOff() {
	if c.noff == 0 {
		c.intena = false
	}
	c.noff++
}

// popOff decrements the interrupt-disable nesting count, panicking if called
// while already at zero (mirrors the reference kernel's pop_off
// precondition panic).
func (c *Cpu) popOff() {
	if c.noff < 1 {
		violate("pop_off called without matching push_off")
	}
	c.noff--
}

// getGoroutineID returns the calling goroutine's runtime ID, parsed from
// runtime.Stack, exactly as the teacher's eventloop package identifies its
// single loop goroutine.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
