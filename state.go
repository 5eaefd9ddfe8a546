package kernel

import (
	"sync/atomic"
)

// ProcState is the state of a process table slot.
//
// State machine:
//
//	UNUSED   -> USED      [allocate_slot]
//	USED     -> RUNNABLE  [fork / user_init, once setup is complete]
//	RUNNABLE -> RUNNING   [scheduler picks the slot]
//	RUNNING  -> RUNNABLE  [yield]
//	RUNNING  -> SLEEPING  [sleep]
//	RUNNING  -> ZOMBIE    [exit]
//	SLEEPING -> RUNNABLE  [wakeup / kill]
//	ZOMBIE   -> UNUSED    [wait reaps the slot]
//
// Every transition above is a plain Store performed by the single goroutine
// already holding the slot's Spinlock at the time - the lock, not the atomic
// word, is what makes each transition race-free. The atomic word exists so
// readers outside the lock, such as Proc.State (used by Shutdown's sweep and
// Dump), can Load() a slot's state without acquiring its lock; the scans in
// runOne, Wakeup, Wait and Kill take each slot's lock before they Load. See
// AtomicProcState.
type ProcState uint32

const (
	// Unused marks a free process table slot.
	Unused ProcState = iota
	// Used marks a slot that has been allocated a PID but is not yet
	// runnable (allocation still in progress).
	Used
	// Sleeping marks a process blocked in Sleep, waiting on a channel.
	Sleeping
	// Runnable marks a process ready to be scheduled.
	Runnable
	// Running marks the process currently executing on a CPU.
	Running
	// Zombie marks an exited process awaiting reaping by its parent's Wait.
	Zombie
)

func (s ProcState) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Used:
		return "USED"
	case Sleeping:
		return "SLEEPING"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// AtomicProcState is a cache-line-padded, lock-free state word for a process
// slot.
//
// It is not the sole source of truth for a slot's state: every transition
// still happens with the slot's Spinlock held, exactly as the reference
// kernel requires. AtomicProcState exists so that Proc.State can Load()
// without taking the slot's lock (the scheduler's scan in runOne takes the
// lock before it loads), while writers still transition under the lock. Padding avoids false sharing between a
// slot being scanned on one CPU and mutated on another.
type AtomicProcState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte
	v atomic.Uint32
	_ [sizeOfCacheLine - 4]byte
}

// NewAtomicProcState creates a state word initialized to Unused.
func NewAtomicProcState() *AtomicProcState {
	s := &AtomicProcState{}
	s.v.Store(uint32(Unused))
	return s
}

// Load returns the current state.
func (s *AtomicProcState) Load() ProcState {
	return ProcState(s.v.Load())
}

// Store unconditionally sets the state. Callers must hold the slot's lock.
func (s *AtomicProcState) Store(state ProcState) {
	s.v.Store(uint32(state))
}
