package kernel

import (
	"sync"
)

// Proc is one process table slot. Every field is guarded by lock except
// where noted. Callers outside this package receive a *Proc from UserInit
// and as a process body's argument, and read it through its accessor
// methods.
type Proc struct {
	lock Spinlock

	state *AtomicProcState

	// pid is 0 for an UNUSED slot, allocated once when the slot transitions
	// to USED.
	pid int

	// killed is set by Kill and observed by the process itself at
	// well-defined checkpoints (Wait's loop, pipe read/write loops),
	// exactly as the reference kernel's p->killed flag is.
	killed bool

	// chan is the opaque wait channel this process is sleeping on, or nil.
	// Comparison is by identity (the address a Sleep call was given), never
	// dereferenced.
	chanVal any

	// xstate is the exit status recorded by Exit, read by the parent's Wait.
	xstate int

	// sz is the size, in bytes, of the process's address space.
	sz uintptr

	name string

	// parent is guarded by Kernel.waitLock, never by lock - see proc.c's
	// own comment on wait_lock preceding this exact field.
	parent *Proc

	// ofile models the reference kernel's per-process open file table.
	ofile []File
	cwd   Inode

	pt PageTable
	um UserMemory

	// kstack is the opaque handle PageTable.AllocKernelStack returned for
	// this process. This package never dereferences it - it is recorded
	// purely so a real backend has somewhere to keep it.
	kstack uintptr

	// currentCPU is the Cpu that most recently ran this process, set by
	// runOne just before handing it control. runOne does not clear it when
	// control comes back, so it keeps naming the last Cpu while the process
	// is off-CPU. It plays the role of mycpu()/myproc() in the reference
	// kernel: Sched, Yield, Sleep, and Exit read it to find which CPU's
	// bookkeeping (noff, parked eventfd) they are operating on, so process
	// bodies call k.Yield(p)/k.Sleep(p, chan, lk)/k.Exit(p, status) without
	// threading a *Cpu through every call themselves.
	currentCPU *Cpu

	// runBody is the child's program, supplied to Fork/UserInit. It runs on
	// whichever CPU schedules this slot; returning ends the process exactly
	// as reaching the end of main() would trigger an implicit exit in a
	// real OS (here, forkret calls Exit(0) if runBody returns without the
	// process having exited itself).
	runBody func(k *Kernel, p *Proc)

	// resumeCh/doneCh coordinate the cooperative "context switch": runOne
	// sends on resumeCh to let the process goroutine proceed and blocks on
	// doneCh until that goroutine calls into Sched (via Yield, Sleep, or
	// Exit), which sends on doneCh.
	resumeCh chan struct{}
	doneCh   chan struct{}
}

// ProcTable is the fixed-size process table, sized NPROC at construction.
type ProcTable struct {
	slots []*Proc

	// nofile sizes every slot's ofile table on allocation, mirroring
	// struct proc's fixed ofile[NOFILE] array (here a slice, since NOFILE
	// is a runtime-configured KernelOption rather than a compile-time
	// constant).
	nofile int

	pidLock sync.Mutex
	nextPid int

	initProc *Proc
}

func newProcTable(nproc, nofile int) *ProcTable {
	t := &ProcTable{
		slots:   make([]*Proc, nproc),
		nofile:  nofile,
		nextPid: 1,
	}
	for i := range t.slots {
		p := &Proc{
			state:    NewAtomicProcState(),
			resumeCh: make(chan struct{}),
			doneCh:   make(chan struct{}),
		}
		t.slots[i] = p
	}
	return t
}

// allocatePid returns a fresh, monotonically increasing pid, serialized by
// its own lock (never folded into the process's own lock or an atomic),
// matching proc.c's allocpid and the pid_lock lock-order invariant.
func (t *ProcTable) allocatePid() int {
	t.pidLock.Lock()
	defer t.pidLock.Unlock()
	pid := t.nextPid
	t.nextPid++
	return pid
}

// allocateSlot scans the table for an UNUSED slot, transitions it to USED,
// assigns a pid, and returns it with its lock held - mirroring allocproc's
// "return with p->lock held" contract. Returns ErrNoFreeSlot if the table is
// full, exactly as allocproc returns 0.
func (t *ProcTable) allocateSlot(c *Cpu) (*Proc, error) {
	for _, p := range t.slots {
		p.lock.Acquire(c)
		if p.state.Load() == Unused {
			p.pid = t.allocatePid()
			p.state.Store(Used)
			p.killed = false
			p.xstate = 0
			p.sz = 0
			p.chanVal = nil
			p.parent = nil
			p.name = ""
			p.ofile = make([]File, t.nofile)
			return p, nil
		}
		p.lock.Release(c)
	}
	return nil, ErrNoFreeSlot
}

// freeSlot resets a slot to UNUSED. Callers must hold p.lock, and it is not
// released here - matching freeproc's "p->lock must be held" contract,
// leaving release to the caller (typically Wait, right before returning).
func freeSlot(p *Proc) {
	p.pt = nil
	p.um = nil
	p.kstack = 0
	p.ofile = nil
	p.cwd = nil
	p.pid = 0
	p.parent = nil
	p.name = ""
	p.chanVal = nil
	p.killed = false
	p.xstate = 0
	p.sz = 0
	p.runBody = nil
	p.state.Store(Unused)
}

// forEach calls fn for every slot in table order, without acquiring any
// lock - used by scans that take each slot's lock themselves (scheduler,
// wakeup, kill, wait, reparent), mirroring the reference kernel's bare
// `for(p = proc; p < &proc[NPROC]; p++)` loops.
func (t *ProcTable) forEach(fn func(p *Proc)) {
	for _, p := range t.slots {
		fn(p)
	}
}

// Pid returns the process's pid. Safe to call without the slot's lock: pid
// is immutable between allocation and free, and the caller is assumed to
// hold a reference obtained while it was valid.
func (p *Proc) Pid() int { return p.pid }

// State returns the process's current state.
func (p *Proc) State() ProcState { return p.state.Load() }

// Name returns the process's name, as set by Fork or UserInit.
func (p *Proc) Name() string { return p.name }

// Killed reports whether Kill has been called for this process.
func (p *Proc) Killed() bool { return p.killed }

// ExitStatus returns the status Exit recorded. Only meaningful once State()
// is Zombie.
func (p *Proc) ExitStatus() int { return p.xstate }

// CPU returns the Cpu currently running this process, or nil if it is not
// presently scheduled on any CPU. Intended for call sites that need to pass
// a process's own CPU into a package function taking one explicitly, such
// as Kill.
func (p *Proc) CPU() *Cpu { return p.currentCPU }
