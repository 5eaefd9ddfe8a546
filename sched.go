package kernel

// Sched switches away from the calling process, back to its CPU's scheduler
// loop. The caller must hold p.lock and must already have changed p.state
// to something other than Running; Sched panics otherwise, matching the
// reference kernel's sched() precondition checks (p->lock held,
// mycpu()->noff == 1, p->state != RUNNING). There is no interrupt flag to
// check in this model, so the reference kernel's intr_get() precondition
// has no analogue here.
//
// Sched is the point where control returns to the scheduler: it releases
// p.lock, signals p's doneCh (waking the scheduler goroutine blocked in
// runOne waiting for this process to yield the CPU), and then blocks on
// p.resumeCh until the scheduler chooses to run this slot again - at which
// point it reacquires p.lock before returning, so every caller (Yield,
// Sleep, Exit) gets its usual "returns/ends with p.lock held" contract back.
//
// The release is not optional bookkeeping: while a process is off the CPU
// (RUNNABLE awaiting its next turn, or SLEEPING), code running on another
// goroutine entirely - runOne re-scanning the table, Wakeup, Wait reaping a
// zombie child - must be able to acquire this same p.lock to inspect or
// mutate the slot. Holding it across the park, the way the reference
// kernel's swtch momentarily appears to from either side's point of view,
// would deadlock every one of those callers against this parked goroutine.
//
// p.currentCPU may differ before and after the park (the slot can be picked
// up by a different CPU's scheduler loop than the one that parked it), so
// Sched re-reads it rather than reusing the CPU captured at entry.
func (k *Kernel) Sched(p *Proc) {
	c := p.currentCPU
	if c == nil || !p.lock.Holding(c) {
		violate("sched: p.lock not held")
	}
	if c.noff != 1 {
		violate("sched: locks held across switch")
	}
	if p.state.Load() == Running {
		violate("sched: process state is still RUNNING")
	}

	p.lock.Release(c)
	p.doneCh <- struct{}{}
	<-p.resumeCh
	p.lock.Acquire(p.currentCPU)
}

// Yield gives up the CPU for one scheduling round, mirroring proc.c's
// yield(): re-marks the process RUNNABLE and calls Sched.
func (k *Kernel) Yield(p *Proc) {
	p.lock.Acquire(p.currentCPU)
	p.state.Store(Runnable)
	k.Sched(p)
	// Sched may return with p rescheduled onto a different Cpu than the one
	// it yielded on; release the lock against whichever one actually holds
	// it now.
	p.lock.Release(p.currentCPU)
}

// runOne runs a single RUNNABLE process to its next yield point (a call to
// Yield, Sleep, or Exit, or the natural return of its runBody), mirroring
// one iteration of proc.c's scheduler() inner loop: acquire p->lock, check
// RUNNABLE, set RUNNING, swtch, then c->proc = 0 on return. Reports whether
// a process was actually run.
//
// The "swtch" here is a goroutine handoff: the process's body runs in its
// own goroutine, spawned once at creation time (see lifecycle.go) and
// parked on resumeCh. Running it is a send on resumeCh followed by a
// receive on doneCh.
func (k *Kernel) runOne(c *Cpu, p *Proc) bool {
	p.lock.Acquire(c)
	if p.state.Load() != Runnable {
		p.lock.Release(c)
		return false
	}

	p.state.Store(Running)
	c.proc.Store(p)
	p.currentCPU = c
	p.lock.Release(c)

	p.resumeCh <- struct{}{}
	<-p.doneCh

	c.proc.Store(nil)
	return true
}

// forkret is the first thing a freshly allocated process's goroutine runs,
// mirroring proc.c's forkret(): the scheduler has already released the
// lock it held across the switch (runOne releases p.lock before sending on
// resumeCh, since there is no assembly return path here that needs it held
// a moment longer), so forkret only has to run the process body and then
// exit if the body returned without calling Exit itself - mirroring what
// happens when a user program's main falls off the end.
//
// A runBody that panics is recovered here rather than left to crash the
// whole program: one misbehaving process is isolated from the rest of the
// table, the same way a real kernel survives a single user program faulting.
// An *InvariantError is never recovered - it means this package's own
// bookkeeping is broken, not the process body's, and must surface exactly
// like any other unrecovered panic.
func (k *Kernel) forkret(p *Proc) {
	<-p.resumeCh

	status := 0
	func() {
		defer func() {
			if v := recover(); v != nil {
				if _, ok := v.(*InvariantError); ok {
					panic(v)
				}
				k.recordPanic(p, v)
				status = 1
			}
		}()
		if p.runBody != nil {
			p.runBody(k, p)
		}
	}()

	// runBody returned (or panicked and was recovered) without calling Exit
	// itself: implicit exit(status), mirroring a user program's main falling
	// off the end, or a crashed program's shell reporting failure. Exit
	// never returns (see its doc comment in lifecycle.go).
	k.Exit(p, status)
}
