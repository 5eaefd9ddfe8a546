package kernel

// sleepLock is anything Sleep can release before blocking and reacquire
// after waking: a process or pipe Spinlock in the common case, or
// waitSleepLock adapting Kernel.waitLock for Wait's use (see lifecycle.go).
type sleepLock interface {
	Acquire(*Cpu)
	Release(*Cpu)
}

// Sleep atomically releases lk and blocks the calling process on chan,
// reacquiring lk once woken. Mirrors proc.c's sleep(): p.lock is acquired
// before lk is released so that a concurrent Wakeup(chan), which itself
// acquires p.lock, can never run between "decide to sleep" and "record
// p.chan/p.state" - the exact race sleep()'s comment documents as the
// reason wakeup is safe from lost wakeups.
//
// chan is compared by identity (==), never dereferenced; callers
// conventionally pass the address of whatever condition they are waiting
// on (a *Proc for Wait, the address of a pipe's nread or nwrite counter for
// a pipe).
func (k *Kernel) Sleep(p *Proc, chanVal any, lk sleepLock) {
	c := p.currentCPU

	p.lock.Acquire(c)
	lk.Release(c)

	p.chanVal = chanVal
	p.state.Store(Sleeping)

	k.Sched(p)

	// p may have woken up on a different Cpu than the one it fell asleep
	// on; every lock operation from here on must use that current one.
	c = p.currentCPU
	p.chanVal = nil

	p.lock.Release(c)
	lk.Acquire(c)
}

// Wakeup wakes every process sleeping on chan, mirroring proc.c's wakeup():
// scans the whole table, skipping skip (there is no legitimate way to be
// asleep on your own wakeup call), and transitions any SLEEPING process
// waiting on chan to RUNNABLE. Must be called without holding any process's
// lock.
//
// Wakeup takes the calling Cpu explicitly rather than deriving it from
// skip, for the same reason Kill does: some callers have no process of their
// own at all (e.g. a pipe file's generic Close, which passes skip == nil and
// a private bare Cpu) - see pipe.go's use of newBareCPU. skip may be nil,
// which simply disables the skip-self check.
func (k *Kernel) Wakeup(c *Cpu, skip *Proc, chanVal any) {
	k.procs.forEach(func(p *Proc) {
		if p == skip {
			return
		}
		p.lock.Acquire(c)
		if p.state.Load() == Sleeping && p.chanVal == chanVal {
			p.state.Store(Runnable)
		}
		p.lock.Release(c)
	})
	k.wakeAllCPUs()
}
