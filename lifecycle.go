package kernel

import (
	"encoding/binary"
	"runtime"
)

// exitStatusSize is the width Wait's CopyOut writes a reaped child's xstate
// in: a fixed 4-byte little-endian int32, the narrowest encoding that still
// round-trips every value Exit's status parameter (an int) can carry in
// practice.
const exitStatusSize = 4

// encodeExitStatus renders status as the little-endian bytes Wait copies out
// to the caller's statusAddr.
func encodeExitStatus(status int) []byte {
	buf := make([]byte, exitStatusSize)
	binary.LittleEndian.PutUint32(buf, uint32(int32(status)))
	return buf
}

// initcodeBlob is a stand-in for the reference kernel's hard-coded
// initcode[] byte array: an opaque binary blob staged into the first
// process's address space by UserInit and never interpreted by this
// package (execution of it is the external, unimplemented, user-mode
// world). Kept only so UserInit has something concrete to hand to
// PageTable's fake implementation in tests.
var initcodeBlob = []byte{
	0x17, 0x05, 0x00, 0x00, 0x13, 0x05, 0x45, 0x02,
	0x97, 0x05, 0x00, 0x00, 0x93, 0x85, 0x35, 0x02,
	0x93, 0x08, 0x70, 0x00, 0x73, 0x00, 0x00, 0x00,
}

// UserInit creates the first process in the system, mirroring proc.c's
// userinit(): allocates a slot, initializes its address space from
// initcodeBlob, names it "initcode", and marks it RUNNABLE. It is an error
// to call UserInit more than once, and returns ErrKernelShutdown if
// Kernel.Shutdown has already been called.
func (k *Kernel) UserInit(c *Cpu, runBody func(k *Kernel, p *Proc)) (*Proc, error) {
	k.initOnce.Lock()
	defer k.initOnce.Unlock()
	if k.procs.initProc != nil {
		return nil, WrapError("UserInit", &InvariantError{Message: "UserInit called more than once"})
	}

	select {
	case <-k.shutdown:
		return nil, ErrKernelShutdown
	default:
	}

	p, err := k.procs.allocateSlot(c)
	if err != nil {
		return nil, err
	}

	pt, err := k.vm.Create()
	if err != nil {
		p.lock.Release(c)
		return nil, err
	}
	kstack, err := pt.AllocKernelStack()
	if err != nil {
		p.lock.Release(c)
		return nil, err
	}
	pt.InitFirstProcess(initcodeBlob)
	p.pt = pt
	p.um = pt.(UserMemory)
	p.kstack = kstack
	p.cwd = k.fs.RootDir()
	p.name = "initcode"
	p.runBody = runBody

	k.procs.initProc = p
	p.state.Store(Runnable)
	p.lock.Release(c)

	k.log.Info().Int("pid", p.Pid()).Str("name", p.Name()).Log("init process created")

	k.spawnProcessGoroutine(p)
	k.wakeAllCPUs()
	return p, nil
}

// GrowProc grows or shrinks the calling process's address space by n bytes
// (n may be negative), mirroring proc.c's growproc().
func (k *Kernel) GrowProc(p *Proc, n int) error {
	sz := p.sz
	if n > 0 {
		newSz, err := p.pt.Alloc(sz, sz+uintptr(n))
		if err != nil {
			return err
		}
		p.sz = newSz
	} else if n < 0 {
		p.sz = p.pt.Dealloc(sz, sz+uintptr(n))
	}
	return nil
}

// Fork creates a new process by copying the calling process p, mirroring
// proc.c's fork(): allocate a slot, copy the address space, duplicate open
// file descriptors and cwd, copy the name, link parent under waitLock (held
// separately from p.lock, exactly as proc.c orders it), and mark the child
// RUNNABLE. Returns the child's pid, or ErrKernelShutdown if Kernel.Shutdown
// has already been called.
func (k *Kernel) Fork(c *Cpu, p *Proc, runBody func(k *Kernel, p *Proc)) (int, error) {
	select {
	case <-k.shutdown:
		return -1, ErrKernelShutdown
	default:
	}

	np, err := k.procs.allocateSlot(c)
	if err != nil {
		return -1, err
	}

	childPT, err := p.pt.Create()
	if err != nil {
		np.lock.Release(c)
		return -1, err
	}
	if err := p.pt.Copy(childPT, p.sz); err != nil {
		np.lock.Release(c)
		return -1, err
	}
	kstack, err := childPT.AllocKernelStack()
	if err != nil {
		np.lock.Release(c)
		return -1, err
	}
	np.pt = childPT
	np.um = childPT.(UserMemory)
	np.kstack = kstack
	np.sz = p.sz

	np.ofile = make([]File, len(p.ofile))
	for i, f := range p.ofile {
		if f != nil {
			np.ofile[i] = f.Dup()
		}
	}
	if p.cwd != nil {
		np.cwd = p.cwd.Dup()
	}
	np.name = p.name
	np.runBody = runBody

	pid := np.pid
	np.lock.Release(c)

	k.waitLock.Lock()
	np.parent = p
	k.waitLock.Unlock()

	np.lock.Acquire(c)
	np.state.Store(Runnable)
	np.lock.Release(c)

	k.log.Info().Int("pid", pid).Int("parent_pid", p.Pid()).Str("name", np.Name()).
		Log("process forked")

	k.spawnProcessGoroutine(np)
	k.wakeAllCPUs()
	return pid, nil
}

// reparent passes p's children to the init process, mirroring proc.c's
// reparent(). Caller must hold k.waitLock.
func (k *Kernel) reparent(p *Proc) {
	c := p.currentCPU
	k.procs.forEach(func(pp *Proc) {
		if pp.parent == p {
			pp.parent = k.procs.initProc
			k.Wakeup(c, p, k.procs.initProc)
		}
	})
}

// Exit terminates the calling process p with the given status, mirroring
// proc.c's exit(): close every open file descriptor, release cwd inside a
// filesystem operation bracket, reparent any children, wake the parent's
// Wait, record xstate and transition to ZOMBIE, then hand control back to
// the scheduler one last time.
//
// Exit never returns to its caller: after the final handoff, Sched blocks
// the calling goroutine on resumeCh, and no scheduler resumes a zombie.
// Like the reference kernel's exit(), reaching past that handoff would mean
// a zombie process resumed running, which can only be a kernel bug, so if
// Sched ever did return, Exit panics with an InvariantError; the
// runtime.Goexit after that panic is not reached.
func (k *Kernel) Exit(p *Proc, status int) {
	c := p.currentCPU
	if p == k.procs.initProc {
		violate("init process exiting")
	}

	for i, f := range p.ofile {
		if f != nil {
			f.Close()
			p.ofile[i] = nil
		}
	}

	if k.fs != nil {
		k.fs.BeginOp()
	}
	if p.cwd != nil {
		p.cwd.Put()
		p.cwd = nil
	}
	if k.fs != nil {
		k.fs.EndOp()
	}

	k.waitLock.Lock()
	k.reparent(p)
	k.Wakeup(c, p, p.parent)

	p.lock.Acquire(c)
	p.xstate = status
	p.state.Store(Zombie)
	k.waitLock.Unlock()

	k.log.Info().Int("pid", p.Pid()).Int("status", status).Log("process exited")

	k.Sched(p)
	violate("zombie process resumed after exit")
	runtime.Goexit()
}

// Wait blocks until a child of p exits, reaps it, and copies its exit status
// out to p's user memory at statusAddr via p.um.CopyOut, returning its pid.
// Returns ErrNoChildren if p has no children at all, and ErrProcKilled if p
// is killed while waiting, mirroring proc.c's wait().
//
// The CopyOut happens before the reaped child's slot is freed, exactly as
// wait() copies out np->xstate before calling freeproc: if it fails, both
// locks are released and Wait returns -1 and the error without freeing the
// slot, leaving the child a zombie still reapable by a future Wait call.
func (k *Kernel) Wait(p *Proc, statusAddr uintptr) (int, error) {
	k.waitLock.Lock()

	for {
		// re-read every iteration: the Sleep call at the bottom of the
		// previous iteration may have handed p back on a different Cpu.
		c := p.currentCPU
		haveKids := false
		var (
			reapedPid int
			reaped    bool
			copyErr   error
		)

		k.procs.forEach(func(np *Proc) {
			if reaped || copyErr != nil || np.parent != p {
				return
			}
			np.lock.Acquire(c)
			haveKids = true
			if np.state.Load() == Zombie {
				if err := p.um.CopyOut(statusAddr, encodeExitStatus(np.xstate)); err != nil {
					copyErr = err
					np.lock.Release(c)
					return
				}
				reapedPid = np.pid
				freeSlot(np)
				reaped = true
			}
			np.lock.Release(c)
		})

		if copyErr != nil {
			k.waitLock.Unlock()
			return -1, copyErr
		}

		if reaped {
			k.waitLock.Unlock()
			return reapedPid, nil
		}

		if !haveKids || p.killed {
			k.waitLock.Unlock()
			if !haveKids {
				return -1, ErrNoChildren
			}
			return -1, ErrProcKilled
		}

		k.Sleep(p, p, &waitSleepLock{k})
	}
}

// waitSleepLock adapts k.waitLock (a plain sync.Mutex under the reference
// kernel's own wait_lock, not a Spinlock) to the Spinlock-shaped Release/
// Acquire pair Sleep expects, since Wait sleeps on k.waitLock rather than a
// process or pipe lock.
type waitSleepLock struct {
	k *Kernel
}

func (w *waitSleepLock) Release(*Cpu) { w.k.waitLock.Unlock() }
func (w *waitSleepLock) Acquire(*Cpu) { w.k.waitLock.Lock() }

// Kill marks the process with the given pid as killed, waking it if it is
// sleeping, mirroring proc.c's kill(). The victim does not stop immediately
// - only at its own next checkpoint (an iteration of Wait's loop, or of a
// pipe read/write loop) - exactly as the reference kernel's comment notes the
// victim "won't exit until it tries to return to user space".
//
// Kill takes the calling CPU rather than a calling *Proc: like the
// reference kernel's kill(), it reads no field of any caller process, only
// mycpu()'s lock-nesting bookkeeping, so a process body calls it as
// k.Kill(p.CPU(), pid) and administrative callers with no process context of
// their own (Shutdown) pass the kernel's dedicated adminCPU.
func (k *Kernel) Kill(c *Cpu, pid int) error {
	found := false
	k.procs.forEach(func(p *Proc) {
		if found {
			return
		}
		p.lock.Acquire(c)
		if p.pid == pid {
			found = true
			p.killed = true
			if p.state.Load() == Sleeping {
				p.state.Store(Runnable)
			}
		}
		p.lock.Release(c)
	})
	if !found {
		return ErrNoSuchProcess
	}
	k.log.Info().Int("pid", pid).Log("process killed")
	k.wakeAllCPUs()
	return nil
}
