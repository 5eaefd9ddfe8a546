package kernel

import (
	"fmt"
	"io"
	"sync"
)

// Kernel owns the process table and the set of simulated CPUs, and is the
// entry point for every operation in this package. It is the Go analogue of
// the reference kernel's global proc[NPROC] array, cpus[NCPU] array, and
// the pid_lock/wait_lock globals, bundled into one value instead of package
// globals so that multiple independent kernels can coexist in one process
// (useful for running the test suite's scenarios in parallel).
type Kernel struct {
	procs *ProcTable
	cpus  []*Cpu

	// adminCPU is a Cpu not included in cpus and never run by RunCPU: it
	// exists solely so that operations requiring a *Cpu for Spinlock
	// bookkeeping (Kill, chiefly) have something to pass when called from
	// outside any scheduled process's context, such as Shutdown's force-kill
	// sweep. It is never shared with a live scheduler goroutine, so its
	// push_off/pop_off nesting count is exclusively owned by whichever
	// goroutine calls into Shutdown.
	adminCPU *Cpu

	// waitLock serializes access to Proc.parent and backs reparent/Wait's
	// "parent changes are never observed under a process lock" discipline;
	// mirrors proc.c's wait_lock, which its own comment says "must be
	// acquired before any p->lock".
	waitLock sync.Mutex

	initOnce sync.Mutex

	fs Filesystem

	// vm is the external VM collaborator's prototype instance: UserInit
	// calls vm.Create() to mint the first process's PageTable, rather than
	// constructing the concrete fake type itself. Fork instead calls Create
	// on the parent's own PageTable.
	vm PageTable

	nofile int

	pipeSize int

	log *Logger

	shutdown chan struct{}
	wg       sync.WaitGroup

	// panicsMu guards panics, which accumulates a *PanicError for every
	// process body forkret recovers from. Collected here rather than
	// dropped on the floor so Shutdown can report them, the same way the
	// reference kernel would never let a single misbehaving process take
	// the whole machine down with it.
	panicsMu sync.Mutex
	panics   []error
}

// recordPanic records a process body panic recovered by forkret, logging it
// immediately (since the offending process's own goroutine is about to
// unwind and can report nothing else) and appending it to panics for
// Shutdown to later fold into its AggregateError.
func (k *Kernel) recordPanic(p *Proc, v any) {
	err := &PanicError{Pid: p.Pid(), Value: v}
	k.log.Error().Int("pid", p.Pid()).Str("name", p.Name()).
		Err(err).Log("process body panicked; process exiting with status 1")
	k.panicsMu.Lock()
	k.panics = append(k.panics, err)
	k.panicsMu.Unlock()
}

// New constructs a Kernel with its process table and CPUs, but does not
// start any scheduler goroutines - call RunCPU (typically once per CPU, in
// its own goroutine) to do that.
func New(opts ...KernelOption) (*Kernel, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger, err = NewLogger(LevelInfo)
		if err != nil {
			return nil, WrapError("construct default logger", err)
		}
	}

	k := &Kernel{
		procs:    newProcTable(cfg.nproc, cfg.nofile),
		nofile:   cfg.nofile,
		pipeSize: cfg.pipeSize,
		fs:       fakeFilesystem{},
		vm:       newFakePageTable(),
		log:      logger,
		shutdown: make(chan struct{}),
	}

	k.cpus = make([]*Cpu, cfg.ncpu)
	for i := range k.cpus {
		c, err := newCPU(i)
		if err != nil {
			return nil, WrapError("create CPU", err)
		}
		k.cpus[i] = c
	}

	adminCPU, err := newCPU(-1)
	if err != nil {
		return nil, WrapError("create admin CPU", err)
	}
	k.adminCPU = adminCPU

	k.log.Info().Int("nproc", cfg.nproc).Int("ncpu", cfg.ncpu).
		Int("nofile", cfg.nofile).Int("pipesize", cfg.pipeSize).
		Log("kernel constructed")

	return k, nil
}

// NPROC returns the process table's fixed size.
func (k *Kernel) NPROC() int { return len(k.procs.slots) }

// NCPU returns the number of simulated CPUs.
func (k *Kernel) NCPU() int { return len(k.cpus) }

// PipeAlloc creates a pipe sized to this Kernel's configured PIPESIZE
// (WithPipeSize, default 512), mirroring sys_pipe's call to pipealloc. The
// package-level NewPipe remains exported separately for callers (chiefly
// this package's own tests) that want an explicit size rather than the
// Kernel's configured default.
func (k *Kernel) PipeAlloc() (*PipeReader, *PipeWriter) {
	return NewPipe(k.pipeSize)
}

// spawnProcessGoroutine starts the persistent goroutine backing a freshly
// allocated process slot, running forkret to completion (which always ends
// in Exit, which never returns - see lifecycle.go).
func (k *Kernel) spawnProcessGoroutine(p *Proc) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.forkret(p)
	}()
}

// wakeAllCPUs posts a wake to every CPU's idle park, used whenever new work
// might exist for an idle CPU to pick up (UserInit, Fork, Wakeup, Kill,
// Shutdown), mirroring the reference kernel's scheduler design where any CPU
// might be the one to notice a newly RUNNABLE process on its next scan.
func (k *Kernel) wakeAllCPUs() {
	for _, c := range k.cpus {
		c.wake.wake()
	}
}

// RunCPU runs CPU index cpuIdx's scheduler loop until Shutdown is called,
// mirroring proc.c's scheduler(): repeatedly scan the table for a RUNNABLE
// process and run it; when a full scan finds nothing, park on the CPU's
// eventfd until woken. Intended to be called once per CPU, each in its own
// goroutine.
func (k *Kernel) RunCPU(cpuIdx int) {
	c := k.cpus[cpuIdx]
	c.bindGoroutine()

	for {
		select {
		case <-k.shutdown:
			return
		default:
		}

		ranAny := false
		for _, p := range k.procs.slots {
			if k.runOne(c, p) {
				ranAny = true
			}
			select {
			case <-k.shutdown:
				return
			default:
			}
		}

		if !ranAny {
			c.wake.park()
		}
	}
}

// Shutdown stops every CPU's RunCPU loop after its current scan completes,
// and waits for every still-running process goroutine to finish. Process
// goroutines only finish by calling Exit (directly or implicitly via
// forkret), so Shutdown first force-kills every non-zombie, non-unused
// process to guarantee termination, collecting any panics recovered from
// process bodies into an AggregateError.
func (k *Kernel) Shutdown() error {
	k.log.Info().Log("kernel shutdown requested")
	close(k.shutdown)
	k.wakeAllCPUs()

	var errs []error
	k.procs.forEach(func(p *Proc) {
		switch p.State() {
		case Unused, Zombie:
			return
		}
		if err := k.Kill(k.adminCPU, p.Pid()); err != nil && p.Pid() != 0 {
			// Pid() may be 0 transiently for a slot not yet fully
			// allocated; that is not a real failure.
			errs = append(errs, err)
		}
	})
	k.wakeAllCPUs()

	k.wg.Wait()

	k.panicsMu.Lock()
	errs = append(errs, k.panics...)
	k.panicsMu.Unlock()

	if len(errs) > 0 {
		k.log.Error().Int("errors", len(errs)).Log("kernel shutdown completed with errors")
		return &AggregateError{Errors: errs}
	}
	k.log.Info().Log("kernel shutdown completed")
	return nil
}

// Dump writes a process listing to w, one line per non-UNUSED slot,
// mirroring proc.c's procdump(): pid, state, name. Intended for debugging,
// never called by any other operation in this package.
func (k *Kernel) Dump(w io.Writer) error {
	_, err := fmt.Fprintln(w)
	if err != nil {
		return err
	}
	var writeErr error
	k.procs.forEach(func(p *Proc) {
		if writeErr != nil {
			return
		}
		if p.State() == Unused {
			return
		}
		_, writeErr = fmt.Fprintf(w, "%d %-8s %s\n", p.Pid(), p.State(), p.Name())
	})
	return writeErr
}
