// Package kernel implements the process subsystem and pipe IPC primitive of
// a small RISC-V-like teaching kernel: a fixed-size process table, a
// per-CPU round-robin scheduler, sleep/wakeup rendezvous, fork/exit/wait/kill
// process lifecycle, and a bounded ring-buffer pipe.
//
// # Architecture
//
// A [Kernel] owns the process table ([ProcTable]) and a fixed set of
// simulated CPUs ([Cpu]). Each CPU runs [Kernel.RunCPU] in its own goroutine,
// repeatedly scanning the table for a RUNNABLE process, "switching" to it
// (running its body to completion or until it calls [Kernel.Yield] or
// [Kernel.Sleep]), and parking on an eventfd when nothing is runnable. This
// mirrors the reference scheduler loop, with goroutines standing in for
// harts and eventfds standing in for the interrupt that would otherwise wake
// an idle one.
//
// Process lifecycle ([Kernel.Fork], [Kernel.Exit], [Kernel.Wait],
// [Kernel.Kill]) and the sleep/wakeup rendezvous ([Kernel.Sleep],
// [Kernel.Wakeup]) reproduce the reference kernel's semantics, including
// lock ordering (the wait lock before any process lock, never the reverse),
// zombie reparenting to the init process, and lost-wakeup avoidance by
// holding the sleeping process's own lock across the state transition.
//
// # Concurrency
//
// Every process slot is guarded by its own [Spinlock]. The kernel's wait
// lock guards the parent/child relationship and must never be acquired
// while holding a slot lock. PID allocation is serialized by a dedicated
// lock, never folded into a bare atomic counter, so the "pid lock held
// alone" lock-order invariant is a real, checkable property rather than
// vacuous.
//
// # External collaborators
//
// Page tables, user memory, the file/inode layer, and register-level
// context switching are modeled as narrow interfaces in external.go
// ([PageTable], [UserMemory], [File], [Filesystem], [Inode],
// [ContextSwitch]) that this package consumes but does not implement beyond
// the in-memory fakes used by its own tests.
//
// # Logging and configuration
//
// Structured logging goes through [github.com/joeycumines/logiface], backed
// by zerolog via [github.com/joeycumines/izerolog] (see [NewLogger]).
// [Kernel] construction is configured with functional [KernelOption] values
// (see [WithNPROC], [WithNCPU], [WithNOFILE], [WithPipeSize]).
package kernel
