// Package kernel: error sentinels and wrapped-cause error types.
package kernel

import (
	"errors"
	"fmt"
)

// Sentinel errors for recoverable conditions. Invariant violations (lock
// ordering, illegal state transitions, calling Sched with the wrong
// precondition) are never returned as errors - they panic, matching the
// reference kernel's own "these can never legitimately happen" panics.
var (
	// ErrNoFreeSlot is returned by allocate_slot when every process table
	// slot is in use.
	ErrNoFreeSlot = errors.New("kernel: no free process slots")

	// ErrNoChildren is returned by Wait when the calling process has no
	// children, living or zombie.
	ErrNoChildren = errors.New("kernel: no children to wait for")

	// ErrProcKilled is returned by Wait when the calling process was
	// killed while waiting and gives up before a child exited.
	ErrProcKilled = errors.New("kernel: process killed while waiting")

	// ErrNoSuchProcess is returned by Kill when no process has the given pid.
	ErrNoSuchProcess = errors.New("kernel: no such process")

	// ErrPipeClosed is returned by PipeWriter.Write when the read end has
	// been closed or the calling process has been killed. PipeReader.Read
	// does not return it: reading a drained pipe whose write end has closed
	// returns 0 bytes and a nil error (EOF).
	ErrPipeClosed = errors.New("kernel: pipe closed")

	// ErrProcessKilled is returned by PipeReader.Read when the calling
	// process was killed while blocked on an empty pipe.
	ErrProcessKilled = errors.New("kernel: process killed")

	// ErrOutOfMemory is returned when the external PageTable collaborator
	// fails to allocate (kalloc/uvmalloc equivalent failures).
	ErrOutOfMemory = errors.New("kernel: out of memory")

	// ErrKernelShutdown is returned by operations attempted after
	// Kernel.Shutdown has been called.
	ErrKernelShutdown = errors.New("kernel: kernel is shutting down")
)

// PanicError wraps a value recovered from a panic inside a process body,
// preserving it as an error cause chain.
type PanicError struct {
	Pid   int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("kernel: process %d panicked: %v", e.Pid, e.Value)
}

// Unwrap returns the underlying error if the panic value is itself an
// error, enabling errors.Is/errors.As through the cause chain.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError aggregates multiple errors encountered while tearing down
// several processes at once (e.g. Kernel.Shutdown force-killing survivors).
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "kernel: aggregate error (empty)"
	}
	return fmt.Sprintf("kernel: %d errors, first: %v", len(e.Errors), e.Errors[0])
}

// Unwrap returns the wrapped errors for multi-error unwrapping.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is an *AggregateError. Contained errors are not
// compared here; errors.Is reaches them through Unwrap.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// TypeError reports a value of the wrong concrete type was supplied to an
// external-collaborator interface (e.g. a PageTable implementation passed a
// peer it does not recognize in Copy).
type TypeError struct {
	Cause   error
	Message string
}

func (e *TypeError) Error() string {
	if e.Message == "" {
		return "kernel: type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// RangeError reports a configuration or argument value outside its legal
// range (e.g. a non-positive NPROC, a PageTable.Alloc asked to shrink, or a
// user-memory copy past the end of the address space).
type RangeError struct {
	Cause   error
	Message string
}

func (e *RangeError) Error() string {
	if e.Message == "" {
		return "kernel: range error"
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *RangeError) Unwrap() error {
	return e.Cause
}

// InvariantError records a violated invariant that should never occur if
// the kernel is implemented correctly. It is the panic value used by
// violate; the one place it is returned rather than panicked is UserInit,
// which wraps one in its error when called a second time.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return "kernel: invariant violated: " + e.Message
}

// violate panics with an InvariantError. Used at every precondition check
// the reference kernel expresses as a bare panic("..."): sched's lock/noff/
// state preconditions, releasing a spinlock not held, pop_off without
// push_off, the init process exiting, and similar "this is a kernel bug, not
// a recoverable condition" states.
func violate(message string) {
	panic(&InvariantError{Message: message})
}

// WrapError wraps an error with a message, preserving it as a cause via
// errors.Is/errors.As.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
