// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// pipe.go implements the fixed-capacity byte ring shared by a pipe's reader
// and writer ends, mirroring pipe.c's pipealloc/pipeclose/pipewrite/
// piperead exactly, including the surprising boundary behavior documented
// where pipewrite is resolved (a reader close mid-write leaves bytes
// already copied into the ring that call in place, but returns an error for
// the whole call rather than the partial count). The ring/counter shape -
// two monotonically increasing counters indexed modulo capacity, rather
// than a head/tail/length triple - is the same one the teacher's
// MicrotaskRing uses for its lock-free microtask queue (ingress.go),
// scaled down here to a byte ring guarded by a single Spinlock instead of
// atomics, since a pipe's readers and writers already rendezvous through
// Sleep/Wakeup.
package kernel

import (
	"sync"
)

// Pipe is the shared ring buffer backing a pipe's two file handles,
// mirroring struct pipe in pipe.c.
type Pipe struct {
	lock Spinlock

	data []byte

	// nread/nwrite count total bytes ever read/written; data[i % len(data)]
	// holds byte i. Invariant: 0 <= nwrite-nread <= len(data).
	nread  uint64
	nwrite uint64

	readOpen  bool
	writeOpen bool
}

// PipeReader is the read-only file handle returned by NewPipe, mirroring
// pipealloc's f0.
type PipeReader struct {
	pipe   *Pipe
	once   sync.Once
	closed bool
}

// PipeWriter is the write-only file handle returned by NewPipe, mirroring
// pipealloc's f1.
type PipeWriter struct {
	pipe   *Pipe
	once   sync.Once
	closed bool
}

// NewPipe allocates a pipe and its two handles, mirroring pipealloc. size is
// normally Kernel's configured pipe size (WithPipeSize), but is accepted as
// a parameter so Pipe has no dependency on Kernel itself, matching how the
// reference kernel's pipe is independent of any particular proc.
func NewPipe(size int) (*PipeReader, *PipeWriter) {
	if size <= 0 {
		violate("pipe size must be positive")
	}
	pi := &Pipe{
		data:      make([]byte, size),
		readOpen:  true,
		writeOpen: true,
	}
	return &PipeReader{pipe: pi}, &PipeWriter{pipe: pi}
}

// Close marks the read end closed, waking any writer blocked on a full pipe
// so it can observe readOpen==false, mirroring pipeclose(pi, 0). Safe to
// call more than once; only the first call has effect.
//
// Close takes a *Cpu rather than a *Proc: unlike Read, it is not always
// called in the context of one particular process waiting on something (the
// File table's generic Close has no process argument of its own - see
// PipeReadFile), so it asks only for Spinlock bookkeeping and passes no
// skip to Wakeup.
func (r *PipeReader) Close(k *Kernel, c *Cpu) {
	r.once.Do(func() {
		r.closed = true
		r.pipe.lock.Acquire(c)
		r.pipe.readOpen = false
		k.Wakeup(c, nil, &r.pipe.nwrite)
		r.pipe.lock.Release(c)
	})
}

// Close marks the write end closed, waking any reader blocked on an empty
// pipe so it observes EOF, mirroring pipeclose(pi, 1). Safe to call more
// than once; only the first call has effect. See PipeReader.Close for why
// this takes a *Cpu rather than a *Proc.
func (w *PipeWriter) Close(k *Kernel, c *Cpu) {
	w.once.Do(func() {
		w.closed = true
		w.pipe.lock.Acquire(c)
		w.pipe.writeOpen = false
		k.Wakeup(c, nil, &w.pipe.nread)
		w.pipe.lock.Release(c)
	})
}

// Write copies up to len(src) bytes from src into the ring on behalf of
// calling process p, mirroring pipewrite: loops while fewer than len(src)
// bytes have been written, sleeping on &nwrite (woken by a reader draining
// the ring) whenever the ring is full, and failing the whole call - not
// just the remaining bytes - the instant the read end is found closed or p
// is killed. This matches the resolved open question on pipewrite's exact
// boundary: bytes already copied into the ring earlier in this same call
// are not un-written, but the caller only ever sees the -1/ErrPipeClosed
// result for the call as a whole.
func (w *PipeWriter) Write(k *Kernel, p *Proc, src []byte) (int, error) {
	pi := w.pipe
	c := p.currentCPU
	n := len(src)

	pi.lock.Acquire(c)
	i := 0
	for i < n {
		if !pi.readOpen || p.Killed() {
			pi.lock.Release(c)
			return 0, ErrPipeClosed
		}
		if pi.nwrite == pi.nread+uint64(len(pi.data)) {
			k.Wakeup(c, p, &pi.nread)
			k.Sleep(p, &pi.nwrite, &pi.lock)
			// Sleep may hand p back on a different Cpu than the one it
			// slept on; every lock call below must track that.
			c = p.currentCPU
			continue
		}
		pi.data[pi.nwrite%uint64(len(pi.data))] = src[i]
		pi.nwrite++
		i++
	}
	k.Wakeup(c, p, &pi.nread)
	pi.lock.Release(c)
	return i, nil
}

// Read copies up to n bytes from the ring into calling process p's user
// memory at dstAddr, via p.um.CopyOut, mirroring piperead: blocks while the
// ring is empty and the write end is still open (sleeping on &nread),
// returns -1 if killed while blocked, and returns 0 (EOF) once the write end
// has closed and the ring has been fully drained.
//
// Each byte is popped from the ring (advancing nread) before the CopyOut
// attempt for it is made, exactly as piperead's own `pi->nread++` precedes
// its copyout call: if CopyOut fails partway through, the loop stops
// without incrementing the delivered count for that byte, so it is
// permanently lost to the reader - copying stops and the count already
// delivered is returned, with no error, matching piperead's own silent
// break on a failed copyout.
func (p2 *PipeReader) Read(k *Kernel, p *Proc, dstAddr uintptr, n int) (int, error) {
	pi := p2.pipe
	c := p.currentCPU

	pi.lock.Acquire(c)
	for pi.nread == pi.nwrite && pi.writeOpen {
		if p.Killed() {
			pi.lock.Release(c)
			return 0, ErrProcessKilled
		}
		k.Sleep(p, &pi.nread, &pi.lock)
		// as in Write, p may have woken up on a different Cpu.
		c = p.currentCPU
	}

	i := 0
	for i < n {
		if pi.nread == pi.nwrite {
			break
		}
		ch := pi.data[pi.nread%uint64(len(pi.data))]
		pi.nread++
		if err := p.um.CopyOut(dstAddr+uintptr(i), []byte{ch}); err != nil {
			break
		}
		i++
	}
	k.Wakeup(c, p, &pi.nwrite)
	pi.lock.Release(c)
	return i, nil
}

// PipeReadFile adapts a PipeReader to the File interface (proc.go's ofile
// slots), mirroring how struct file wraps a struct pipe plus a readable
// bool and its own reference count - filedup/fileclose operate on the file,
// not the pipe directly, and only the last reference's Close actually tears
// the pipe end down.
//
// Each PipeReadFile owns a private, never-shared bare Cpu (see newBareCPU)
// for its Close bookkeeping, since Close's File signature carries no
// process argument to source one from; Read still takes the calling
// process explicitly and uses its real scheduled Cpu.
type PipeReadFile struct {
	k      *Kernel
	reader *PipeReader
	cpu    *Cpu

	mu   sync.Mutex
	refs int
}

// NewPipeReadFile wraps r as a File with one initial reference.
func NewPipeReadFile(k *Kernel, r *PipeReader) *PipeReadFile {
	return &PipeReadFile{k: k, reader: r, cpu: newBareCPU(-1), refs: 1}
}

// Dup increments the reference count and returns f itself, mirroring
// filedup: every process table slot referencing the same open file
// description shares one File value, not a copy.
func (f *PipeReadFile) Dup() File {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return f
}

// Close decrements the reference count, closing the underlying pipe end
// only once the last reference is gone, mirroring fileclose.
func (f *PipeReadFile) Close() {
	f.mu.Lock()
	f.refs--
	last := f.refs == 0
	f.mu.Unlock()
	if last {
		f.reader.Close(f.k, f.cpu)
	}
}

// Read reads from the underlying pipe on behalf of calling process p,
// copying out to p's user memory at dstAddr.
func (f *PipeReadFile) Read(p *Proc, dstAddr uintptr, n int) (int, error) {
	return f.reader.Read(f.k, p, dstAddr, n)
}

// PipeWriteFile adapts a PipeWriter to the File interface; see
// PipeReadFile for the reference-counting and Cpu-ownership rationale.
type PipeWriteFile struct {
	k      *Kernel
	writer *PipeWriter
	cpu    *Cpu

	mu   sync.Mutex
	refs int
}

// NewPipeWriteFile wraps w as a File with one initial reference.
func NewPipeWriteFile(k *Kernel, w *PipeWriter) *PipeWriteFile {
	return &PipeWriteFile{k: k, writer: w, cpu: newBareCPU(-1), refs: 1}
}

// Dup increments the reference count and returns f itself; see
// PipeReadFile.Dup.
func (f *PipeWriteFile) Dup() File {
	f.mu.Lock()
	f.refs++
	f.mu.Unlock()
	return f
}

// Close decrements the reference count, closing the underlying pipe end
// only once the last reference is gone; see PipeReadFile.Close.
func (f *PipeWriteFile) Close() {
	f.mu.Lock()
	f.refs--
	last := f.refs == 0
	f.mu.Unlock()
	if last {
		f.writer.Close(f.k, f.cpu)
	}
}

// Write writes to the underlying pipe on behalf of calling process p.
func (f *PipeWriteFile) Write(p *Proc, src []byte) (int, error) {
	return f.writer.Write(f.k, p, src)
}
