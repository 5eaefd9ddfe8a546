package kernel

import (
	"sync"
	"sync/atomic"
)

// PageTable models a process's virtual address space: creation, growth, and
// the copy performed by fork. Real implementations would wrap RISC-V Sv39
// page tables (uvmcreate/uvmalloc/uvmcopy/uvmfree in the reference kernel);
// this package only consumes the interface (spec scope excludes a VM
// allocator), and ships fakePageTable for its own tests.
type PageTable interface {
	// AllocKernelStack allocates and maps this process's kernel stack,
	// returning an opaque handle this package never dereferences (mirrors
	// proc_pagetable's KSTACK mapping). Kernel.UserInit/Fork record the
	// returned handle on the new Proc but otherwise never touch it.
	AllocKernelStack() (uintptr, error)
	// Create returns a fresh, independent PageTable for a new process
	// (mirrors proc_pagetable's uvmcreate call). Called on a prototype
	// instance - see Kernel.vm - rather than on the table being created,
	// since there is, by definition, no existing table yet.
	Create() (PageTable, error)
	// InitFirstProcess stages the hard-coded initcode blob at address 0,
	// growing the address space as needed (mirrors userinit's uvmfirst).
	// Used only once, by UserInit.
	InitFirstProcess(code []byte)
	// Alloc grows the address space from oldSz to newSz bytes, returning
	// the new size (mirrors uvmalloc).
	Alloc(oldSz, newSz uintptr) (uintptr, error)
	// Dealloc shrinks the address space from oldSz to newSz bytes,
	// returning the new size (mirrors uvmdealloc; never fails).
	Dealloc(oldSz, newSz uintptr) uintptr
	// Copy duplicates sz bytes of this address space into dst (mirrors
	// uvmcopy, used by Fork).
	Copy(dst PageTable, sz uintptr) error
	// Free releases the address space (mirrors proc_freepagetable).
	Free(sz uintptr)
}

// UserMemory models copying bytes between kernel memory and a process's
// user address space (copyin/copyout). PipeReader.Read copies bytes out
// through this on behalf of the calling process, and Kernel.Wait copies a
// reaped child's exit status out through it, without this package ever
// dereferencing a raw pointer.
type UserMemory interface {
	CopyIn(dst []byte, srcAddr uintptr) error
	CopyOut(dstAddr uintptr, src []byte) error
}

// File is an open file description, as stored in a process's file table.
// Close decrements File's own reference count; Dup increments it and
// returns the same File (mirrors filedup/fileclose).
type File interface {
	Dup() File
	Close()
}

// Inode models a filesystem inode reference, e.g. a process's current
// working directory (mirrors idup/iput).
type Inode interface {
	Dup() Inode
	Put()
}

// Filesystem models the narrow filesystem operations this package needs:
// the root directory inode a fresh process's cwd starts at (mirrors
// namei("/") in userinit), and the begin_op/end_op transaction brackets
// Exit wraps releasing cwd in.
type Filesystem interface {
	RootDir() Inode
	BeginOp()
	EndOp()
}

// ContextSwitch models architecture-level register save/restore (swtch in
// the reference kernel). This package's scheduler instead hands off
// control between goroutines with channels (see Proc.resumeCh/doneCh in
// proc.go and sched.go), so ContextSwitch has no caller in this package; it
// is kept as a documented external boundary for a hypothetical real-
// hardware backend, per the external-interface list this subsystem is
// specified against.
type ContextSwitch interface {
	Switch(old, new *Context)
}

// Context is an opaque saved-register set, the payload ContextSwitch.Switch
// would save and restore on real hardware.
type Context struct {
	_ [0]func() // incomparable, preventing accidental value comparison
}

// --- in-memory fakes used only by this package's own tests ---

// fakeKernelStackAddrs hands out distinct fake kernel-stack addresses, so
// two fakePageTables' AllocKernelStack results are never confused with one
// another - not meaningful memory, just a unique opaque handle.
var fakeKernelStackAddrs atomic.Uintptr

// fakePageTable is a deterministic in-memory PageTable/UserMemory backed by
// a plain byte slice, standing in for a real user address space.
type fakePageTable struct {
	mu  sync.Mutex
	mem []byte
}

func newFakePageTable() *fakePageTable {
	return &fakePageTable{}
}

// AllocKernelStack hands out the next fake kernel-stack address. Never
// fails - there is no real page allocator behind it to exhaust.
func (f *fakePageTable) AllocKernelStack() (uintptr, error) {
	return fakeKernelStackAddrs.Add(sizeOfCacheLine), nil
}

// Create returns a brand new, empty fakePageTable, independent of f -
// f itself is used only as the prototype Create is called on.
func (f *fakePageTable) Create() (PageTable, error) {
	return newFakePageTable(), nil
}

// InitFirstProcess grows this table from empty to len(code) bytes and
// copies code in at address 0, combining what UserInit would otherwise do
// as a separate Alloc then CopyOut call.
func (f *fakePageTable) InitFirstProcess(code []byte) {
	if _, err := f.Alloc(0, uintptr(len(code))); err != nil {
		// f is freshly created and empty; growing from 0 to len(code)
		// cannot fail in this in-memory fake.
		violate("InitFirstProcess: unexpected Alloc failure: " + err.Error())
	}
	if err := f.CopyOut(0, code); err != nil {
		violate("InitFirstProcess: unexpected CopyOut failure: " + err.Error())
	}
}

// fakeMaxAddressSpace bounds a fakePageTable's total size, standing in for
// the point at which a real kalloc would exhaust physical memory (PHYSTOP
// in the reference kernel).
const fakeMaxAddressSpace = 1 << 20

func (f *fakePageTable) Alloc(oldSz, newSz uintptr) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if newSz < oldSz {
		return 0, &RangeError{Message: "Alloc: newSz < oldSz"}
	}
	if newSz > fakeMaxAddressSpace {
		return 0, ErrOutOfMemory
	}
	grown := make([]byte, newSz)
	copy(grown, f.mem)
	f.mem = grown
	return newSz, nil
}

func (f *fakePageTable) Dealloc(oldSz, newSz uintptr) uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if newSz > oldSz || newSz > uintptr(len(f.mem)) {
		return oldSz
	}
	f.mem = f.mem[:newSz]
	return newSz
}

func (f *fakePageTable) Copy(dst PageTable, sz uintptr) error {
	other, ok := dst.(*fakePageTable)
	if !ok {
		return &TypeError{Message: "Copy: dst is not a fakePageTable"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	n := int(sz)
	if n > len(f.mem) {
		n = len(f.mem)
	}
	other.mem = append([]byte(nil), f.mem[:n]...)
	return nil
}

func (f *fakePageTable) Free(sz uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem = nil
}

func (f *fakePageTable) CopyIn(dst []byte, srcAddr uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := srcAddr + uintptr(len(dst))
	if end > uintptr(len(f.mem)) {
		return &RangeError{Message: "CopyIn: out of range"}
	}
	copy(dst, f.mem[srcAddr:end])
	return nil
}

func (f *fakePageTable) CopyOut(dstAddr uintptr, src []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := dstAddr + uintptr(len(src))
	if end > uintptr(len(f.mem)) {
		return &RangeError{Message: "CopyOut: out of range"}
	}
	copy(f.mem[dstAddr:end], src)
	return nil
}

// fakeInode is a no-op Inode used by tests that need a non-nil cwd.
type fakeInode struct {
	refs *int32
}

func newFakeInode() *fakeInode {
	n := int32(1)
	return &fakeInode{refs: &n}
}

func (f *fakeInode) Dup() Inode {
	*f.refs++
	return f
}

func (f *fakeInode) Put() {
	*f.refs--
}

// fakeFile is a no-op File used by tests exercising fork's fd-duplication
// and exit's fd-closing behavior.
type fakeFile struct {
	closed *bool
}

func newFakeFile() *fakeFile {
	closed := false
	return &fakeFile{closed: &closed}
}

func (f *fakeFile) Dup() File {
	return f
}

func (f *fakeFile) Close() {
	*f.closed = true
}

// fakeFilesystem is a no-op Filesystem used by Exit's begin_op/end_op
// bracket in tests, and by UserInit to seed the first process's cwd.
type fakeFilesystem struct{}

// RootDir returns a fresh fakeInode standing in for "/"'s inode, with one
// reference already held on the caller's behalf (mirrors namei("/")'s
// implicit iget).
func (fakeFilesystem) RootDir() Inode { return newFakeInode() }

func (fakeFilesystem) BeginOp() {}
func (fakeFilesystem) EndOp()   {}
