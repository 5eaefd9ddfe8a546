package kernel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcTable_allocatePid_monotonicAndUnique(t *testing.T) {
	t.Parallel()
	pt := newProcTable(8, 4)

	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[int]bool, n)
		wg   sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			pid := pt.allocatePid()
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[pid], "pid %d allocated twice", pid)
			seen[pid] = true
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)

	// a fresh sequential run must be strictly increasing
	last := pt.allocatePid()
	for i := 0; i < 10; i++ {
		next := pt.allocatePid()
		assert.Greater(t, next, last)
		last = next
	}
}

func TestProcTable_allocateSlot_exclusiveAndBounded(t *testing.T) {
	t.Parallel()
	c := newBareCPU(0)
	pt := newProcTable(2, 4)

	p1, err := pt.allocateSlot(c)
	require.NoError(t, err)
	assert.Equal(t, Used, p1.State())
	p1.lock.Release(c)

	p2, err := pt.allocateSlot(c)
	require.NoError(t, err)
	assert.Equal(t, Used, p2.State())
	assert.NotSame(t, p1, p2)
	p2.lock.Release(c)

	_, err = pt.allocateSlot(c)
	assert.ErrorIs(t, err, ErrNoFreeSlot)
}

func TestProcTable_allocateSlot_sizesOfile(t *testing.T) {
	t.Parallel()
	c := newBareCPU(0)
	pt := newProcTable(1, 7)
	p, err := pt.allocateSlot(c)
	require.NoError(t, err)
	assert.Len(t, p.ofile, 7)
	p.lock.Release(c)
}

func TestFreeSlot_resetsToUnused(t *testing.T) {
	t.Parallel()
	c := newBareCPU(0)
	pt := newProcTable(1, 4)
	p, err := pt.allocateSlot(c)
	require.NoError(t, err)
	p.pid = 42
	p.name = "whatever"
	p.killed = true

	freeSlot(p)
	assert.Equal(t, Unused, p.State())
	assert.Equal(t, 0, p.Pid())
	assert.Equal(t, "", p.Name())
	assert.False(t, p.Killed())
	assert.Nil(t, p.ofile)
	p.lock.Release(c)

	// slot is available again
	p2, err := pt.allocateSlot(c)
	require.NoError(t, err)
	assert.Same(t, p, p2)
	p2.lock.Release(c)
}

func TestProcState_exclusiveSingleValue(t *testing.T) {
	t.Parallel()
	s := NewAtomicProcState()
	for _, v := range []ProcState{Unused, Used, Sleeping, Runnable, Running, Zombie} {
		s.Store(v)
		assert.Equal(t, v, s.Load())
	}
}
