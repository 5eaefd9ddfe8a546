package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSleepWakeup_noLostWakeup drives the exact race sleep()'s own comment in
// the reference kernel calls out: a waiter takes the external lock, decides
// to sleep, and Sleep's contract (acquire p.lock before releasing lk) must
// prevent a concurrent Wakeup from running in the gap and being missed.
func TestSleepWakeup_noLostWakeup(t *testing.T) {
	t.Parallel()
	k := testKernel(t)

	type result struct{ woke bool }
	results := make(chan result, 1)
	chanVal := new(int)
	var extLock Spinlock
	cpu := newBareCPU(1)

	_, err := k.UserInit(k.adminCPU, func(k *Kernel, p *Proc) {
		extLock.Acquire(p.currentCPU)
		// condition not yet true; sleep releases extLock atomically with
		// recording chanVal, so a Wakeup arriving the instant after this
		// call starts still observes the sleeper.
		k.Sleep(p, chanVal, &extLock)
		results <- result{woke: true}
	})
	require.NoError(t, err)

	// give the new process a chance to reach Sleep and park.
	require.Eventually(t, func() bool {
		return k.procs.initProc.State() == Sleeping
	}, time.Second, time.Millisecond)

	extLock.Acquire(cpu)
	k.Wakeup(cpu, nil, chanVal)
	extLock.Release(cpu)

	select {
	case r := <-results:
		require.True(t, r.woke)
	case <-time.After(time.Second):
		t.Fatal("wakeup was lost")
	}
}

// TestWakeup_skipsOnlyNamedProc verifies skip excludes exactly one process
// from a Wakeup scan, and that skip == nil disables the exclusion entirely
// (the shape pipe.go's Close relies on).
func TestWakeup_skipsOnlyNamedProc(t *testing.T) {
	t.Parallel()
	c := newBareCPU(0)
	pt := newProcTable(2, 0)

	p1, err := pt.allocateSlot(c)
	require.NoError(t, err)
	p1.state.Store(Sleeping)
	p1.chanVal = "x"
	p1.lock.Release(c)

	p2, err := pt.allocateSlot(c)
	require.NoError(t, err)
	p2.state.Store(Sleeping)
	p2.chanVal = "x"
	p2.lock.Release(c)

	k := &Kernel{procs: pt, cpus: []*Cpu{}}

	// skip p1: only p2 wakes.
	k.Wakeup(c, p1, "x")
	require.Equal(t, Sleeping, p1.State())
	require.Equal(t, Runnable, p2.State())

	// reset and wake with skip=nil: both wake.
	p1.state.Store(Sleeping)
	p2.state.Store(Sleeping)
	k.Wakeup(c, nil, "x")
	require.Equal(t, Runnable, p1.State())
	require.Equal(t, Runnable, p2.State())
}
