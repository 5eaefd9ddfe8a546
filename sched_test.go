package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRunningUniqueness checks the uniqueness half of property 3: no two
// CPUs' c->proc ever point to the same slot. Whether c->proc names a RUNNING
// slot is not sampled (Yield marks a process RUNNABLE before its CPU clears
// c->proc). Runs several processes that repeatedly Yield across two real
// CPUs (so the scheduler round-robins between them for real) while a
// checker goroutine samples every CPU's atomic proc pointer concurrently -
// using only the same atomic loads runOne itself uses, so the check
// introduces no new data race of its own.
func TestRunningUniqueness(t *testing.T) {
	t.Parallel()
	k := testKernel(t, WithNCPU(2), WithNPROC(16))
	// testKernel only runs CPU 0's scheduler loop; run CPU 1's as well. It
	// returns once the cleanup's Shutdown is called.
	go k.RunCPU(1)

	const workers = 6
	const yields = 40

	done := make(chan struct{})
	violations := make(chan string, 1)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			var seen []*Proc
			for _, c := range k.cpus {
				p := c.proc.Load()
				if p == nil {
					continue
				}
				for _, other := range seen {
					if other == p {
						select {
						case violations <- "two CPUs both point at the same RUNNING process":
						default:
						}
					}
				}
				seen = append(seen, p)
			}
		}
	}()

	_, err := k.UserInit(k.adminCPU, func(k *Kernel, p *Proc) {
		for i := 0; i < workers; i++ {
			_, err := k.Fork(p.CPU(), p, func(k *Kernel, p *Proc) {
				for i := 0; i < yields; i++ {
					k.Yield(p)
				}
				k.Exit(p, 0)
			})
			if err != nil {
				select {
				case violations <- err.Error():
				default:
				}
				return
			}
		}
		for i := 0; i < workers; i++ {
			if _, _, err := waitStatus(k, p); err != nil {
				select {
				case violations <- err.Error():
				default:
				}
				return
			}
		}
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case v := <-violations:
		close(stop)
		t.Fatalf("running-uniqueness violated: %s", v)
	case <-time.After(5 * time.Second):
		close(stop)
		t.Fatal("workers did not complete")
	}
	close(stop)

	select {
	case v := <-violations:
		t.Fatalf("running-uniqueness violated: %s", v)
	default:
	}
}
