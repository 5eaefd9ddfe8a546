//go:build linux

package kernel

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// wakeFd parks an idle CPU on a Linux eventfd and wakes it with a single
// write, the same mechanism the teacher's wakeup_linux.go uses to wake a
// parked event loop goroutine (createWakeFd/closeWakeFd via unix.Eventfd),
// repurposed here from "wake the one loop" to "wake one parked CPU".
//
// The fd is left in blocking mode: park reads the 8-byte counter, which
// blocks until a wake has incremented it, and atomically consumes it - so a
// wake posted just before park is called is never lost.
type wakeFd struct {
	fd int
}

func newWakeFd() (*wakeFd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, WrapError("create wake eventfd", err)
	}
	return &wakeFd{fd: fd}, nil
}

// park blocks until wake is called at least once since the last park.
func (w *wakeFd) park() {
	var buf [8]byte
	for {
		n, err := unix.Read(w.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		_ = n
		return
	}
}

// wake posts a single increment to the eventfd counter, unblocking a CPU
// parked in park (or causing the next park call to return immediately).
func (w *wakeFd) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *wakeFd) close() error {
	return unix.Close(w.fd)
}
