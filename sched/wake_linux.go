//go:build linux

package sched

import (
	"golang.org/x/sys/unix"
)

// eventfdWakeSignal backs wakeSignal with a Linux eventfd, the same
// primitive eventloop.createWakeFd uses to wake an epoll-blocked reactor
// goroutine. It's a closer analogue of a real CPU halted on HLT and woken
// by an IPI than a plain channel, since it's a real kernel object a second
// OS thread can signal without the Go runtime scheduler in the loop.
type eventfdWakeSignal struct {
	fd int
}

func newWakeSignal() wakeSignal {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		// Fall back rather than fail construction — the channel signal is
		// functionally equivalent for this package's purposes.
		return newChanWakeSignal()
	}
	return &eventfdWakeSignal{fd: fd}
}

func (w *eventfdWakeSignal) Signal() {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *eventfdWakeSignal) Wait() {
	var buf [8]byte
	pfd := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		if n <= 0 || err != nil {
			return
		}
		break
	}
	_, _ = unix.Read(w.fd, buf[:])
}
