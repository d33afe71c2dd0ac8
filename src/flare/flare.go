// Package flare implements a self-pipe readiness signal. A flare backs
// each subscriber mailbox: firing it makes the read end readable, so a
// consumer can select or poll on the descriptor alongside other work.
package flare

import (
	"golang.org/x/sys/unix"
)

// Flare is a readiness signal built on a non-blocking pipe; each Fire
// writes one token. Firing when the pipe is full is still a success,
// the signal is already visible.
type Flare struct {
	readFD  int
	writeFD int
}

// New creates a flare. Both pipe ends are close-on-exec and
// non-blocking.
func New() (*Flare, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &Flare{readFD: fds[0], writeFD: fds[1]}, nil
}

// FD returns the descriptor to poll for readability.
func (f *Flare) FD() int {
	return f.readFD
}

// Fire makes the flare readable.
func (f *Flare) Fire() error {
	tmp := []byte{0}
	for {
		_, err := unix.Write(f.writeFD, tmp)
		switch err {
		case nil, unix.EAGAIN:
			// A full pipe means the flare is already lit.
			return nil
		case unix.EINTR:
			continue
		default:
			return err
		}
	}
}

// Extinguish drains the pipe completely.
func (f *Flare) Extinguish() error {
	tmp := make([]byte, 256)
	for {
		n, err := unix.Read(f.readFD, tmp)
		switch {
		case err == unix.EAGAIN:
			return nil
		case err == unix.EINTR:
			continue
		case err != nil:
			return err
		case n < len(tmp):
			return nil
		}
	}
}

// ExtinguishOne consumes a single token. It reports whether a token was
// present.
func (f *Flare) ExtinguishOne() (bool, error) {
	tmp := []byte{0}
	for {
		_, err := unix.Read(f.readFD, tmp)
		switch err {
		case nil:
			return true, nil
		case unix.EAGAIN:
			return false, nil
		case unix.EINTR:
			continue
		default:
			return false, err
		}
	}
}

// Await blocks until the flare is readable or the timeout elapses.
// A negative timeout blocks indefinitely. It reports whether the flare
// became readable.
func (f *Flare) Await(timeoutMs int) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(f.readFD), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
}

// Close releases both pipe ends.
func (f *Flare) Close() error {
	err1 := unix.Close(f.readFD)
	err2 := unix.Close(f.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}
