//go:build unix

package comm

import (
	"time"

	"golang.org/x/sys/unix"
)

func pollReadable(fds []int, timeout time.Duration) ([]bool, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	ready := make([]bool, len(fds))

	_, err := unix.Poll(pfds, int(timeout/time.Millisecond))
	if err == unix.EINTR {
		return ready, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range pfds {
		ready[i] = pfds[i].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0
	}
	return ready, nil
}

// pollNow reports whether fd is readable and writable without waiting.
func pollNow(fd int) (readable, writable bool, err error) {
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN | unix.POLLOUT}}
	if _, err := unix.Poll(pfds, 0); err != nil && err != unix.EINTR {
		return false, false, err
	}
	re := pfds[0].Revents
	readable = re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	writable = re&(unix.POLLOUT|unix.POLLERR) != 0
	return readable, writable, nil
}
