//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// acceptFD accepts one connection, non-blocking and close-on-exec.
func acceptFD(fd int) (int, unix.Sockaddr, error) {
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != unix.EINTR {
			return nfd, sa, err
		}
	}
}
