//go:build unix

package reactor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller implements poller using poll(2). The pollfd array is rebuilt
// from the interest list on every wait, which matches the reactor's
// recompute-every-iteration model exactly.
type pollPoller struct {
	fds []unix.PollFd
}

func newPollPoller() *pollPoller {
	return &pollPoller{fds: make([]unix.PollFd, 0, 64)}
}

func (p *pollPoller) wait(in []interest, timeout time.Duration, ready []readyEvent) ([]readyEvent, error) {
	p.fds = p.fds[:0]
	for _, i := range in {
		p.fds = append(p.fds, unix.PollFd{
			Fd:     int32(i.fd),
			Events: eventsToPoll(i.events),
		})
	}

	n, err := unix.Poll(p.fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return ready, nil
		}
		return ready, os.NewSyscallError("poll", err)
	}

	for i := 0; n > 0 && i < len(p.fds); i++ {
		if p.fds[i].Revents == 0 {
			continue
		}
		n--
		ready = append(ready, readyEvent{
			fd:     int(p.fds[i].Fd),
			events: pollToEvents(p.fds[i].Revents),
		})
	}

	return ready, nil
}

// forget is a no-op, poll(2) holds no state between calls.
func (p *pollPoller) forget(uint64, int) {}

func (p *pollPoller) close() error { return nil }

// eventsToPoll converts IOEvents to poll event flags.
func eventsToPoll(events IOEvents) int16 {
	var pollEvents int16
	if events&EventRead != 0 {
		pollEvents |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		pollEvents |= unix.POLLOUT
	}
	return pollEvents
}

// pollToEvents converts poll revents to IOEvents. POLLNVAL (a descriptor
// closed while still registered) is reported as an error.
func pollToEvents(revents int16) IOEvents {
	var events IOEvents
	if revents&unix.POLLIN != 0 {
		events |= EventRead
	}
	if revents&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		events |= EventError
	}
	if revents&unix.POLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
