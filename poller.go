//go:build unix

package reactor

import (
	"fmt"
	"math"
	"time"
)

// Backend selects the readiness multiplexing primitive used by a [Reactor].
type Backend int

const (
	// BackendDefault is epoll on Linux, and poll elsewhere.
	BackendDefault Backend = iota
	// BackendPoll uses poll(2), available on all supported platforms.
	BackendPoll
	// BackendEpoll uses epoll(7), available on Linux only.
	BackendEpoll
)

// String returns a human-readable representation of the backend.
func (b Backend) String() string {
	switch b {
	case BackendDefault:
		return "default"
	case BackendPoll:
		return "poll"
	case BackendEpoll:
		return "epoll"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// interest is the per-iteration request for one descriptor.
// serial distinguishes successive registrations of the same fd number.
type interest struct {
	serial uint64
	fd     int
	events IOEvents
}

// readyEvent is readiness reported for one descriptor.
type readyEvent struct {
	fd     int
	events IOEvents
}

// poller is a level-triggered readiness multiplexer. Other than forget, it is
// only used by the reactor goroutine.
//
// wait receives the complete interest list every call, appends readiness to
// ready, and returns it. A negative timeout blocks indefinitely.
// Interruption by a signal is reported as no readiness, not as an error.
//
// forget synchronously drops any kernel state held for the registration, and
// ensures it is not installed again, even if it is still present in an
// interest list. It is safe to call from any goroutine, including after close.
type poller interface {
	wait(in []interest, timeout time.Duration, ready []readyEvent) ([]readyEvent, error)
	forget(serial uint64, fd int)
	close() error
}

func newPoller(b Backend) (poller, error) {
	switch b {
	case BackendDefault:
		return newDefaultPoller()
	case BackendPoll:
		return newPollPoller(), nil
	case BackendEpoll:
		return newEpollPoller()
	default:
		return nil, fmt.Errorf("%w: %s", ErrBackendUnsupported, b)
	}
}

// timeoutMillis converts a wait timeout into the millisecond argument of
// poll/epoll_wait. Positive durations are rounded up, so the wait never ends
// before the deadline it was computed from.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}
