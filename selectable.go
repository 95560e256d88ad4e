package reactor

import (
	"strings"
	"time"
)

// Selectable is anything that can be registered with a [Reactor].
//
// FD identifies the Selectable, and must stay valid and unique for as long as
// it is registered. The remaining methods are only ever called on the
// reactor goroutine, once registered, so implementations need no locking for
// state that is touched only by them.
//
// WantsRead, WantsWrite and NextDeadline are evaluated on every loop
// iteration, and must be free of side effects. Their results may change
// between calls.
//
// OnReadable, OnWritable and OnTimeout must not block: the reactor is
// cooperative, and a slow callback stalls every other Selectable. Errors and
// panics are logged, and do not affect the registration.
//
// Implementations must be comparable, typically pointers.
type Selectable interface {
	FD() int
	WantsRead() bool
	WantsWrite() bool

	// NextDeadline returns the time at which OnTimeout should be called,
	// if no I/O readiness preempts it, or ok false for no deadline.
	// Deadlines should be derived from [Reactor.Now].
	NextDeadline() (deadline time.Time, ok bool)

	OnReadable() error
	OnWritable() error
	OnTimeout() error
}

// IOEvents represents readiness of a file descriptor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// String returns the set flags joined with "|".
func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var s []string
	if e&EventRead != 0 {
		s = append(s, "read")
	}
	if e&EventWrite != 0 {
		s = append(s, "write")
	}
	if e&EventError != 0 {
		s = append(s, "error")
	}
	if e&EventHangup != 0 {
		s = append(s, "hangup")
	}
	return strings.Join(s, "|")
}
