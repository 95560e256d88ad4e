package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrDuplicateRegistration is returned by [Reactor.Register] when a
	// Selectable with the same file descriptor is already registered.
	ErrDuplicateRegistration = errors.New("reactor: selectable already registered")

	// ErrNotRegistered is returned by [Reactor.Modify] and
	// [Reactor.Unregister] for a Selectable that is not registered.
	ErrNotRegistered = errors.New("reactor: selectable not registered")

	// ErrAlreadyStarted is returned when Start is called on a running reactor.
	ErrAlreadyStarted = errors.New("reactor: already started")

	// ErrNotStarted is returned when Stop is called on a reactor that was
	// never started.
	ErrNotStarted = errors.New("reactor: not started")

	// ErrStopped is returned by operations attempted after Stop.
	ErrStopped = errors.New("reactor: stopped")

	ErrNilSelectable      = errors.New("reactor: nil selectable")
	ErrNilHandler         = errors.New("reactor: nil handler")
	ErrInvalidFD          = errors.New("reactor: invalid file descriptor")
	ErrBackendUnsupported = errors.New("reactor: backend not supported on this platform")
)

// Op identifies the Selectable method that a [HandlerError] originated from.
type Op uint8

const (
	// OpInterest covers WantsRead, WantsWrite and NextDeadline.
	OpInterest Op = iota
	OpReadable
	OpWritable
	OpTimeout
)

// String returns a human-readable representation of the op.
func (o Op) String() string {
	switch o {
	case OpInterest:
		return "interest"
	case OpReadable:
		return "readable"
	case OpWritable:
		return "writable"
	case OpTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// HandlerError describes a Selectable callback that returned an error or
// panicked. It never leaves the reactor goroutine, other than via logging.
type HandlerError struct {
	// Err is the error returned by the callback, if any.
	Err error
	// Panic is the recovered value, if the callback panicked.
	Panic any
	FD    int
	Op    Op
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("reactor: fd %d: %s panicked: %v", e.FD, e.Op, e.Panic)
	}
	return fmt.Sprintf("reactor: fd %d: %s: %v", e.FD, e.Op, e.Err)
}

// Unwrap returns the underlying error, or the panic value if it is an error,
// for use with [errors.Is] and [errors.As].
func (e *HandlerError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}
