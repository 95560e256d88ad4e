//go:build unix

package reactor

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// AcceptHandler receives a connection accepted by an [Acceptor]. The fd is
// non-blocking and close-on-exec, and is owned by the handler from the
// moment it is called, including when it returns an error.
type AcceptHandler func(fd int, addr unix.Sockaddr) error

// Acceptor is a [Selectable] wrapping a listening socket. It always wants to
// read, and accepts exactly one connection per readiness notification.
//
// A failed accept never unregisters the Acceptor. Transient failures (the
// connection was aborted, or another waiter took it) are ignored, anything
// else is returned to the reactor, which logs it.
type Acceptor struct {
	handler  AcceptHandler
	accepted atomic.Uint64
	fd       int
	closed   atomic.Bool
}

var _ Selectable = (*Acceptor)(nil)

// NewAcceptor returns an Acceptor for the listening socket fd, placing it
// into non-blocking mode. The Acceptor takes ownership of fd, see
// [Acceptor.Close].
func NewAcceptor(fd int, handler AcceptHandler) (*Acceptor, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if err := setNonblock(fd); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return &Acceptor{handler: handler, fd: fd}, nil
}

// ListenerAcceptor returns an Acceptor for a duplicate of the descriptor
// underlying ln. The caller remains responsible for closing ln, while
// [Acceptor.Close] closes the duplicate.
func ListenerAcceptor(ln *net.TCPListener, handler AcceptHandler) (*Acceptor, error) {
	if ln == nil {
		return nil, ErrInvalidFD
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	rc, err := ln.SyscallConn()
	if err != nil {
		return nil, err
	}
	dup := -1
	var dupErr error
	if err := rc.Control(func(fd uintptr) {
		dup, dupErr = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, os.NewSyscallError("fcntl", dupErr)
	}
	a, err := NewAcceptor(dup, handler)
	if err != nil {
		_ = closeFD(dup)
		return nil, err
	}
	return a, nil
}

func (a *Acceptor) FD() int { return a.fd }

func (a *Acceptor) WantsRead() bool { return true }

func (a *Acceptor) WantsWrite() bool { return false }

func (a *Acceptor) NextDeadline() (time.Time, bool) { return time.Time{}, false }

// OnReadable accepts one connection, and passes it to the handler.
func (a *Acceptor) OnReadable() error {
	fd, addr, err := acceptFD(a.fd)
	switch err {
	case nil:
	case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
		return nil
	default:
		return os.NewSyscallError("accept", err)
	}
	a.accepted.Add(1)
	if err := a.handler(fd, addr); err != nil {
		return fmt.Errorf("accept handler: %w", err)
	}
	return nil
}

func (a *Acceptor) OnWritable() error { return nil }

func (a *Acceptor) OnTimeout() error { return nil }

// Accepted returns the number of connections handed to the handler.
func (a *Acceptor) Accepted() uint64 { return a.accepted.Load() }

// Close closes the listening descriptor. It must not be called while the
// Acceptor is registered. Subsequent calls return nil.
func (a *Acceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return closeFD(a.fd)
}

func (a *Acceptor) String() string { return fmt.Sprintf("Acceptor(%d)", a.fd) }
