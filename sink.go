//go:build unix

package reactor

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// sinkBufferSize is the most a Sink reads per readiness notification.
const sinkBufferSize = 65536

// Sink is a [Selectable] that reads and discards everything available on a
// readable file descriptor, e.g. the read end of a pipe used to interrupt
// the reactor.
//
// Each OnReadable performs a single read, so a large backlog is consumed over
// several loop iterations. Once end-of-file is observed the Sink stops
// wanting to read, so a closed pipe cannot spin the loop.
type Sink struct {
	buf     []byte
	drained atomic.Uint64
	fd      int
	eof     atomic.Bool
}

var _ Selectable = (*Sink)(nil)

// NewSink returns a Sink for fd, placing fd into non-blocking mode.
// The caller retains ownership of fd.
func NewSink(fd int) (*Sink, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	if err := setNonblock(fd); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return &Sink{fd: fd}, nil
}

func (s *Sink) FD() int { return s.fd }

func (s *Sink) WantsRead() bool { return !s.eof.Load() }

func (s *Sink) WantsWrite() bool { return false }

func (s *Sink) NextDeadline() (time.Time, bool) { return time.Time{}, false }

// OnReadable reads up to 64KiB and discards it.
func (s *Sink) OnReadable() error {
	if s.buf == nil {
		s.buf = make([]byte, sinkBufferSize)
	}
	n, err := readFD(s.fd, s.buf)
	switch {
	case err == unix.EAGAIN:
		return nil
	case err != nil:
		return os.NewSyscallError("read", err)
	case n == 0:
		s.eof.Store(true)
		return nil
	}
	s.drained.Add(uint64(n))
	return nil
}

func (s *Sink) OnWritable() error { return nil }

func (s *Sink) OnTimeout() error { return nil }

// Drained returns the total number of bytes discarded so far.
func (s *Sink) Drained() uint64 { return s.drained.Load() }

// EOF reports whether end-of-file has been observed.
func (s *Sink) EOF() bool { return s.eof.Load() }

func (s *Sink) String() string { return fmt.Sprintf("Sink(%d)", s.fd) }
