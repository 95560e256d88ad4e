//go:build unix

package reactor

import (
	"encoding/binary"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// wakeup interrupts the reactor's blocking wait. On Linux it is an eventfd,
// elsewhere a non-blocking self-pipe. The read end is drained by a Sink.
//
// Signals are coalesced: at most one token is outstanding between drains.
type wakeup struct {
	sink    *Sink
	readFD  int
	writeFD int
	pending atomic.Uint32
}

func newWakeup() (*wakeup, error) {
	readFD, writeFD, err := createWakeFD()
	if err != nil {
		return nil, err
	}
	sink, err := NewSink(readFD)
	if err != nil {
		_ = closeWakeFDs(readFD, writeFD)
		return nil, err
	}
	return &wakeup{
		sink:    sink,
		readFD:  readFD,
		writeFD: writeFD,
	}, nil
}

// signal writes one token, unless one is already pending.
// It never blocks.
func (w *wakeup) signal() error {
	if !w.pending.CompareAndSwap(0, 1) {
		return nil
	}

	// eventfd requires an 8 byte non-zero value, a pipe accepts anything
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)

	_, err := writeFD(w.writeFD, buf[:])
	switch err {
	case nil, unix.EAGAIN:
		// EAGAIN: full, so the reader is guaranteed to wake anyway
		return nil
	default:
		w.pending.Store(0)
		return err
	}
}

// drain must only be called by the reactor goroutine.
//
// pending is cleared before reading, so a concurrent signal either lands
// before the read (and is consumed) or leaves a token for the next wait.
func (w *wakeup) drain() error {
	w.pending.Store(0)
	return w.sink.OnReadable()
}

func (w *wakeup) close() error {
	return closeWakeFDs(w.readFD, w.writeFD)
}

func closeWakeFDs(readFD, writeFD int) error {
	err := closeFD(readFD)
	if writeFD != readFD {
		err = multierr.Append(err, closeFD(writeFD))
	}
	return err
}
