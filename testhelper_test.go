//go:build unix

package reactor

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testPipe returns a non-blocking pipe, closed on cleanup.
func testPipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func writeString(t *testing.T, fd int, s string) {
	t.Helper()
	n, err := unix.Write(fd, []byte(s))
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

// newTestReactor returns a started reactor, stopped on cleanup.
func newTestReactor(t *testing.T, opts ...Option) *Reactor {
	t.Helper()
	r, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		if err := r.StopTimeout(5 * time.Second); err != nil {
			t.Errorf("stop failed: %v", err)
		}
	})
	return r
}

// forEachBackend runs fn as a subtest for every backend available on this
// platform.
func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for _, b := range testBackends {
		t.Run(b.String(), func(t *testing.T) {
			fn(t, b)
		})
	}
}

// testSelectable is a configurable Selectable. Interest and deadline may be
// changed from any goroutine, callbacks must be set before registration.
type testSelectable struct {
	onReadable func() error
	onWritable func() error
	onTimeout  func() error
	deadline   atomic.Pointer[time.Time]
	fd         int
	readable   atomic.Int64
	writable   atomic.Int64
	timeouts   atomic.Int64
	read       atomic.Bool
	write      atomic.Bool
}

func newTestSelectable(fd int) *testSelectable {
	return &testSelectable{fd: fd}
}

func (s *testSelectable) FD() int { return s.fd }

func (s *testSelectable) WantsRead() bool { return s.read.Load() }

func (s *testSelectable) WantsWrite() bool { return s.write.Load() }

func (s *testSelectable) NextDeadline() (time.Time, bool) {
	if d := s.deadline.Load(); d != nil {
		return *d, true
	}
	return time.Time{}, false
}

func (s *testSelectable) setDeadline(d time.Time) { s.deadline.Store(&d) }

func (s *testSelectable) clearDeadline() { s.deadline.Store(nil) }

func (s *testSelectable) OnReadable() error {
	s.readable.Add(1)
	if s.onReadable != nil {
		return s.onReadable()
	}
	return nil
}

func (s *testSelectable) OnWritable() error {
	s.writable.Add(1)
	if s.onWritable != nil {
		return s.onWritable()
	}
	return nil
}

func (s *testSelectable) OnTimeout() error {
	s.timeouts.Add(1)
	if s.onTimeout != nil {
		return s.onTimeout()
	}
	return nil
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

// newTestLogger returns a JSON logger writing to w, without timestamps.
func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}
