//go:build unix

package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func TestRegister_InvalidArguments(t *testing.T) {
	r := newTestReactor(t)
	assert.ErrorIs(t, r.Register(nil), ErrNilSelectable)
	assert.ErrorIs(t, r.Register(newTestSelectable(-1)), ErrInvalidFD)
	assert.ErrorIs(t, r.Modify(nil), ErrNilSelectable)
	assert.ErrorIs(t, r.Unregister(nil), ErrNilSelectable)
	assert.Equal(t, 0, r.Len())
}

func TestRegister_Duplicate(t *testing.T) {
	rfd, _ := testPipe(t)
	r := newTestReactor(t)

	a := newTestSelectable(rfd)
	require.NoError(t, r.Register(a))
	assert.ErrorIs(t, r.Register(a), ErrDuplicateRegistration)
	assert.ErrorIs(t, r.Register(newTestSelectable(rfd)), ErrDuplicateRegistration)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_WakeupDescriptorIsReserved(t *testing.T) {
	r := newTestReactor(t)
	assert.ErrorIs(t, r.Register(newTestSelectable(r.wake.readFD)), ErrDuplicateRegistration)
}

func TestRegister_ConcurrentDuplicate(t *testing.T) {
	rfd, _ := testPipe(t)
	r := newTestReactor(t)

	const goroutines = 32
	var (
		successes atomic.Int32
		failures  atomic.Int32
		g         errgroup.Group
		ready     = make(chan struct{})
	)
	for range goroutines {
		s := newTestSelectable(rfd)
		g.Go(func() error {
			<-ready
			switch err := r.Register(s); err {
			case nil:
				successes.Add(1)
			case ErrDuplicateRegistration:
				failures.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	close(ready)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(goroutines-1), failures.Load())
	assert.Equal(t, 1, r.Len())
}

func TestUnregister_NotRegistered(t *testing.T) {
	rfd, _ := testPipe(t)
	r := newTestReactor(t)

	a := newTestSelectable(rfd)
	assert.ErrorIs(t, r.Unregister(a), ErrNotRegistered)
	assert.ErrorIs(t, r.Modify(a), ErrNotRegistered)

	require.NoError(t, r.Register(a))

	// same fd, different selectable
	b := newTestSelectable(rfd)
	assert.ErrorIs(t, r.Unregister(b), ErrNotRegistered)
	assert.ErrorIs(t, r.Modify(b), ErrNotRegistered)

	require.NoError(t, r.Unregister(a))
	assert.ErrorIs(t, r.Unregister(a), ErrNotRegistered)
	assert.Equal(t, 0, r.Len())
}

func TestUnregister_ThenRegisterSameFD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		rfd, wfd := testPipe(t)
		r := newTestReactor(t, WithBackend(b))

		a := newTestSelectable(rfd)
		a.read.Store(true)
		require.NoError(t, r.Register(a))
		require.NoError(t, r.Unregister(a))

		buf := make([]byte, 16)
		c := newTestSelectable(rfd)
		c.read.Store(true)
		c.onReadable = func() error {
			_, err := unix.Read(rfd, buf)
			return err
		}
		require.NoError(t, r.Register(c))

		writeString(t, wfd, "x")
		require.Eventually(t, func() bool {
			return c.readable.Load() == 1
		}, 5*time.Second, time.Millisecond)
		assert.Equal(t, int64(0), a.readable.Load())
	})
}

// Unregister, from another goroutine, waits for the in-flight callback.
func TestUnregister_WaitsForInFlightCallback(t *testing.T) {
	rfd, wfd := testPipe(t)
	r := newTestReactor(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	s := newTestSelectable(rfd)
	s.read.Store(true)
	s.onReadable = func() error {
		close(entered)
		<-release
		finished.Store(true)
		return nil
	}
	require.NoError(t, r.Register(s))
	writeString(t, wfd, "x")
	<-entered

	done := make(chan error, 1)
	go func() { done <- r.Unregister(s) }()

	select {
	case <-done:
		t.Fatal("unregister returned while the callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.True(t, finished.Load())

	// the pipe is still readable, but s is gone
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), s.readable.Load())
}

// No callback may be observed after Unregister returns, regardless of
// interleaving with readiness.
func TestUnregister_NoCallbacksAfterReturn(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		r := newTestReactor(t, WithBackend(b))

		for range 50 {
			rfd, wfd := testPipe(t)

			var unregistered atomic.Bool
			var violations atomic.Int32
			s := newTestSelectable(rfd)
			s.read.Store(true)
			s.write.Store(true)
			check := func() error {
				if unregistered.Load() {
					violations.Add(1)
				}
				return nil
			}
			s.onReadable = check
			s.onWritable = check
			require.NoError(t, r.Register(s))

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 10 {
					_, _ = unix.Write(wfd, []byte("x"))
				}
			}()
			time.Sleep(time.Millisecond)
			require.NoError(t, r.Unregister(s))
			unregistered.Store(true)
			wg.Wait()

			time.Sleep(5 * time.Millisecond)
			assert.Equal(t, int32(0), violations.Load())
		}
	})
}

// Unregistering from within the first callback of a pass suppresses the
// second, even though both kinds of readiness were reported.
func TestUnregister_FromOwnCallback(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		r := newTestReactor(t, WithBackend(b))

		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
		})
		// readable and writable at once
		_, err = unix.Write(fds[1], []byte("x"))
		require.NoError(t, err)

		s := newTestSelectable(fds[0])
		s.read.Store(true)
		s.write.Store(true)
		var result atomic.Pointer[error]
		s.onWritable = func() error {
			err := r.Unregister(s)
			result.Store(&err)
			return nil
		}
		require.NoError(t, r.Register(s))

		require.Eventually(t, func() bool {
			return result.Load() != nil
		}, 5*time.Second, time.Millisecond)
		require.NoError(t, *result.Load())

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int64(1), s.writable.Load())
		assert.Equal(t, int64(0), s.readable.Load())
		assert.Equal(t, 0, r.Len())
	})
}

// Unregistering a different, ready, Selectable from a callback suppresses
// its dispatch in the same pass.
func TestUnregister_OtherFromCallback(t *testing.T) {
	r := newTestReactor(t)

	r1, w1 := testPipe(t)
	r2, w2 := testPipe(t)

	a := newTestSelectable(r1)
	b := newTestSelectable(r2)
	a.read.Store(true)
	b.read.Store(true)
	var once sync.Once
	unregisterOther := func(self, other *testSelectable) func() error {
		buf := make([]byte, 16)
		return func() error {
			once.Do(func() {
				if err := r.Unregister(other); err != nil {
					t.Error(err)
				}
			})
			_, err := unix.Read(self.fd, buf)
			return err
		}
	}
	a.onReadable = unregisterOther(a, b)
	b.onReadable = unregisterOther(b, a)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	// give the loop a chance to apply both, so one wait sees both ready
	require.Eventually(t, func() bool { return r.Len() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	writeString(t, w1, "x")
	writeString(t, w2, "x")

	require.Eventually(t, func() bool {
		return r.Len() == 1
	}, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// whichever ran first removed the other, which then never ran
	assert.Equal(t, int64(1), a.readable.Load()+b.readable.Load())
}

func TestModify_PicksUpWriteInterest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		_, wfd := testPipe(t)
		r := newTestReactor(t, WithBackend(b))

		s := newTestSelectable(wfd)
		s.onWritable = func() error {
			s.write.Store(false)
			return nil
		}
		require.NoError(t, r.Register(s))

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int64(0), s.writable.Load())

		s.write.Store(true)
		require.NoError(t, r.Modify(s))
		require.Eventually(t, func() bool {
			return s.writable.Load() == 1
		}, 5*time.Second, time.Millisecond)
	})
}

// Modify without an actual change neither duplicates nor triggers dispatch.
func TestModify_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		rfd, wfd := testPipe(t)
		r := newTestReactor(t, WithBackend(b))

		buf := make([]byte, 16)
		s := newTestSelectable(rfd)
		s.read.Store(true)
		s.onReadable = func() error {
			_, err := unix.Read(rfd, buf)
			return err
		}
		require.NoError(t, r.Register(s))

		for range 10 {
			require.NoError(t, r.Modify(s))
		}
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int64(0), s.readable.Load())

		writeString(t, wfd, "x")
		for range 10 {
			require.NoError(t, r.Modify(s))
		}
		require.Eventually(t, func() bool {
			return s.readable.Load() == 1
		}, 5*time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int64(1), s.readable.Load())
	})
}

func TestRegister_FromCallback(t *testing.T) {
	r1, w1 := testPipe(t)
	r2, w2 := testPipe(t)
	r := newTestReactor(t)

	second := newTestSelectable(r2)
	second.read.Store(true)
	buf := make([]byte, 16)
	second.onReadable = func() error {
		_, err := unix.Read(r2, buf)
		return err
	}

	first := newTestSelectable(r1)
	first.read.Store(true)
	first.onReadable = func() error {
		if _, err := unix.Read(r1, buf); err != nil {
			return err
		}
		return r.Register(second)
	}
	require.NoError(t, r.Register(first))

	writeString(t, w1, "x")
	require.Eventually(t, func() bool { return r.Len() == 2 }, 5*time.Second, time.Millisecond)

	writeString(t, w2, "x")
	require.Eventually(t, func() bool {
		return second.readable.Load() == 1
	}, 5*time.Second, time.Millisecond)
}
