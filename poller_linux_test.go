//go:build linux

package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollEventConversion(t *testing.T) {
	assert.Equal(t, uint32(unix.EPOLLIN), eventsToEpoll(EventRead))
	assert.Equal(t, uint32(unix.EPOLLOUT), eventsToEpoll(EventWrite))
	assert.Equal(t, EventRead|EventWrite, epollToEvents(unix.EPOLLIN|unix.EPOLLOUT))
	assert.Equal(t, EventError|EventHangup, epollToEvents(unix.EPOLLERR|unix.EPOLLHUP))
}

// Interest is diffed against the kernel: unchanged interest is left alone,
// and withdrawn interest removed.
func TestEpollPoller_Diff(t *testing.T) {
	pp, err := newEpollPoller()
	require.NoError(t, err)
	p := pp.(*epollPoller)
	defer p.close()

	rfd, wfd := testPipe(t)
	in := []interest{{serial: 1, fd: rfd, events: EventRead}, {serial: 2, fd: wfd, events: EventWrite}}

	_, err = p.wait(in, 0, nil)
	require.NoError(t, err)
	require.Len(t, p.kernel, 2)

	_, err = p.wait(in, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, EventRead, p.kernel[rfd].events)

	in[0].events = EventRead | EventWrite
	_, err = p.wait(in, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, EventRead|EventWrite, p.kernel[rfd].events)

	_, err = p.wait(in[1:], 0, nil)
	require.NoError(t, err)
	assert.Len(t, p.kernel, 1)
	_, ok := p.kernel[rfd]
	assert.False(t, ok)
}

// A descriptor the kernel refuses is reported as an error, rather than
// failing the wait.
func TestEpollPoller_AddFailure(t *testing.T) {
	pp, err := newEpollPoller()
	require.NoError(t, err)
	defer pp.close()

	rfd, _ := testPipe(t)
	dead, err := unix.Dup(rfd)
	require.NoError(t, err)
	require.NoError(t, unix.Close(dead))

	ready, err := pp.wait([]interest{{serial: 1, fd: dead, events: EventRead}}, -1, nil)
	require.NoError(t, err)
	assert.Equal(t, []readyEvent{{fd: dead, events: EventError}}, ready)
}

// forget removes an installed registration at once, and keeps it from being
// reinstalled by an interest list built before the call.
func TestEpollPoller_Forget(t *testing.T) {
	pp, err := newEpollPoller()
	require.NoError(t, err)
	p := pp.(*epollPoller)
	defer p.close()

	rfd, wfd := testPipe(t)
	writeString(t, wfd, "x")
	in := []interest{{serial: 7, fd: rfd, events: EventRead}}

	ready, err := p.wait(in, 0, nil)
	require.NoError(t, err)
	require.Equal(t, []readyEvent{{fd: rfd, events: EventRead}}, ready)

	p.forget(7, rfd)
	assert.Empty(t, p.kernel)

	ready, err = p.wait(in, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.Empty(t, p.kernel)
	assert.Empty(t, p.forgotten)

	// a new registration of the same fd is unaffected
	ready, err = p.wait([]interest{{serial: 8, fd: rfd, events: EventRead}}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []readyEvent{{fd: rfd, events: EventRead}}, ready)

	// a stale serial leaves the current registration alone
	p.forget(7, rfd)
	assert.Contains(t, p.kernel, rfd)

	require.NoError(t, p.close())
	p.forget(8, rfd)
}

// Closing a descriptor straight after unregistering it must not leave its
// open file description in the epoll set, even when another descriptor keeps
// the description alive, as the dup held by a ListenerAcceptor does.
func TestUnregister_CloseSharedDescription(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		defer ln.Close()

		r := newTestReactor(t, WithBackend(b), WithMetrics(true))

		acc, err := ListenerAcceptor(ln, func(fd int, _ unix.Sockaddr) error {
			return unix.Close(fd)
		})
		require.NoError(t, err)
		defer acc.Close()
		require.NoError(t, r.Register(acc))

		rfd, wfd := testPipe(t)
		trigger := newTestSelectable(rfd)
		trigger.read.Store(true)
		done := make(chan error, 1)
		trigger.onReadable = func() error {
			_, _ = unix.Read(rfd, make([]byte, 16))
			err := r.Unregister(acc)
			if cerr := acc.Close(); err == nil {
				err = cerr
			}
			select {
			case done <- err:
			default:
			}
			return nil
		}
		require.NoError(t, r.Register(trigger))
		writeString(t, wfd, "x")

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("trigger not dispatched")
		}

		c, err := net.DialTimeout("tcp", ln.Addr().String(), 5*time.Second)
		require.NoError(t, err)
		defer c.Close()

		before := r.Metrics().Iterations
		time.Sleep(200 * time.Millisecond)
		assert.Less(t, r.Metrics().Iterations-before, uint64(10))
		assert.Equal(t, uint64(0), acc.Accepted())
	})
}

func TestDefaultBackendIsEpoll(t *testing.T) {
	p, err := newPoller(BackendDefault)
	require.NoError(t, err)
	defer p.close()
	assert.IsType(t, (*epollPoller)(nil), p)
}
