//go:build unix

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/reactorprom"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	// maxPending bounds buffered output per connection, reads pause above it
	maxPending    = 64 << 10
	readSize      = 4096
	stopTimeout   = 5 * time.Second
	headerTimeout = 10 * time.Second
)

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

type server struct {
	logger *logiface.Logger[logiface.Event]
	r      *reactor.Reactor

	// ready, if set, is called once listening
	ready func(echo, metrics net.Addr)

	// conns is only accessed by the reactor goroutine, or after it exits
	conns map[*conn]struct{}

	listen      string
	metricsAddr string
	idleTimeout time.Duration
	backend     reactor.Backend
}

func run(ctx context.Context, s *server) error {
	addr, err := net.ResolveTCPAddr("tcp", s.listen)
	if err != nil {
		return err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	r, err := reactor.New(
		reactor.WithLogger(s.logger),
		reactor.WithBackend(s.backend),
		reactor.WithMetrics(true),
	)
	if err != nil {
		return err
	}
	s.r = r
	s.conns = make(map[*conn]struct{})

	acceptor, err := reactor.ListenerAcceptor(ln, s.accept)
	if err != nil {
		_ = r.Close()
		return err
	}
	defer acceptor.Close()

	if err := r.Register(acceptor); err != nil {
		_ = r.Close()
		return err
	}
	if err := r.Start(); err != nil {
		_ = r.Close()
		return err
	}
	defer s.shutdown()

	g, ctx := errgroup.WithContext(ctx)

	var metricsAddr net.Addr
	if s.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(reactorprom.NewCollector(r, "echo", nil)); err != nil {
			return err
		}
		mln, err := net.Listen("tcp", s.metricsAddr)
		if err != nil {
			return err
		}
		metricsAddr = mln.Addr()
		hs := &http.Server{
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: headerTimeout,
		}
		g.Go(func() error {
			if err := hs.Serve(mln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return hs.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Done():
			if err := r.Err(); err != nil {
				return err
			}
			return reactor.ErrStopped
		}
	})

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("backend", s.backend.String()).
		Str("idle_timeout", s.idleTimeout.String()).
		Log("listening")

	if s.ready != nil {
		s.ready(ln.Addr(), metricsAddr)
	}

	return g.Wait()
}

// shutdown stops the reactor, then closes every connection it left open.
func (s *server) shutdown() {
	if err := s.r.StopTimeout(stopTimeout); err != nil {
		s.logger.Err().Err(err).Log("reactor stop failed")
		return
	}
	for c := range s.conns {
		_ = unix.Close(c.fd)
	}
	m := s.r.Metrics()
	s.logger.Info().
		Int("open_connections", len(s.conns)).
		Str("iterations", strconv.FormatUint(m.Iterations, 10)).
		Log("stopped")
	clear(s.conns)
}

// accept runs on the reactor goroutine.
func (s *server) accept(fd int, addr unix.Sockaddr) error {
	c := &conn{srv: s, fd: fd}
	c.touch()
	if err := s.r.Register(c); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.conns[c] = struct{}{}
	s.logger.Debug().
		Int("fd", fd).
		Str("peer", sockaddrString(addr)).
		Log("accepted")
	return nil
}

// conn echoes everything it reads. It wants to write only while output is
// pending, and stops reading while too much is.
type conn struct {
	srv      *server
	deadline time.Time
	out      []byte
	in       [readSize]byte
	fd       int
	closed   bool
}

func (c *conn) FD() int { return c.fd }

func (c *conn) WantsRead() bool { return !c.closed && len(c.out) < maxPending }

func (c *conn) WantsWrite() bool { return !c.closed && len(c.out) != 0 }

func (c *conn) NextDeadline() (time.Time, bool) {
	return c.deadline, !c.closed && c.srv.idleTimeout > 0
}

func (c *conn) OnReadable() error {
	n, err := unix.Read(c.fd, c.in[:])
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return nil
	case err != nil:
		c.close("read failed")
		return err
	case n == 0:
		c.close("peer closed")
		return nil
	}
	c.out = append(c.out, c.in[:n]...)
	c.touch()
	return nil
}

func (c *conn) OnWritable() error {
	n, err := unix.Write(c.fd, c.out)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return nil
	case err != nil:
		c.close("write failed")
		return err
	}
	c.out = c.out[:copy(c.out, c.out[n:])]
	c.touch()
	return nil
}

func (c *conn) OnTimeout() error {
	c.close("idle timeout")
	return nil
}

func (c *conn) touch() {
	if c.srv.idleTimeout > 0 {
		c.deadline = c.srv.r.Now().Add(c.srv.idleTimeout)
	}
}

func (c *conn) close(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	if err := c.srv.r.Unregister(c); err != nil {
		c.srv.logger.Warning().Err(err).Int("fd", c.fd).Log("unregister failed")
	}
	_ = unix.Close(c.fd)
	delete(c.srv.conns, c)
	c.srv.logger.Debug().
		Int("fd", c.fd).
		Str("reason", reason).
		Log("closed")
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrUnix:
		return sa.Name
	default:
		return fmt.Sprintf("%T", sa)
	}
}
