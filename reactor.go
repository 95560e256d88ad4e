//go:build unix

package reactor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"go.uber.org/multierr"
)

// reactorIDCounter generates unique reactor IDs, for logging.
var reactorIDCounter atomic.Uint64

// entry is the reactor's record of one registration.
type entry struct {
	s Selectable

	// loop-owned, from the most recent interest evaluation
	deadline      time.Time
	firedDeadline time.Time

	serial uint64
	fd     int
	// index in Reactor.active, or -1
	index int

	dispatchMu sync.Mutex
	removed    atomic.Bool

	events      IOEvents
	hasDeadline bool
	fired       bool
	stale       bool
}

// Reactor multiplexes many file descriptors behind one blocking readiness
// call, and dispatches their readiness and deadlines to registered
// [Selectable] implementations, on a single dedicated goroutine.
//
// Register, Modify and Unregister are safe to call from any goroutine,
// including from within callbacks. Changes are queued, and applied at the
// start of the next loop iteration.
type Reactor struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	clock   clock.Clock
	poller  poller
	wake    *wakeup
	done    chan struct{}
	// err is written before done is closed
	err error

	// registered is the source of truth for membership, keyed by fd
	registered map[int]*entry
	// pending mutations, applied by the loop in FIFO order
	pending *queue.Queue

	// loop-owned
	byFD     map[int]*entry
	active   []*entry
	interest []interest
	ready    []readyEvent

	counters counters

	id              uint64
	nextSerial      uint64
	loopGoroutineID atomic.Uint64

	mu sync.Mutex

	backend        Backend
	state          fastState
	metricsEnabled bool
}

// New creates a new, unstarted, Reactor.
func New(opts ...Option) (*Reactor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(cfg.logRateLimits)
	if err != nil {
		return nil, err
	}

	p, err := newPoller(cfg.backend)
	if err != nil {
		return nil, err
	}

	w, err := newWakeup()
	if err != nil {
		_ = p.close()
		return nil, err
	}

	r := &Reactor{
		logger:         cfg.logger,
		limiter:        limiter,
		clock:          cfg.clock,
		poller:         p,
		wake:           w,
		done:           make(chan struct{}),
		registered:     make(map[int]*entry),
		pending:        queue.New(),
		byFD:           make(map[int]*entry),
		id:             reactorIDCounter.Add(1),
		backend:        cfg.backend,
		metricsEnabled: cfg.metricsEnabled,
	}

	r.logger.Debug().
		Int("reactor", int(r.id)).
		Str("backend", r.backend.String()).
		Log("reactor created")

	return r, nil
}

// Start spawns the loop goroutine, which is locked to its OS thread.
//
// Returns ErrAlreadyStarted if the reactor is running, or ErrStopped if it
// has been stopped. A stopped reactor cannot be restarted.
func (r *Reactor) Start() error {
	if !r.state.TryTransition(StateAwake, StateRunning) {
		if r.state.Load() == StateRunning {
			return ErrAlreadyStarted
		}
		return ErrStopped
	}

	go r.run()

	r.logger.Info().
		Int("reactor", int(r.id)).
		Log("reactor started")

	return nil
}

// Stop requests the loop to exit, then waits for it to do so, or for ctx to
// be done, in which case ctx.Err() is returned. A stop that timed out still
// completes in the background, see [Reactor.Done].
//
// Called from a callback, Stop only requests the stop, and returns nil
// without waiting. Called on a reactor that was never started, Stop releases
// its descriptors and returns ErrNotStarted. Repeated calls wait for the
// same stop.
func (r *Reactor) Stop(ctx context.Context) error {
	for {
		switch r.state.Load() {
		case StateAwake:
			if r.state.TryTransition(StateAwake, StateStopped) {
				_ = r.closeUnstarted()
				return ErrNotStarted
			}

		case StateRunning:
			if r.state.TryTransition(StateRunning, StateStopping) {
				r.mu.Lock()
				r.wakeLocked()
				r.mu.Unlock()
				r.logger.Debug().
					Int("reactor", int(r.id)).
					Log("reactor stop requested")
				return r.awaitStop(ctx)
			}

		default:
			return r.awaitStop(ctx)
		}
	}
}

// StopTimeout is Stop with a timeout. A timeout <= 0 waits indefinitely.
func (r *Reactor) StopTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return r.Stop(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Stop(ctx)
}

// Close releases the descriptors of a reactor that was never started. For a
// started reactor it is equivalent to Stop(context.Background()).
func (r *Reactor) Close() error {
	if r.state.TryTransition(StateAwake, StateStopped) {
		return r.closeUnstarted()
	}
	return r.Stop(context.Background())
}

// State returns the current lifecycle state.
func (r *Reactor) State() State {
	return r.state.Load()
}

// Done returns a channel that is closed once the reactor has stopped, and
// all of its descriptors have been released.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that terminated the loop, if it failed rather than
// being stopped. It returns nil until [Reactor.Done] is closed.
func (r *Reactor) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Now returns the current time, per the reactor's clock. Deadlines returned
// by [Selectable.NextDeadline] are compared against it.
func (r *Reactor) Now() time.Time {
	return r.clock.Now()
}

func (r *Reactor) awaitStop(ctx context.Context) error {
	if r.isLoopThread() {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reactor) closeUnstarted() error {
	err := r.poller.close()
	r.mu.Lock()
	err = multierr.Append(err, r.wake.close())
	clear(r.registered)
	r.pending = queue.New()
	r.mu.Unlock()
	close(r.done)
	r.logger.Debug().
		Int("reactor", int(r.id)).
		Log("reactor closed")
	return err
}

// run is the loop goroutine.
func (r *Reactor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	r.loopGoroutineID.Store(goroutineID())

	var cause error
	defer func() { r.finish(cause) }()

	for r.state.Load() == StateRunning {
		if cause = r.iterate(); cause != nil {
			r.state.TryTransition(StateRunning, StateStopping)
			r.logger.Err().
				Err(cause).
				Int("reactor", int(r.id)).
				Log("reactor poller failed")
			return
		}
	}
}

// finish releases everything the loop owned. The wakeup descriptors are
// closed under mu, together with the transition to StateStopped, so that a
// concurrent mutator can never write to a closed, or reused, descriptor.
func (r *Reactor) finish(cause error) {
	err := r.poller.close()

	r.mu.Lock()
	r.state.Store(StateStopped)
	err = multierr.Append(err, r.wake.close())
	for _, e := range r.registered {
		e.removed.Store(true)
	}
	clear(r.registered)
	r.pending = queue.New()
	r.mu.Unlock()

	r.active = nil
	clear(r.byFD)

	if err != nil {
		r.logger.Warning().
			Err(err).
			Int("reactor", int(r.id)).
			Log("reactor close failed")
	}

	r.err = cause
	close(r.done)

	r.logger.Info().
		Int("reactor", int(r.id)).
		Log("reactor stopped")
}

// isLoopThread checks if we're on the loop goroutine.
func (r *Reactor) isLoopThread() bool {
	loopID := r.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return goroutineID() == loopID
}
