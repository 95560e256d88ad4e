//go:build unix

package reactor

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
)

// Lifecycle lazily constructs, starts, and eventually stops, a single
// [Reactor]. Concurrent first calls to [Lifecycle.Reactor] yield exactly one
// instance.
//
// The zero value is not usable, see [NewLifecycle].
type Lifecycle struct {
	reactor  atomic.Pointer[Reactor]
	hook     *exitHook
	signals  signalSource
	opts     []Option
	exitSigs []os.Signal
	mu       sync.Mutex
	shutdown bool
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption interface {
	applyLifecycle(*Lifecycle)
}

type lifecycleOptionImpl struct {
	applyLifecycleFunc func(*Lifecycle)
}

func (l *lifecycleOptionImpl) applyLifecycle(lc *Lifecycle) {
	l.applyLifecycleFunc(lc)
}

// WithReactorOptions sets the options used to construct the Reactor.
func WithReactorOptions(opts ...Option) LifecycleOption {
	return &lifecycleOptionImpl{func(lc *Lifecycle) {
		lc.opts = append(lc.opts, opts...)
	}}
}

// WithExitSignals installs an exit hook along with the Reactor: on receipt
// of any of the signals, the Reactor is stopped, and the signal re-raised
// with the handler removed, so the process exits as it otherwise would.
func WithExitSignals(sigs ...os.Signal) LifecycleOption {
	return &lifecycleOptionImpl{func(lc *Lifecycle) {
		lc.exitSigs = append(lc.exitSigs, sigs...)
	}}
}

// withSignalSource replaces the process signal API, for testing.
func withSignalSource(s signalSource) LifecycleOption {
	return &lifecycleOptionImpl{func(lc *Lifecycle) {
		lc.signals = s
	}}
}

// NewLifecycle returns a Lifecycle. Nothing is constructed until the first
// call to [Lifecycle.Reactor].
func NewLifecycle(opts ...LifecycleOption) *Lifecycle {
	lc := &Lifecycle{signals: osSignals{}}
	for _, opt := range opts {
		if opt != nil {
			opt.applyLifecycle(lc)
		}
	}
	return lc
}

// Reactor returns the started Reactor, constructing it on first use.
// Returns ErrStopped after [Lifecycle.Shutdown], or once the Reactor has
// been stopped by other means, e.g. the exit hook.
func (lc *Lifecycle) Reactor() (*Reactor, error) {
	if r := lc.reactor.Load(); r != nil && r.state.Accepting() {
		return r, nil
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.shutdown {
		return nil, ErrStopped
	}
	if r := lc.reactor.Load(); r != nil {
		if !r.state.Accepting() {
			return nil, ErrStopped
		}
		return r, nil
	}

	r, err := New(lc.opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Start(); err != nil {
		_ = r.Close()
		return nil, err
	}

	if len(lc.exitSigs) != 0 {
		lc.hook = installExitHook(r, lc.signals, lc.exitSigs)
	}

	lc.reactor.Store(r)
	return r, nil
}

// Shutdown removes any exit hook, and stops the Reactor, if one was
// constructed. Subsequent calls to [Lifecycle.Reactor] fail.
func (lc *Lifecycle) Shutdown(ctx context.Context) error {
	lc.mu.Lock()
	lc.shutdown = true
	hook := lc.hook
	lc.hook = nil
	r := lc.reactor.Swap(nil)
	lc.mu.Unlock()

	if hook != nil {
		hook.remove()
	}
	if r == nil {
		return nil
	}
	return r.Stop(ctx)
}

var defaultLifecycle = NewLifecycle(WithExitSignals(exitSignals...))

// Default returns the process-wide Reactor, constructing and starting it on
// first use. The first call also installs an exit hook, which stops the
// Reactor on SIGINT or SIGTERM.
//
// Programs should defer [Shutdown] in main, to cover normal returns.
func Default() (*Reactor, error) {
	return defaultLifecycle.Reactor()
}

// Shutdown stops the process-wide Reactor, if it was ever constructed.
func Shutdown(ctx context.Context) error {
	return defaultLifecycle.Shutdown(ctx)
}
