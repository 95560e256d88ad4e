//go:build unix

package reactor

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// exitStopTimeout bounds how long the exit hook waits for the loop.
const exitStopTimeout = 5 * time.Second

var exitSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// signalSource abstracts the process signal API.
type signalSource interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
	Raise(sig os.Signal) error
}

type osSignals struct{}

func (osSignals) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }

func (osSignals) Stop(c chan<- os.Signal) { signal.Stop(c) }

func (osSignals) Raise(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return nil
	}
	return unix.Kill(unix.Getpid(), s)
}

type exitHook struct {
	signals signalSource
	ch      chan os.Signal
	removed chan struct{}
	done    chan struct{}
}

func installExitHook(r *Reactor, signals signalSource, sigs []os.Signal) *exitHook {
	h := &exitHook{
		signals: signals,
		ch:      make(chan os.Signal, 1),
		removed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	signals.Notify(h.ch, sigs...)
	go h.run(r)
	return h
}

func (h *exitHook) run(r *Reactor) {
	defer close(h.done)

	select {
	case <-h.removed:
		h.signals.Stop(h.ch)

	case sig := <-h.ch:
		r.logger.Info().
			Int("reactor", int(r.id)).
			Str("signal", sig.String()).
			Log("reactor stopping on signal")
		_ = r.StopTimeout(exitStopTimeout)
		h.signals.Stop(h.ch)
		if err := h.signals.Raise(sig); err != nil {
			r.logger.Err().
				Err(err).
				Str("signal", sig.String()).
				Log("reactor failed to re-raise signal")
		}
	}
}

// remove uninstalls the hook, waiting for a signal in flight to be handled.
func (h *exitHook) remove() {
	select {
	case <-h.done:
	default:
		close(h.removed)
		<-h.done
	}
}
