//go:build unix

package reactor

import (
	"sync/atomic"
)

// Metrics is a snapshot of runtime counters for a [Reactor].
//
// Counters are only maintained when the reactor was created with
// WithMetrics(true), Registered is always populated.
type Metrics struct {
	// Iterations is the number of completed loop iterations.
	Iterations uint64
	// Wakeups is the number of times the wakeup channel was drained.
	Wakeups            uint64
	ReadableDispatches uint64
	WritableDispatches uint64
	Timeouts           uint64
	// HandlerFailures counts callbacks that returned an error or panicked.
	HandlerFailures uint64
	// SuppressedLogs counts handler failures that were not logged, due to
	// rate limiting.
	SuppressedLogs uint64
	// Registered is the number of registered Selectables.
	Registered int
}

// counters is the live, lock-free, form of Metrics.
type counters struct {
	iterations         atomic.Uint64
	wakeups            atomic.Uint64
	readableDispatches atomic.Uint64
	writableDispatches atomic.Uint64
	timeouts           atomic.Uint64
	handlerFailures    atomic.Uint64
	suppressedLogs     atomic.Uint64
}

// inc increments c if metrics are enabled.
func (r *Reactor) inc(c *atomic.Uint64) {
	if r.metricsEnabled {
		c.Add(1)
	}
}

// Metrics returns a snapshot of the reactor's counters.
// It is safe to call from any goroutine.
func (r *Reactor) Metrics() Metrics {
	return Metrics{
		Iterations:         r.counters.iterations.Load(),
		Wakeups:            r.counters.wakeups.Load(),
		ReadableDispatches: r.counters.readableDispatches.Load(),
		WritableDispatches: r.counters.writableDispatches.Load(),
		Timeouts:           r.counters.timeouts.Load(),
		HandlerFailures:    r.counters.handlerFailures.Load(),
		SuppressedLogs:     r.counters.suppressedLogs.Load(),
		Registered:         r.Len(),
	}
}
