//go:build unix

package reactor

import (
	"time"
)

// iterate runs a single loop iteration.
func (r *Reactor) iterate() error {
	r.applyPending()

	now := r.clock.Now()
	timeout := time.Duration(-1)
	if nextWake, ok := r.computeInterest(now); ok {
		timeout = max(0, nextWake.Sub(now))
	}

	if r.state.Load() != StateRunning {
		return nil
	}

	var err error
	r.ready, err = r.poller.wait(r.interest, timeout, r.ready[:0])
	if err != nil {
		return err
	}

	r.dispatchReady()
	r.fireTimeouts()

	r.inc(&r.counters.iterations)
	return nil
}

// applyPending applies queued registration changes, in order.
func (r *Reactor) applyPending() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.pending.Length() > 0 {
		m := r.pending.Remove().(mutation)
		e := m.e
		switch m.kind {
		case mutationAdd:
			if e.removed.Load() {
				continue
			}
			e.index = len(r.active)
			r.active = append(r.active, e)
			r.byFD[e.fd] = e

		case mutationModify:
			if e.index >= 0 {
				e.stale = false
			}

		case mutationRemove:
			if e.index < 0 {
				continue
			}
			last := len(r.active) - 1
			r.active[e.index] = r.active[last]
			r.active[e.index].index = e.index
			r.active[last] = nil
			r.active = r.active[:last]
			e.index = -1
			if r.byFD[e.fd] == e {
				delete(r.byFD, e.fd)
			}
		}
	}
}

// computeInterest evaluates every active entry, rebuilding the interest
// list, and returns the earliest deadline that has not already fired.
func (r *Reactor) computeInterest(now time.Time) (nextWake time.Time, ok bool) {
	r.interest = append(r.interest[:0], interest{
		fd:     r.wake.readFD,
		events: EventRead,
	})

	for _, e := range r.active {
		e.events = 0
		e.hasDeadline = false
		r.call(e, OpInterest, func(s Selectable) error {
			if s.WantsRead() {
				e.events |= EventRead
			}
			if s.WantsWrite() {
				e.events |= EventWrite
			}
			e.deadline, e.hasDeadline = s.NextDeadline()
			return nil
		})

		if e.events != 0 {
			r.interest = append(r.interest, interest{
				serial: e.serial,
				fd:     e.fd,
				events: e.events,
			})
		}

		if !e.hasDeadline {
			e.fired = false
			e.stale = false
			continue
		}
		if e.fired && e.deadline.Equal(e.firedDeadline) {
			if !e.stale {
				e.stale = true
				r.logger.Warning().
					Int("reactor", int(r.id)).
					Int("fd", e.fd).
					Time("deadline", e.deadline).
					Log("selectable deadline did not advance after timeout")
			}
			continue
		}
		if !ok || e.deadline.Before(nextWake) {
			nextWake, ok = e.deadline, true
		}
	}

	return nextWake, ok
}

// dispatchReady delivers readiness, writable before readable. Error and
// hangup conditions are delivered to readable if the entry wanted to read,
// otherwise to writable, so the handler observes the failure on its next
// I/O call.
func (r *Reactor) dispatchReady() {
	for _, ev := range r.ready {
		if ev.fd == r.wake.readFD {
			if err := r.wake.drain(); err != nil {
				r.logger.Err().
					Err(err).
					Int("reactor", int(r.id)).
					Log("reactor wakeup drain failed")
			}
			r.inc(&r.counters.wakeups)
			continue
		}
		e := r.byFD[ev.fd]
		if e == nil || !deliverWritable(e.events, ev.events) {
			continue
		}
		if r.call(e, OpWritable, Selectable.OnWritable) {
			r.inc(&r.counters.writableDispatches)
		}
	}

	for _, ev := range r.ready {
		e := r.byFD[ev.fd]
		if e == nil || !deliverReadable(e.events, ev.events) {
			continue
		}
		if r.call(e, OpReadable, Selectable.OnReadable) {
			r.inc(&r.counters.readableDispatches)
		}
	}
}

func deliverWritable(want, got IOEvents) bool {
	if want&EventWrite == 0 {
		return false
	}
	if got&EventWrite != 0 {
		return true
	}
	return want&EventRead == 0 && got&(EventError|EventHangup) != 0
}

func deliverReadable(want, got IOEvents) bool {
	if want&EventRead == 0 {
		return false
	}
	return got&(EventRead|EventError|EventHangup) != 0
}

// fireTimeouts calls OnTimeout once for every expired deadline. Deadlines
// are re-read, since I/O dispatch may have advanced them.
func (r *Reactor) fireTimeouts() {
	now := r.clock.Now()

	for _, e := range r.active {
		if e.removed.Load() {
			continue
		}

		var deadline time.Time
		var ok bool
		if !r.call(e, OpInterest, func(s Selectable) error {
			deadline, ok = s.NextDeadline()
			return nil
		}) || !ok {
			continue
		}
		if deadline.After(now) {
			continue
		}

		if e.fired && deadline.Equal(e.firedDeadline) {
			continue
		}

		e.fired = true
		e.firedDeadline = deadline
		if r.call(e, OpTimeout, Selectable.OnTimeout) {
			r.inc(&r.counters.timeouts)
		}
	}
}

// call runs fn against the Selectable of e, holding its dispatch lock,
// unless e has been unregistered. Errors and panics are isolated and logged.
// Reports whether fn was called.
func (r *Reactor) call(e *entry, op Op, fn func(Selectable) error) (called bool) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	if e.removed.Load() {
		return false
	}

	defer func() {
		if v := recover(); v != nil {
			r.handlerFailed(&HandlerError{Panic: v, FD: e.fd, Op: op})
		}
	}()

	called = true
	if err := fn(e.s); err != nil {
		r.handlerFailed(&HandlerError{Err: err, FD: e.fd, Op: op})
	}
	return called
}
