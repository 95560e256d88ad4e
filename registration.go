//go:build unix

package reactor

type mutationKind uint8

const (
	mutationAdd mutationKind = iota
	mutationModify
	mutationRemove
)

// mutation is a registration change, queued for the loop.
type mutation struct {
	e    *entry
	kind mutationKind
}

// Register adds s to the reactor. Its interest takes effect no later than
// the next loop iteration.
//
// Returns ErrDuplicateRegistration if a Selectable with the same fd is
// already registered, in which case nothing changes.
func (r *Reactor) Register(s Selectable) error {
	if s == nil {
		return ErrNilSelectable
	}
	fd := s.FD()
	if fd < 0 {
		return ErrInvalidFD
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.Accepting() {
		return ErrStopped
	}
	if _, ok := r.registered[fd]; ok || fd == r.wake.readFD {
		return ErrDuplicateRegistration
	}

	r.nextSerial++
	e := &entry{
		s:      s,
		serial: r.nextSerial,
		fd:     fd,
		index:  -1,
	}
	r.registered[fd] = e
	r.pending.Add(mutation{e: e, kind: mutationAdd})
	r.wakeLocked()

	return nil
}

// Modify tells the reactor that the interest or deadline of s changed, so it
// is re-read before the next wait, rather than after the current one. It is
// an idempotent resync, and never causes a duplicate dispatch.
func (r *Reactor) Modify(s Selectable) error {
	if s == nil {
		return ErrNilSelectable
	}
	fd := s.FD()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookupLocked(fd, s)
	if err != nil {
		return err
	}
	r.pending.Add(mutation{e: e, kind: mutationModify})
	r.wakeLocked()

	return nil
}

// Unregister removes s from the reactor. The fd is released by the
// readiness backend before Unregister returns, so it may be closed, or
// registered again (e.g. by a new Selectable), immediately afterwards.
//
// Called from any goroutine other than the loop goroutine, Unregister waits
// for a callback of s that is in flight, and no method of s is called after
// it returns. A callback must not block on a goroutine that is itself
// unregistering the same Selectable.
//
// Called from within a callback, it returns immediately, and no further
// callbacks of s are dispatched, including the remainder of the current
// iteration.
func (r *Reactor) Unregister(s Selectable) error {
	if s == nil {
		return ErrNilSelectable
	}
	fd := s.FD()

	r.mu.Lock()
	e, err := r.lookupLocked(fd, s)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.registered, e.fd)
	e.removed.Store(true)
	r.poller.forget(e.serial, e.fd)
	r.pending.Add(mutation{e: e, kind: mutationRemove})
	r.wakeLocked()
	r.mu.Unlock()

	if !r.isLoopThread() {
		e.dispatchMu.Lock()
		//lint:ignore SA2001 waits for an in-flight callback
		e.dispatchMu.Unlock()
	}

	return nil
}

// Wakeup interrupts the current wait, causing every registered Selectable's
// interest and deadline to be re-read. Returns ErrStopped once stopped.
func (r *Reactor) Wakeup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Load() == StateStopped {
		return ErrStopped
	}
	r.wakeLocked()
	return nil
}

// Len returns the number of registered Selectables, including registrations
// not yet applied by the loop.
func (r *Reactor) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

func (r *Reactor) lookupLocked(fd int, s Selectable) (*entry, error) {
	e, ok := r.registered[fd]
	if !ok || e.s != s {
		return nil, ErrNotRegistered
	}
	return e, nil
}

// wakeLocked signals the wakeup channel. It must be called with mu held,
// which guarantees the descriptors are open.
func (r *Reactor) wakeLocked() {
	if r.state.Load() == StateStopped {
		return
	}
	if err := r.wake.signal(); err != nil {
		r.logger.Err().
			Err(err).
			Int("reactor", int(r.id)).
			Log("reactor wakeup failed")
	}
}
