package reactor

import (
	"sync/atomic"
)

// State represents the lifecycle of a [Reactor].
//
//	StateAwake → StateRunning      [Start]
//	StateAwake → StateStopped      [Stop, Close]
//	StateRunning → StateStopping   [Stop, fatal poller error]
//	StateStopping → StateStopped   [loop exit]
//	StateStopped → (terminal)
type State uint32

const (
	// StateAwake indicates the reactor has been created but not started.
	StateAwake State = iota
	// StateRunning indicates the loop goroutine is dispatching.
	StateRunning
	// StateStopping indicates a stop was requested, and the loop has not yet
	// exited.
	StateStopping
	// StateStopped indicates the loop has exited and all descriptors owned by
	// the reactor have been closed.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine.
// Transitions between live states use TryTransition, Store is reserved for
// the terminal state.
type fastState struct {
	v atomic.Uint32
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

func (s *fastState) Store(state State) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// Accepting reports whether registrations are still allowed.
func (s *fastState) Accepting() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning
}
