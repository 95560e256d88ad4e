package reactor

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/logiface"
)

// defaultLogRateLimits bounds how often a failing (fd, op) pair is logged.
var defaultLogRateLimits = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 30,
}

// reactorOptions holds configuration options for Reactor creation.
type reactorOptions struct {
	logger         *logiface.Logger[logiface.Event]
	clock          clock.Clock
	logRateLimits  map[time.Duration]int
	backend        Backend
	metricsEnabled bool
}

// Option configures a Reactor instance.
type Option interface {
	applyReactor(*reactorOptions) error
}

// reactorOptionImpl implements Option.
type reactorOptionImpl struct {
	applyReactorFunc func(*reactorOptions) error
}

func (r *reactorOptionImpl) applyReactor(opts *reactorOptions) error {
	return r.applyReactorFunc(opts)
}

// WithLogger sets the logger used for lifecycle events and handler
// failures. A nil logger disables logging, which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock sets the clock that deadlines are compared against.
// Defaults to the real (monotonic) clock.
func WithClock(c clock.Clock) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		if c == nil {
			return fmt.Errorf("reactor: nil clock")
		}
		opts.clock = c
		return nil
	}}
}

// WithBackend selects the readiness multiplexing primitive.
func WithBackend(b Backend) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		switch b {
		case BackendDefault, BackendPoll, BackendEpoll:
		default:
			return fmt.Errorf("%w: %s", ErrBackendUnsupported, b)
		}
		opts.backend = b
		return nil
	}}
}

// WithLogRateLimits sets the sliding windows used to limit logging of
// repeated failures from the same file descriptor and operation, in the
// format accepted by catrate.NewLimiter. An empty map disables limiting.
func WithLogRateLimits(rates map[time.Duration]int) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.logRateLimits = rates
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Reactor.
// When enabled, metrics can be accessed via Reactor.Metrics.
func WithMetrics(enabled bool) Option {
	return &reactorOptionImpl{func(opts *reactorOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to reactorOptions.
func resolveOptions(opts []Option) (*reactorOptions, error) {
	cfg := &reactorOptions{
		clock:         clock.New(),
		logRateLimits: defaultLogRateLimits,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
