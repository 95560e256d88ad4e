//go:build unix

package reactor

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

// failureCategory is the rate limiting key for handler failure logs.
type failureCategory struct {
	fd int
	op Op
}

// newLimiter returns nil, which allows everything, for empty rates.
func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if v := recover(); v != nil {
			limiter, err = nil, fmt.Errorf("reactor: invalid log rate limits: %v", v)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// handlerFailed counts, and possibly logs, a failed callback.
func (r *Reactor) handlerFailed(err *HandlerError) {
	r.inc(&r.counters.handlerFailures)

	if _, ok := r.limiter.Allow(failureCategory{fd: err.FD, op: err.Op}); !ok {
		r.inc(&r.counters.suppressedLogs)
		return
	}

	b := r.logger.Err()
	if err.Panic != nil {
		b = b.Any("panic", err.Panic)
	}
	b.Err(err).
		Int("reactor", int(r.id)).
		Int("fd", err.FD).
		Str("op", err.Op.String()).
		Log("selectable callback failed")
}
