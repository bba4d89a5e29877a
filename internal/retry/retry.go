// Package retry applies a bounded backoff schedule around a dispatch
// attempt, distinguishing transient failures from fatal ones.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"poloniex/pkg/core"
)

// Policy wraps an operation in a fixed sequence of delays. A transient
// failure sleeps the next scheduled delay and re-invokes the operation from
// scratch; a fatal failure stops immediately. Sleeps block only the
// retrying call's own goroutine.
type Policy struct {
	// Delays is applied in order; total attempts = len(Delays)+1.
	Delays []time.Duration
	Logger zerolog.Logger
}

// New returns a Policy over the given delay schedule.
func New(delays []time.Duration, logger zerolog.Logger) *Policy {
	return &Policy{Delays: delays, Logger: logger}
}

// schedule walks a fixed delay sequence, then stops.
type schedule struct {
	delays []time.Duration
	next   int
}

func (s *schedule) NextBackOff() time.Duration {
	if s.next >= len(s.delays) {
		return backoff.Stop
	}
	d := s.delays[s.next]
	s.next++
	return d
}

func (s *schedule) Reset() {
	s.next = 0
}

// Do runs op under the policy. Errors that are not transient
// (per core.IsTransient) propagate as-is without consuming further delays.
// When the schedule is exhausted, the accumulated failures are returned as
// a core.RetryExhaustedError.
func Do[T any](ctx context.Context, p *Policy, op func(context.Context) (T, error)) (T, error) {
	var problems []error

	attempt := func() (T, error) {
		v, err := op(ctx)
		if err != nil && !core.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(&schedule{delays: p.Delays}),
		backoff.WithNotify(func(err error, delay time.Duration) {
			problems = append(problems, err)
			p.Logger.Info().
				Dur("delay", delay).
				Err(err).
				Msg("transient failure, delaying")
		}),
	)
	if err == nil {
		return v, nil
	}
	if core.IsTransient(err) {
		problems = append(problems, err)
		p.Logger.Debug().Errs("problems", problems).Msg("retry delays exhausted")
		return v, &core.RetryExhaustedError{Problems: problems}
	}
	return v, err
}
