package generate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollExhausted is returned when a job is still running after the last
// attempt.
var ErrPollExhausted = errors.New("generation still running after max poll attempts")

// Poller re-checks a long-running job with a growing interval.
type Poller struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultPoller starts at the 5 s cadence the video API expects and backs
// off to 20 s, for a worst case of roughly 35 minutes.
func DefaultPoller() Poller {
	return Poller{
		Interval:    5 * time.Second,
		MaxInterval: 20 * time.Second,
		Multiplier:  1.5,
		MaxAttempts: 120,
	}
}

// CheckFunc reports whether the job reached a terminal state. A non-nil
// error aborts polling.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Poll waits one interval before each check.
func (p Poller) Poll(ctx context.Context, check CheckFunc) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPoller().Interval
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPoller().MaxAttempts
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		interval = p.next(interval)
		timer.Reset(interval)
	}
	return fmt.Errorf("%w (%d)", ErrPollExhausted, attempts)
}

func (p Poller) next(d time.Duration) time.Duration {
	if p.Multiplier > 1 {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}
