// Package retry provides the single bounded polling primitive shared by the
// authorization-status poll, the intent-execution poll and the
// reconciliation queue. Budgets are policy, not protocol: callers pass a
// Policy and a context, and the loop stops on the first of success, context
// cancellation, attempt exhaustion or deadline.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when the poll ran out of time or attempts
// without the probe reporting done.
var ErrExhausted = errors.New("retry: budget exhausted")

// Policy bounds a polling loop. Interval must be positive; MaxDuration and
// MaxAttempts are each optional (zero disables that bound) but at least one
// of them should be set or the loop is bounded only by the caller's context.
type Policy struct {
	Interval    time.Duration
	MaxDuration time.Duration
	MaxAttempts int
}

// Probe is one poll attempt. Returning done=true stops the loop with a nil
// error; returning a non-nil error stops the loop immediately with that
// error. (done=false, nil) schedules another attempt.
type Probe func(ctx context.Context) (done bool, err error)

// Poll runs probe under policy until it reports done, fails, or the budget
// runs out. The first attempt happens immediately, not after an interval.
// Context cancellation wins over everything and surfaces as ctx.Err().
func Poll(ctx context.Context, policy Policy, probe Probe) error {
	deadline := time.Time{}
	if policy.MaxDuration > 0 {
		deadline = time.Now().Add(policy.MaxDuration)
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := probe(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		attempts++
		if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
			return ErrExhausted
		}
		if !deadline.IsZero() && !time.Now().Add(policy.Interval).Before(deadline) {
			return ErrExhausted
		}

		timer := time.NewTimer(policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
