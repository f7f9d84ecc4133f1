package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollStopsOnDone(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 10}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollFirstAttemptIsImmediate(t *testing.T) {
	start := time.Now()
	err := Poll(context.Background(), Policy{Interval: time.Second, MaxAttempts: 5}, func(context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPollSurfacesProbeError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Poll(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 10}, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "a probe error stops the loop immediately")
}

func TestPollExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), Policy{Interval: time.Millisecond, MaxAttempts: 4}, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 4, calls)
}

func TestPollExhaustsDeadline(t *testing.T) {
	err := Poll(context.Background(), Policy{Interval: 5 * time.Millisecond, MaxDuration: 20 * time.Millisecond}, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestPollRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Poll(ctx, Policy{Interval: time.Hour}, func(context.Context) (bool, error) {
			return false, nil
		})
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poll did not stop on cancellation")
	}
}

func TestPollCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Poll(ctx, Policy{Interval: time.Millisecond, MaxAttempts: 3}, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
