package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	assert.Equal(t, 100*time.Millisecond, p.NextDelay(0))
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 800*time.Millisecond, p.NextDelay(4))
	assert.Equal(t, time.Second, p.NextDelay(10))
}

func TestNextDelayDefaults(t *testing.T) {
	var p RetryPolicy
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}
	calls := 0
	var retried []int

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(attempt int, err error) { retried = append(retried, attempt) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoGivesUp(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond}
	boom := errors.New("boom")
	calls := 0

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoNoRetries(t *testing.T) {
	calls := 0
	err := RetryPolicy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("once")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContext(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, InitialDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Do(ctx, func(context.Context) error { return errors.New("down") }, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond}
	fatal := errors.New("bad credentials")
	calls := 0

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(fatal)
	}, nil)

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}
