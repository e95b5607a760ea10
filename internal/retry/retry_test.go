package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

func TestDelayBounds(t *testing.T) {
	p := Policy{MaxRetries: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	for attempt := 1; attempt <= 8; attempt++ {
		base := time.Second << (attempt - 1)
		if base > p.MaxDelay {
			base = p.MaxDelay
		}
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, base, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base+base/4, "attempt %d", attempt)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int

	err := Do(context.Background(), fast, func(attempt int, err error) {
		retried = append(retried, attempt)
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")

	err := Do(context.Background(), fast, nil, func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, nil, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: timeout", calls)
	})

	require.Error(t, err)
	assert.Equal(t, fast.MaxRetries+1, calls)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}

	err := Do(ctx, slow, func(int, error) { cancel() }, func(ctx context.Context) error {
		return errors.New("EOF")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryableStatus(http.StatusTooManyRequests))
	assert.True(t, IsRetryableStatus(http.StatusServiceUnavailable))
	assert.False(t, IsRetryableStatus(http.StatusBadRequest))
	assert.False(t, IsRetryableStatus(http.StatusNotFound))

	assert.True(t, IsRetryableError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsRetryableError(fmt.Errorf("do: %w", context.DeadlineExceeded)))
	assert.False(t, IsRetryableError(errors.New("invalid api key")))
	assert.False(t, IsRetryableError(nil))
}
