package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacache/stratacache/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestSucceedsFirstAttempt(t *testing.T) {
	r := New(fastConfig())
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetriesRetryableError(t *testing.T) {
	r := New(fastConfig())
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrCodeConnectionTimeout, "slow tier")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoesNotRetryValidation(t *testing.T) {
	r := New(fastConfig())
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.NewValidation("bad key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestExhaustsAttempts(t *testing.T) {
	r := New(fastConfig())
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.NewTierUnavailable("cold", "set", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRetryExhausted))
}

func TestContextCancellation(t *testing.T) {
	r := New(Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func(context.Context) error {
		return errors.New(errors.ErrCodeConnectionFailed, "refused")
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeOperationCanceled))
}

func TestOnRetryCallback(t *testing.T) {
	cfg := fastConfig()
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	r := New(cfg)
	_ = r.Do(context.Background(), func(context.Context) error {
		return errors.New(errors.ErrCodeTierUnavailable, "down")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDelayGrowthCapped(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 2 * time.Millisecond
	cfg.MaxDelay = 4 * time.Millisecond
	r := New(cfg)

	assert.Equal(t, 2*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 4*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 4*time.Millisecond, r.calculateDelay(5))
}
