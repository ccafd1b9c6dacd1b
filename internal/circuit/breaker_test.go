package circuit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
)

var errBackend = fmt.Errorf("backend down")

func failingCalls(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error {
			return errBackend
		})
	}
}

func TestClosedPassesThrough(t *testing.T) {
	b := NewBreaker("warm", Config{})
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, b.State())
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("warm", Config{})
	failingCalls(b, 5)
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatal("must not be called while open")
		return nil
	})
	require.Error(t, err)
	assert.True(t, cacheerrors.IsCode(err, cacheerrors.ErrCodeCircuitOpen))
}

func TestHalfOpenRecovery(t *testing.T) {
	b := NewBreaker("cold", Config{Timeout: 20 * time.Millisecond})
	failingCalls(b, 5)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("cold", Config{Timeout: 20 * time.Millisecond})
	failingCalls(b, 5)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Execute(context.Background(), func(context.Context) error { return errBackend })
	assert.Equal(t, StateOpen, b.State())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("warm", Config{})
	failingCalls(b, 4)
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	failingCalls(b, 4)
	assert.Equal(t, StateClosed, b.State())
}

func TestOnStateChange(t *testing.T) {
	var transitions []string
	b := NewBreaker("warm", Config{
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	failingCalls(b, 5)
	assert.Equal(t, []string{"warm:CLOSED->OPEN"}, transitions)
}
