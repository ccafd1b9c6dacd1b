package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *CacheError
		want string
	}{
		{
			name: "code and message only",
			err:  New(ErrCodeValidationFailed, "empty key"),
			want: "VALIDATION_FAILED: empty key",
		},
		{
			name: "with component",
			err:  New(ErrCodeTierUnavailable, "dial refused").WithComponent("warm"),
			want: "[warm] TIER_UNAVAILABLE: dial refused",
		},
		{
			name: "with component and operation",
			err:  New(ErrCodeTierUnavailable, "dial refused").WithComponent("warm").WithOperation("set"),
			want: "[warm:set] TIER_UNAVAILABLE: dial refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCategories(t *testing.T) {
	assert.Equal(t, CategoryTier, New(ErrCodeTierUnavailable, "x").Category)
	assert.Equal(t, CategoryAdmission, NewAdmissionRejected("low confidence").Category)
	assert.Equal(t, CategoryValidation, NewValidation("bad ttl").Category)
	assert.Equal(t, CategoryCapacity, New(ErrCodeCapacityExceeded, "full").Category)
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeConnectionTimeout, "slow")))
	assert.True(t, IsRetryable(NewTierUnavailable("cold", "get", nil)))
	assert.False(t, IsRetryable(NewValidation("bad key")))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(ErrCodeConnectionFailed, "warm tier write failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeConnectionFailed, GetCode(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeConnectionFailed))
}

func TestAdmissionRejected(t *testing.T) {
	err := NewAdmissionRejected("confidence 0.60 below threshold")
	assert.True(t, IsAdmissionRejected(err))
	assert.False(t, IsAdmissionRejected(fmt.Errorf("other")))
	assert.False(t, err.Retryable)
}

func TestContext(t *testing.T) {
	err := New(ErrCodeOperationTimeout, "tier call timed out").
		WithContext("key", "model:gpt:1").
		WithContext("tier", "cold")

	assert.Equal(t, "model:gpt:1", err.Context["key"])
	assert.Equal(t, "cold", err.Context["tier"])
}

func TestGetCodeForeignError(t *testing.T) {
	assert.Equal(t, ErrCodeInternalError, GetCode(fmt.Errorf("boom")))
}
