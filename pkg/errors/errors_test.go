package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithMessagefDoesNotMutateSentinel(t *testing.T) {
	err := ErrValidation.WithMessagef("concept text empty")
	assert.Equal(t, ErrValidation.Code, err.Code)
	assert.Equal(t, "concept text empty", err.Message)
	assert.Equal(t, "Proposal failed validation", ErrValidation.Message)
}

func TestWithSeqCarriesSequence(t *testing.T) {
	err := ErrCorruption.WithSeq(42)
	assert.Equal(t, uint64(42), err.Data)
	assert.Contains(t, err.Message, "seq 42")
	assert.Nil(t, ErrCorruption.Data)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrLockTimeout))
	assert.False(t, Retryable(ErrValidation))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	calls := 0
	err := RetryWithBackoff(cfg, func() error {
		calls++
		if calls < 3 {
			return ErrLockTimeout
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryWithBackoff(cfg, func() error {
		calls++
		return ErrLockTimeout
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
