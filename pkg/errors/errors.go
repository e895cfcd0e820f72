package errors

import (
	"fmt"
	"time"
)

/*
MeshError represents a caller-facing error produced by the mesh core.
The Code space is private to this project; transports map codes onto
their own status vocabulary.
*/
type MeshError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for MeshError.
*/
func (e *MeshError) Error() string {
	return fmt.Sprintf("mesh error %d: %s", e.Code, e.Message)
}

// Convenience errors. Validation and lock-timeout are the only two the
// gateway returns synchronously; corruption is archive-level and surfaced
// to an operator rather than a proposer.
var (
	ErrValidation      = &MeshError{Code: -40001, Message: "Proposal failed validation"}
	ErrConflict        = &MeshError{Code: -40002, Message: "Conflicting mutation"}
	ErrLockTimeout     = &MeshError{Code: -40003, Message: "Timed out waiting for concept lock"}
	ErrConceptNotFound = &MeshError{Code: -40004, Message: "Concept not found"}
	ErrCorruption      = &MeshError{Code: -40010, Message: "Archive frame failed integrity check"}
	ErrInternal        = &MeshError{Code: -40099, Message: "Internal error"}
)

// WithMessagef creates a *copy* of a MeshError with a formatted message.
// It does not modify the original error variable.
func (e *MeshError) WithMessagef(format string, args ...any) *MeshError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithSeq creates a copy carrying the offending archive sequence number in
// Data. Used by CorruptionError reporting so the operator control knows
// exactly which frame to quarantine.
func (e *MeshError) WithSeq(seq uint64) *MeshError {
	newErr := *e
	newErr.Message = fmt.Sprintf("%s (seq %d)", e.Message, seq)
	newErr.Data = seq
	return &newErr
}

// Retryable reports whether a caller is expected to retry with backoff.
// Only lock timeouts qualify.
func Retryable(err error) bool {
	me, ok := err.(*MeshError)
	return ok && me.Code == ErrLockTimeout.Code
}

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
	}
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
func RetryWithBackoff(config *RetryConfig, fn func() error) error {
	var err error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("after %d attempts, last error: %w", config.MaxAttempts, err)
}
