// Package errors defines the pipeline error taxonomy and retry support.
//
// StructuralError marks input a validator or cleaner cannot work with
// (missing required columns, zero rows); it always propagates to the
// caller. CollaboratorError wraps failures at the fetch/store boundary and
// carries a retryable classification that drives backoff retries. Data
// quality findings are never errors; they live in models.DefectReport.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StructuralError marks a series that is structurally unusable. No
// recovery is attempted; the error propagates instead of a partial result.
type StructuralError struct {
	Symbol    string
	Timeframe string
	Reason    string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error for %s (%s): %s", e.Symbol, e.Timeframe, e.Reason)
}

// NewStructural builds a StructuralError for a (symbol, timeframe) unit.
func NewStructural(symbol, timeframe, format string, args ...any) *StructuralError {
	return &StructuralError{
		Symbol:    symbol,
		Timeframe: timeframe,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// IsStructural reports whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// CollaboratorError wraps a failure from an external collaborator (fetch,
// cache store, report sink) with retry classification.
type CollaboratorError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaborator classifies and wraps a collaborator failure. An already
// wrapped error is returned unchanged.
func NewCollaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Op: op, Err: err, Retryable: Retryable(err)}
}

// Retryable classifies an error as transient. Network trouble, timeouts
// and rate limiting are retryable; everything else is permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return isNetworkError(err) || isTimeoutError(err) || isRateLimitError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"connection aborted",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"dns",
		"temporarily unavailable",
		"service unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "quota exceeded")
}

// RetryPolicy configures the Retry helper.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     string // "exponential" or "fixed"
}

// DefaultRetryPolicy returns the fetch collaborator retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Strategy:     "exponential",
	}
}

func (p RetryPolicy) backoff() backoff.BackOff {
	var strategy backoff.BackOff
	switch p.Strategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(p.InitialDelay)
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = p.InitialDelay
		exponential.MaxInterval = p.MaxDelay
		exponential.MaxElapsedTime = 0
		strategy = exponential
	}
	return strategy
}

// Retry runs fn until it succeeds, fails permanently, or the attempt
// budget is exhausted. Waits honor context cancellation.
func Retry(ctx context.Context, logger *slog.Logger, op string, policy RetryPolicy, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	strategy := policy.backoff()
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "op", op, "attempts", attempt)
			}
			return nil
		}
		lastErr = err

		if !Retryable(err) || attempt == policy.MaxAttempts {
			break
		}

		wait := strategy.NextBackOff()
		if wait == backoff.Stop {
			break
		}

		logger.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff", wait,
			"error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("retry of %s canceled: %w", op, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after retries: %w", op, lastErr)
}
