package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuralError(t *testing.T) {
	err := NewStructural("AAPL", "daily", "missing required columns: %v", []string{"volume"})

	assert.Contains(t, err.Error(), "AAPL")
	assert.Contains(t, err.Error(), "daily")
	assert.Contains(t, err.Error(), "volume")
	assert.True(t, IsStructural(err))
	assert.True(t, IsStructural(fmt.Errorf("validate: %w", err)))
	assert.False(t, IsStructural(errors.New("plain")))
	assert.False(t, IsStructural(nil))
}

func TestCollaboratorError(t *testing.T) {
	t.Run("wraps and classifies", func(t *testing.T) {
		err := NewCollaborator("fetch", errors.New("connection refused"))
		var ce *CollaboratorError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "fetch", ce.Op)
		assert.True(t, ce.Retryable)
	})

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, NewCollaborator("fetch", nil))
	})

	t.Run("already wrapped is unchanged", func(t *testing.T) {
		inner := NewCollaborator("fetch", errors.New("boom"))
		assert.Equal(t, inner, NewCollaborator("save", inner))
	})

	t.Run("unwrap", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewCollaborator("fetch", cause)
		assert.ErrorIs(t, err, cause)
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout", errors.New("request timeout exceeded"), true},
		{"rate limited", errors.New("429 too many requests"), true},
		{"quota", errors.New("quota exceeded for key"), true},
		{"service unavailable", errors.New("503 service unavailable"), true},
		{"plain failure", errors.New("unknown symbol"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}

	t.Run("collaborator classification wins", func(t *testing.T) {
		err := &CollaboratorError{Op: "fetch", Err: errors.New("odd"), Retryable: true}
		assert.True(t, Retryable(err))
		assert.True(t, Retryable(fmt.Errorf("outer: %w", err)))
	})
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Strategy:     "fixed",
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, nil, "op", fastPolicy(3), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("recovers after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, nil, "op", fastPolicy(3), func() error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent failure stops immediately", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, nil, "op", fastPolicy(3), func() error {
			calls++
			return errors.New("unknown symbol")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("budget exhaustion", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, nil, "op", fastPolicy(3), func() error {
			calls++
			return errors.New("timeout")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "after retries")
	})

	t.Run("cancellation during wait", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		policy := fastPolicy(3)
		policy.InitialDelay = time.Second

		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := Retry(cctx, nil, "op", policy, func() error {
			calls++
			return errors.New("timeout")
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts defaults to one", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, nil, "op", RetryPolicy{}, func() error {
			calls++
			return errors.New("timeout")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, "exponential", p.Strategy)
}
