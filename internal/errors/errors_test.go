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

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeCorruptIndex, CategoryIndex},
		{ErrCodeDependencyUnavailable, CategoryDependency},
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := DependencyUnavailable("qdrant", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "qdrant", err.Details["service"])
	assert.True(t, err.Retryable)
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeQueryEmpty, "query must not be empty", nil)
	b := New(ErrCodeQueryEmpty, "different message", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(ErrCodeInternal, "x", nil)))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsDependency(t *testing.T) {
	err := fmt.Errorf("outer: %w", DependencyTimeout("embedder", nil))
	assert.True(t, IsDependency(err))
	assert.False(t, IsDependency(fmt.Errorf("plain")))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(Validation("bad input")))
	assert.False(t, IsValidation(Configuration("bad config")))
}

func TestCorruptIndex_IsWarningSeverity(t *testing.T) {
	err := CorruptIndex("finance", fmt.Errorf("truncated file"))
	assert.Equal(t, SeverityWarning, err.Severity)
	assert.Equal(t, "finance", err.Details["collection"])
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Retry(context.Background(), cfg, "test", func() error {
		calls++
		if calls < 2 {
			return DependencyUnavailable("embedder", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_DoesNotRetryNonRetryable(t *testing.T) {
	cfg := DefaultRetryConfig()

	calls := 0
	err := Retry(context.Background(), cfg, "test", func() error {
		calls++
		return Validation("bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := Retry(context.Background(), cfg, "test", func() error {
		calls++
		return DependencyTimeout("qdrant", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, ErrCodeDependencyTimeout, GetCode(err))
}
