package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func isTestConflict(err error) bool { return errors.Is(err, errConflict) }

func TestRetryPolicy_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := DefaultRetryPolicy().Do(context.Background(), isTestConflict, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_RetriesConflicts(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	err := policy.Do(context.Background(), isTestConflict, func() error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond}
	err := policy.Do(context.Background(), isTestConflict, func() error {
		calls++
		return errConflict
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntityRetriesExhausted)
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 4, calls)
}

func TestRetryPolicy_NonRetryableReturnsImmediately(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := DefaultRetryPolicy().Do(context.Background(), isTestConflict, func() error {
		calls++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}
	err := policy.Do(ctx, isTestConflict, func() error {
		cancel()
		return errConflict
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := RetryPolicy{}.Do(context.Background(), isTestConflict, func() error {
		calls++
		return errConflict
	})
	assert.ErrorIs(t, err, ErrEntityRetriesExhausted)
	assert.Equal(t, 1, calls)
}
