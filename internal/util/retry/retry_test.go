package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithExponentialBackoff_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithExponentialBackoff_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithInitialDelay(time.Millisecond), WithMaxRetries(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithExponentialBackoff_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("always failing")
	calls := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		calls++
		return sentinel
	}, WithInitialDelay(time.Millisecond), WithMaxRetries(2))

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestWithExponentialBackoff_FatalStopsRetrying(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("bad input")
	calls := 0
	err := WithExponentialBackoff(context.Background(), func() error {
		calls++
		return Fatal(sentinel)
	}, WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestWithExponentialBackoff_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithExponentialBackoff(ctx, func() error {
		return errors.New("transient")
	}, WithInitialDelay(time.Minute))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.True(t, IsFatal(Fatal(errors.New("plain"))))
	assert.Nil(t, Fatal(nil))
}
