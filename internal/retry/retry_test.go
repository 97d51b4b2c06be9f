package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Attempts: 5, Interval: time.Millisecond}

func TestPoll_EarlyExit(t *testing.T) {
	calls := 0
	got, ok, err := Poll(context.Background(), fast, func(context.Context) (string, bool, error) {
		calls++
		if calls < 3 {
			return "", false, nil
		}
		return "https://host/signin", true, nil
	})

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://host/signin", got)
	assert.Equal(t, 3, calls)
}

func TestPoll_Exhausted(t *testing.T) {
	calls := 0
	got, ok, err := Poll(context.Background(), fast, func(context.Context) (string, bool, error) {
		calls++
		return "", false, nil
	})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)
	assert.Equal(t, fast.Attempts, calls)
}

func TestPoll_ErrorStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, ok, err := Poll(context.Background(), fast, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestPoll_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, ok, err := Poll(ctx, Policy{Attempts: 100, Interval: 10 * time.Millisecond}, func(context.Context) (int, bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, false, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
	assert.Less(t, calls, 100)
}

func TestPoll_ZeroAttemptsCallsOnce(t *testing.T) {
	calls := 0
	_, ok, err := Poll(context.Background(), Policy{}, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}
