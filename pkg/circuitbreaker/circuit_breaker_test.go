package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New("test", maxFailures, timeout, logger)
}

func TestExecuteSuccess(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	fail := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), fail)
		require.Error(t, err)
		assert.False(t, IsOpen(err))
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// Rejected without invoking the function.
	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.True(t, IsOpen(err))
	assert.False(t, called)
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}))

	time.Sleep(30 * time.Millisecond)

	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("still broken")
	}))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}

func TestIsOpen(t *testing.T) {
	assert.True(t, IsOpen(&CircuitBreakerError{Name: "x", State: StateOpen}))
	assert.False(t, IsOpen(errors.New("other")))
	assert.False(t, IsOpen(nil))
}
