package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBreakerLifecycle(t *testing.T) {
	s := DefaultSettings()
	s.FailureThreshold = 3
	s.SuccessThreshold = 2
	s.MaxRequests = 5
	s.Timeout = 50 * time.Millisecond
	cb := New("test", s, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(ctx, func() error { return errors.New("boom") }))
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrOpen)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	s := DefaultSettings()
	s.FailureThreshold = 1
	s.Timeout = 20 * time.Millisecond
	cb := New("reopen", s, zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("boom") })
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerMaxRequestsInHalfOpen(t *testing.T) {
	s := DefaultSettings()
	s.MaxRequests = 2
	s.SuccessThreshold = 5
	cb := New("trial", s, zaptest.NewLogger(t))

	cb.mu.Lock()
	cb.setState(StateHalfOpen, time.Now())
	cb.mu.Unlock()

	ctx := context.Background()
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrTooManyRequests)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	s := DefaultSettings()
	s.FailureThreshold = 1
	cb := New("cancel", s, zaptest.NewLogger(t))

	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestBreakerCountsAndCallback(t *testing.T) {
	s := DefaultSettings()
	s.FailureThreshold = 2

	var from, to State
	s.OnStateChange = func(_ string, f, tt State) { from, to = f, tt }

	cb := New("counts", s, zaptest.NewLogger(t))
	ctx := context.Background()
	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("e1") })

	c := cb.Counts()
	assert.Equal(t, uint32(2), c.Requests)
	assert.Equal(t, uint32(1), c.TotalSuccesses)
	assert.Equal(t, uint32(1), c.TotalFailures)

	_ = cb.Execute(ctx, func() error { return errors.New("e2") })
	assert.Equal(t, StateClosed, from)
	assert.Equal(t, StateOpen, to)
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("CB_HTTP_FAILURE_THRESHOLD", "9")
	t.Setenv("CB_HTTP_TIMEOUT", "2s")
	t.Setenv("CB_HTTP_MAX_REQUESTS", "not-a-number")

	s := HTTPSettings()
	assert.Equal(t, uint32(9), s.FailureThreshold)
	assert.Equal(t, 2*time.Second, s.Timeout)
	assert.Equal(t, uint32(5), s.MaxRequests)
}
