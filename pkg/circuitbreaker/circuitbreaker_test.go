package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStore = errors.New("store down")

func fail(context.Context) error    { return errStore }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []string
	cb := New("t",
		WithFailureThreshold(2),
		WithTimeout(time.Hour),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errStore)
	assert.True(t, cb.IsClosed())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errStore)
	assert.True(t, cb.IsOpen())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
	assert.Equal(t, 2, cb.Counts().TotalFailures)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New("t", WithFailureThreshold(1), WithSuccessThreshold(1), WithTimeout(time.Minute))
	clock := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.State())

	clock = clock.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen, "still cooling down")

	clock = clock.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(ctx, fail))
	clock = clock.Add(time.Minute)
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State(), "a half-open failure reopens")

	cb.Reset()
	assert.True(t, cb.IsClosed())
	assert.Zero(t, cb.Counts().Requests)
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb := New("t", WithFailureThreshold(1), WithTimeout(time.Minute))
	clock := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clock = clock.Add(2 * time.Minute)

	var nested error
	require.NoError(t, cb.Execute(ctx, func(ctx context.Context) error {
		nested = cb.Execute(ctx, succeed)
		return nil
	}))
	assert.ErrorIs(t, nested, ErrTooManyRequests)
	assert.Equal(t, StateHalfOpen, cb.State(), "one success of two")
}

func TestProjectionBreaker_IgnoresCancellation(t *testing.T) {
	cb := ProjectionBreaker(nil)
	ctx := context.Background()
	canceled := func(context.Context) error { return context.Canceled }

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, canceled), context.Canceled)
	}
	assert.True(t, cb.IsClosed())
	assert.Equal(t, "ranking-projection", cb.Name())
}
