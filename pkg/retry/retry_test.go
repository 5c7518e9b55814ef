package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func TestDo_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	}, WithInitialDelay(time.Millisecond), WithJitter(0))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errFlaky)
	}, WithMaxAttempts(5))

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_PlainErrorsAreNotRetriedByDefault(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestStorageRetrier_UsesPredicate(t *testing.T) {
	calls := 0
	var retried []int
	r := StorageRetrier(func(err error) bool { return errors.Is(err, errFlaky) },
		WithInitialDelay(time.Millisecond),
		WithOnRetry(func(attempt int, err error, delay time.Duration) { retried = append(retried, attempt) }),
	)

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), func(ctx context.Context) (int, error) { return 42, nil })
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_GrowsToCeiling(t *testing.T) {
	r := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(50*time.Millisecond), WithJitter(0))

	assert.Equal(t, 10*time.Millisecond, r.backoff(1))
	assert.Equal(t, 20*time.Millisecond, r.backoff(2))
	assert.Equal(t, 40*time.Millisecond, r.backoff(3))
	assert.Equal(t, 50*time.Millisecond, r.backoff(4))
	assert.Equal(t, 50*time.Millisecond, r.backoff(30))
}

func TestMarkers(t *testing.T) {
	assert.Nil(t, Retryable(nil))
	assert.Nil(t, Permanent(nil))
	assert.True(t, IsRetryable(Retryable(errFlaky)))
	assert.False(t, IsPermanent(Retryable(errFlaky)))
	assert.True(t, IsPermanent(Permanent(errFlaky)))
	assert.ErrorIs(t, Retryable(errFlaky), errFlaky)
}
