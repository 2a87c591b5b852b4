package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/model"
)

type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestRetrier(timeouts config.TimeoutConfig) (*Retrier, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRetrier(config.Default().Retry, timeouts, zap.NewNop()).WithClock(clock.now, clock.sleep)
	r.rand = func() float64 { return 0.5 }
	return r, clock
}

func TestDoRetriesTransientFailures(t *testing.T) {
	r, clock := newTestRetrier(config.TimeoutConfig{})
	calls := 0

	got, err := Do(context.Background(), r, FamilyText, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", model.NewError(model.KindTransient, "flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, clock.sleeps)
}

func TestDoFailsFastOnPermanentKinds(t *testing.T) {
	r, clock := newTestRetrier(config.TimeoutConfig{})
	calls := 0

	_, err := Do(context.Background(), r, FamilyImage, func(ctx context.Context) (*ImageResult, error) {
		calls++
		return nil, model.NewError(model.KindUnauthorized, "bad key")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
	assert.True(t, model.IsKind(err, model.KindUnauthorized))
	assert.False(t, model.IsRetryable(err))
}

func TestDoHonorsRetryAfter(t *testing.T) {
	r, clock := newTestRetrier(config.TimeoutConfig{})
	calls := 0

	_, err := Do(context.Background(), r, FamilyImage, func(ctx context.Context) (int, error) {
		calls++
		switch calls {
		case 1:
			e := model.NewError(model.KindRateLimited, "slow down")
			e.RetryAfter = 2 * time.Second
			return 0, e
		case 2:
			e := model.NewError(model.KindRateLimited, "slow down more")
			e.RetryAfter = time.Minute
			return 0, e
		}
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, clock.sleeps)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	r, _ := newTestRetrier(config.TimeoutConfig{})
	calls := 0

	_, err := Do(context.Background(), r, FamilySpeech, func(ctx context.Context) (int, error) {
		calls++
		return 0, model.NewError(model.KindUnavailable, "down")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.True(t, model.IsRetryable(err))
}

func TestDoStopsWhenElapsedBudgetIsSpent(t *testing.T) {
	r, clock := newTestRetrier(config.TimeoutConfig{})
	calls := 0

	_, err := Do(context.Background(), r, FamilyText, func(ctx context.Context) (int, error) {
		calls++
		clock.t = clock.t.Add(6 * time.Second)
		return 0, model.NewError(model.KindTransient, "slow and flaky")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, clock.sleeps, 2)
}

func TestDoReportsCancellation(t *testing.T) {
	r, _ := newTestRetrier(config.TimeoutConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, r, FamilyVideo, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, model.IsKind(err, model.KindCanceled))
	assert.False(t, model.IsRetryable(err))
}

func TestDoClassifiesAttemptTimeout(t *testing.T) {
	r, _ := newTestRetrier(config.TimeoutConfig{Text: 10 * time.Millisecond})
	r.policy.MaxAttempts = 1

	_, err := Do(context.Background(), r, FamilyText, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindTimeout))
	assert.True(t, model.IsRetryable(err))
}

func TestDoClassifiesPlainErrorsAsTransient(t *testing.T) {
	r, _ := newTestRetrier(config.TimeoutConfig{})
	r.policy.MaxAttempts = 1

	_, err := Do(context.Background(), r, FamilyText, func(ctx context.Context) (int, error) {
		return 0, errors.New("connection reset by peer")
	})

	assert.True(t, model.IsKind(err, model.KindTransient))
}
