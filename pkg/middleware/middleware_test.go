package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oar-team/batsim-go/pkg/logging"
	"github.com/oar-team/batsim-go/pkg/metrics"
	"github.com/oar-team/batsim-go/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoRoundTrip(resp []byte, err error) RoundTripFunc {
	return func(ctx context.Context, req []byte) ([]byte, error) {
		return resp, err
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next RoundTripFunc) RoundTripFunc {
			return func(ctx context.Context, req []byte) ([]byte, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(mw("outer"), mw("inner"))
	rt := chained(echoRoundTrip([]byte("ok"), nil))

	resp, err := rt(context.Background(), []byte("req"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestWithTimeout(t *testing.T) {
	t.Run("adds deadline when none present", func(t *testing.T) {
		var sawDeadline bool
		rt := WithTimeout(time.Second)(func(ctx context.Context, req []byte) ([]byte, error) {
			_, sawDeadline = ctx.Deadline()
			return nil, nil
		})
		_, err := rt(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, sawDeadline)
	})

	t.Run("preserves existing deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		original, _ := ctx.Deadline()

		var seen time.Time
		rt := WithTimeout(time.Second)(func(ctx context.Context, req []byte) ([]byte, error) {
			seen, _ = ctx.Deadline()
			return nil, nil
		})
		_, err := rt(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, original, seen)
	})

	t.Run("zero timeout does nothing", func(t *testing.T) {
		var hasDeadline bool
		rt := WithTimeout(0)(func(ctx context.Context, req []byte) ([]byte, error) {
			_, hasDeadline = ctx.Deadline()
			return nil, nil
		})
		_, err := rt(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, hasDeadline)
	})
}

func TestWithLogging(t *testing.T) {
	logger := logging.NewNop()

	t.Run("successful round trip", func(t *testing.T) {
		rt := WithLogging(logger)(echoRoundTrip([]byte("reply"), nil))
		resp, err := rt(context.Background(), []byte("req"))
		require.NoError(t, err)
		assert.Equal(t, []byte("reply"), resp)
	})

	t.Run("failed round trip", func(t *testing.T) {
		wantErr := errors.New("socket closed")
		rt := WithLogging(logger)(echoRoundTrip(nil, wantErr))
		resp, err := rt(context.Background(), []byte("req"))
		assert.Nil(t, resp)
		assert.Equal(t, wantErr, err)
	})
}

func TestWithMetrics(t *testing.T) {
	t.Run("successful round trip", func(t *testing.T) {
		collector := metrics.NewInMemoryCollector()
		rt := WithMetrics(collector)(echoRoundTrip([]byte("reply"), nil))

		_, err := rt(context.Background(), []byte("req"))
		require.NoError(t, err)

		stats := collector.GetStats()
		assert.Equal(t, int64(1), stats.EDCRoundTrips)
		assert.Equal(t, int64(0), stats.EDCFailures)
	})

	t.Run("failed round trip", func(t *testing.T) {
		collector := metrics.NewInMemoryCollector()
		rt := WithMetrics(collector)(echoRoundTrip(nil, errors.New("boom")))

		_, err := rt(context.Background(), []byte("req"))
		assert.Error(t, err)

		stats := collector.GetStats()
		assert.Equal(t, int64(0), stats.EDCRoundTrips)
		assert.Equal(t, int64(1), stats.EDCFailures)
	})
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0
		rt := WithRetry(retry.NewConstantBackoff(time.Millisecond, 3))(func(ctx context.Context, req []byte) ([]byte, error) {
			attempts++
			return []byte("ok"), nil
		})
		resp, err := rt(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), resp)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries until success", func(t *testing.T) {
		attempts := 0
		rt := WithRetry(retry.NewConstantBackoff(time.Millisecond, 5))(func(ctx context.Context, req []byte) ([]byte, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return []byte("ok"), nil
		})
		resp, err := rt(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), resp)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		rt := WithRetry(retry.NewConstantBackoff(time.Millisecond, 2))(func(ctx context.Context, req []byte) ([]byte, error) {
			attempts++
			return nil, errors.New("transient")
		})
		_, err := rt(context.Background(), nil)
		assert.Error(t, err)
		assert.Equal(t, 2, attempts)
	})
}

func TestWithCircuitBreaker(t *testing.T) {
	t.Run("allows calls under threshold", func(t *testing.T) {
		rt := WithCircuitBreaker(3, time.Second)(echoRoundTrip([]byte("ok"), nil))
		resp, err := rt(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), resp)
	})

	t.Run("opens after threshold failures", func(t *testing.T) {
		failing := func(ctx context.Context, req []byte) ([]byte, error) { return nil, errors.New("down") }
		rt := WithCircuitBreaker(2, time.Second)(failing)

		_, err1 := rt(context.Background(), nil)
		_, err2 := rt(context.Background(), nil)
		_, err3 := rt(context.Background(), nil)

		assert.Error(t, err1)
		assert.Error(t, err2)
		assert.Contains(t, err3.Error(), "circuit breaker")
	})
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("resets failure count on success", func(t *testing.T) {
		cb := &circuitBreaker{threshold: 2, timeout: time.Second}
		cb.RecordFailure()
		cb.RecordSuccess()
		assert.Equal(t, 0, cb.failures)
		assert.True(t, cb.Allow())
	})

	t.Run("blocks at threshold", func(t *testing.T) {
		cb := &circuitBreaker{threshold: 2, timeout: time.Second}
		cb.RecordFailure()
		cb.RecordFailure()
		assert.False(t, cb.Allow())
	})
}

func TestMiddlewareInterface(t *testing.T) {
	var _ Middleware = WithTimeout(time.Second)
	var _ Middleware = WithLogging(logging.NewNop())
	var _ Middleware = WithMetrics(metrics.NewInMemoryCollector())
	var _ Middleware = WithRetry(retry.NewExponentialBackoff())
	var _ Middleware = WithCircuitBreaker(5, time.Second)
}
