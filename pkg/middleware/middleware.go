// Package middleware provides chain-of-responsibility wrappers around an
// EDC round trip: a request buffer goes out over the socket, a response
// buffer comes back. Middlewares decorate that single exchange with
// logging, metrics, timeouts, and retry.
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/oar-team/batsim-go/pkg/logging"
	"github.com/oar-team/batsim-go/pkg/metrics"
	"github.com/oar-team/batsim-go/pkg/retry"
)

// RoundTripFunc performs one EDC request/response exchange: it sends req and
// returns the EDC's reply, or an error if the exchange failed.
type RoundTripFunc func(ctx context.Context, req []byte) ([]byte, error)

// Middleware wraps a RoundTripFunc with additional behavior.
type Middleware func(RoundTripFunc) RoundTripFunc

// Chain composes middlewares into a single one, applied outermost-first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next RoundTripFunc) RoundTripFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// WithTimeout bounds a single round trip, unless ctx already carries a
// tighter deadline.
func WithTimeout(timeout time.Duration) Middleware {
	return func(next RoundTripFunc) RoundTripFunc {
		return func(ctx context.Context, req []byte) ([]byte, error) {
			if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return next(ctx, req)
		}
	}
}

// WithLogging logs each round trip at debug (on send) and info/error
// (on completion), tagged with the simulated time carried on ctx.
func WithLogging(logger logging.Logger) Middleware {
	return func(next RoundTripFunc) RoundTripFunc {
		return func(ctx context.Context, req []byte) ([]byte, error) {
			start := time.Now()
			log := logger.WithContext(ctx)
			log.Debug("sending edc request", "bytes", len(req))

			resp, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				log.Error("edc round trip failed", "error", err, "duration_ms", duration.Milliseconds())
				return nil, err
			}
			log.Info("edc round trip completed", "bytes", len(resp), "duration_ms", duration.Milliseconds())
			return resp, nil
		}
	}
}

// WithMetrics records every round trip's latency and any failure on
// collector, feeding pkg/metrics' live view of the run.
func WithMetrics(collector metrics.Collector) Middleware {
	return func(next RoundTripFunc) RoundTripFunc {
		return func(ctx context.Context, req []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				collector.RecordEDCFailure()
				return nil, err
			}
			collector.RecordEDCRoundTrip(time.Since(start))
			return resp, nil
		}
	}
}

// WithRetry resends the request per backoff whenever next returns an
// error, whatever its cause. It never retries once the EDC has replied,
// even with a non-zero application-level failure embedded in the reply.
func WithRetry(backoff retry.BackoffStrategy) Middleware {
	return func(next RoundTripFunc) RoundTripFunc {
		return func(ctx context.Context, req []byte) ([]byte, error) {
			return retry.RetryWithResult(ctx, backoff, func() ([]byte, error) {
				return next(ctx, req)
			})
		}
	}
}

// WithCircuitBreaker stops sending to an EDC that has failed threshold
// times in a row until timeout has elapsed, so a crashed socket-mode EDC
// doesn't stall every subsequent mailbox tick on its own retry budget.
func WithCircuitBreaker(threshold int, timeout time.Duration) Middleware {
	breaker := &circuitBreaker{threshold: threshold, timeout: timeout}

	return func(next RoundTripFunc) RoundTripFunc {
		return func(ctx context.Context, req []byte) ([]byte, error) {
			if !breaker.Allow() {
				return nil, fmt.Errorf("edc circuit breaker open")
			}

			resp, err := next(ctx, req)
			if err != nil {
				breaker.RecordFailure()
			} else {
				breaker.RecordSuccess()
			}
			return resp, err
		}
	}
}

type circuitBreaker struct {
	threshold int
	timeout   time.Duration
	failures  int
	lastFail  time.Time
}

func (cb *circuitBreaker) Allow() bool {
	if cb.failures < cb.threshold {
		return true
	}
	return time.Since(cb.lastFail) > cb.timeout
}

func (cb *circuitBreaker) RecordFailure() {
	cb.failures++
	cb.lastFail = time.Now()
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.failures = 0
}
