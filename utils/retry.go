package utils

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// TimeoutError is raised when a single attempt exceeds its per-attempt budget.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Retryable() bool { return true }

// retryable is the marker consulted by the default retry condition. Errors
// from the gateways implement it to opt in or out explicitly.
type retryable interface {
	Retryable() bool
}

// retryAfterHint is implemented by rate-limit errors carrying an upstream
// delay hint.
type retryAfterHint interface {
	RetryAfterHint() time.Duration
}

// RetryOptions tunes ExecuteWithRetry. Zero values fall back to defaults:
// 3 retries, 500ms base delay, 30s max delay, 30s per-attempt timeout.
type RetryOptions struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Timeout           time.Duration
	UseCircuitBreaker bool
	// RetryCondition decides whether the error on a given attempt is worth
	// retrying. Defaults to the retryable marker plus network/timeout
	// message heuristics.
	RetryCondition func(err error, attempt int) bool
	// Fallback is invoked only once retries are exhausted or the condition
	// refuses to retry, and on a short-circuited open breaker.
	Fallback func() (any, error)
}

func (o *RetryOptions) withDefaults() RetryOptions {
	out := *o
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 500 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 30 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.RetryCondition == nil {
		out.RetryCondition = DefaultRetryCondition
	}
	return out
}

// DefaultRetryCondition retries errors explicitly marked retryable, and
// otherwise falls back to network/timeout message heuristics.
func DefaultRetryCondition(err error, _ int) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"timeout", "timed out", "connection refused", "connection reset", "temporarily unavailable", "no such host", "eof"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

var (
	breakersMu sync.Mutex
	breakers   = map[string]*gobreaker.CircuitBreaker{}
)

func breakerFor(name string) *gobreaker.CircuitBreaker {
	breakersMu.Lock()
	defer breakersMu.Unlock()
	if cb, ok := breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	breakers[name] = cb
	return cb
}

// ExecuteWithRetry runs op with a per-attempt timeout, exponential backoff
// with jitter, optional circuit-breaker gating and an optional fallback.
// Every external-call site (ledger, issue tracker) goes through here rather
// than rolling its own loop.
func ExecuteWithRetry[T any](ctx context.Context, name string, op func(ctx context.Context) (T, error), opts RetryOptions) (T, error) {
	var zero T
	o := opts.withDefaults()

	attemptOnce := func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		defer cancel()

		done := make(chan struct{})
		var val T
		var opErr error
		go func() {
			val, opErr = op(attemptCtx)
			close(done)
		}()

		select {
		case <-done:
			return val, opErr
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, &TimeoutError{Op: name, After: o.Timeout}
		}
	}

	run := attemptOnce
	if o.UseCircuitBreaker {
		cb := breakerFor(name)
		run = func() (T, error) {
			out, err := cb.Execute(func() (any, error) {
				return attemptOnce()
			})
			if err != nil {
				return zero, err
			}
			return out.(T), nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(lastErr, attempt-1, o.BaseDelay, o.MaxDelay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		val, err := run()
		if err == nil {
			return val, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Open breaker: stop hammering and short-circuit.
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if !o.RetryCondition(err, attempt) {
			break
		}
		log.Printf("[retry] %s attempt %d/%d failed: %v", name, attempt+1, o.MaxRetries+1, err)
	}

	if o.Fallback != nil {
		out, err := o.Fallback()
		if err != nil {
			return zero, err
		}
		if v, ok := out.(T); ok {
			return v, nil
		}
		return zero, fmt.Errorf("%s fallback returned unexpected type %T", name, out)
	}
	return zero, lastErr
}

// backoffDelay computes min(base * 2^attempt, max) plus uniform jitter of up
// to 10%. A rate-limit error with an explicit hint overrides the exponential
// delay, still capped at max.
func backoffDelay(err error, attempt int, base, max time.Duration) time.Duration {
	var hint retryAfterHint
	if errors.As(err, &hint) && hint.RetryAfterHint() > 0 {
		d := hint.RetryAfterHint()
		if d > max {
			return max
		}
		return d
	}

	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}
