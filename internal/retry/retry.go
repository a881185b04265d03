// Package retry runs operations under a bounded retry policy with a
// fixed backoff sequence.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smc-trading-bot/internal/logging"
)

var (
	// ErrExhausted wraps the last error once every attempt has failed
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrStopped wraps the last error when a stop signal ends a backoff
	ErrStopped = errors.New("retry stopped")
)

type stopKey struct{}

// WithStop returns a context whose retry backoffs end as soon as stop is
// closed. Operations keep running under the parent context, so a call in
// flight is not cut short.
func WithStop(ctx context.Context, stop <-chan struct{}) context.Context {
	return context.WithValue(ctx, stopKey{}, stop)
}

func stopSignal(ctx context.Context) <-chan struct{} {
	stop, _ := ctx.Value(stopKey{}).(<-chan struct{})
	return stop
}

// Policy holds the retry configuration
type Policy struct {
	Name        string
	MaxAttempts int
	// Backoff[i] is the wait after attempt i+1. The last entry repeats
	// when there are more attempts than entries.
	Backoff []time.Duration
	// Retryable reports whether err should be retried. Nil retries
	// everything except context cancellation.
	Retryable func(err error) bool

	logger *logging.Logger
}

// NewPolicy creates a policy
func NewPolicy(name string, maxAttempts int, backoff []time.Duration, logger *logging.Logger) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Policy{
		Name:        name,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		logger:      logger.WithComponent("retry"),
	}
}

// WithRetryable returns a copy of p using the given predicate
func (p *Policy) WithRetryable(fn func(err error) bool) *Policy {
	cp := *p
	cp.Retryable = fn
	return &cp
}

// Do runs fn until it succeeds, returns a non-retryable error, attempts
// run out or ctx is done. A stop signal from WithStop also ends a backoff.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("operation succeeded after retry", "policy", p.Name, "op", op, "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if !p.isRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delay(attempt)
		p.logger.Warn("operation failed, retrying",
			"policy", p.Name, "op", op, "attempt", attempt, "max_attempts", p.MaxAttempts,
			"delay", delay, "error", err)

		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-stopSignal(ctx):
			timer.Stop()
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrStopped, op, attempt, lastErr)
		case <-timer.C:
		}
	}

	p.logger.Error("all retry attempts failed", "policy", p.Name, "op", op, "attempts", p.MaxAttempts, "error", lastErr)
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, op, p.MaxAttempts, lastErr)
}

// Do is the value-returning form of Policy.Do
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p *Policy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt-1 < len(p.Backoff) {
		return p.Backoff[attempt-1]
	}
	return p.Backoff[len(p.Backoff)-1]
}

func (p *Policy) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}
