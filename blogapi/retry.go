package blogapi

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls how failed requests are retried. Only network
// errors, 5xx and 429 responses are retried; every endpoint is free of
// side effects so retrying a POST is safe.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first; <= 1 disables retries
	InitialWait time.Duration // wait before the second attempt
	MaxWait     time.Duration // upper bound on a single wait
	Multiplier  float64       // backoff multiplier
	Jitter      float64       // jitter factor (0-1)
}

// DefaultRetryConfig returns the retry policy used by NewClient.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// retryableError marks an error as worth another attempt.
type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

// unwrapRetryable strips the retry marker so callers only see the
// classified error.
func unwrapRetryable(err error) error {
	var r retryableError
	if errors.As(err, &r) {
		return r.err
	}
	return err
}

func (cfg RetryConfig) wait(attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 1
	}
	wait := float64(cfg.InitialWait) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// withRetry calls fn until it succeeds, returns a non-retryable error,
// the attempts run out or ctx is done.
func withRetry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.wait(attempt)):
		}
	}
	return zero, unwrapRetryable(lastErr)
}
