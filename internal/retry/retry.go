// Package retry runs operations with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// A value of 0 or 1 means no retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential part of the delay.
	MaxBackoff time.Duration
	// Multiplier grows the delay after each retry. Values below 1 mean 2.
	Multiplier float64
	// Jitter is the upper bound of a random duration added to every wait.
	Jitter time.Duration
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// ExhaustedError is returned when all attempts failed with retryable errors.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration.Round(time.Millisecond), e.LastError)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// IsExhausted reports whether err is, or wraps, an ExhaustedError.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(err error) bool

// afterHinter is implemented by errors that carry a server-suggested delay,
// such as a platform 429 with retry_after.
type afterHinter interface {
	RetryAfter() time.Duration
}

// Do runs fn until it succeeds, returns an error the classifier rejects,
// or MaxAttempts is reached. Waits are cancelled with ctx, in which case
// the context cause is returned.
func Do(ctx context.Context, cfg Config, retryable Classifier, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || retryable == nil || !retryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		wait := Backoff(cfg, attempt)
		var hint afterHinter
		if errors.As(err, &hint) && hint.RetryAfter() > wait {
			wait = hint.RetryAfter()
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		case <-timer.C:
		}
	}

	return &ExhaustedError{
		Attempts:      cfg.MaxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// Backoff computes the wait after the given failed attempt (1-based):
// InitialBackoff doubled per attempt, capped at MaxBackoff, plus up to
// Jitter of random delay.
func Backoff(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 2
	}

	backoff := float64(cfg.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	wait := time.Duration(backoff)
	if cfg.Jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(cfg.Jitter))) //nolint:gosec // jitter doesn't need crypto rand
	}
	return wait
}
