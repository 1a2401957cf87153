// Package retry provides exponential-backoff retry for the proxy's
// idempotent upstream calls (model listing, health probes). Chat
// completions are never retried here: replaying a generation request
// duplicates upstream cost and is left to the client.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/opencc/proxy/internal/apierrors"
)

// Config controls backoff behavior.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means Retryable.
	ShouldRetry func(error) bool
}

// DefaultConfig suits short idempotent GETs against an upstream API.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   2,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Do runs fn until it succeeds, the retry budget is exhausted, or ctx is
// cancelled. The last error is returned unwrapped so callers keep its
// taxonomy kind.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !shouldRetry(lastErr) {
			return lastErr
		}

		timer := time.NewTimer(delayFor(attempt+1, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}

func delayFor(attempt int, cfg Config) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if max := float64(cfg.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// Retryable reports whether err is a transient upstream failure. Request
// shape and auth failures are terminal: repeating them cannot change the
// answer.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if e, ok := apierrors.As(err); ok {
		switch e.Kind {
		case apierrors.KindInvalidRequest, apierrors.KindAuthentication, apierrors.KindNotSupported:
			return false
		}
	}
	return true
}
