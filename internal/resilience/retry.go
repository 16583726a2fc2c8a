package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// Attempts is the total number of tries, including the first.
	// Default: 3.
	Attempts int

	// InitialBackoff is the delay after the first failure. Default: 100ms.
	InitialBackoff time.Duration

	// Multiplier scales the backoff after each failed attempt.
	// Default: 4 (100ms → 400ms → 1.6s).
	Multiplier float64
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 4
	}
	return cfg
}

// Retry runs fn up to cfg.Attempts times with exponential backoff
// between failures. It returns nil on the first success, the last error
// once the attempt budget is exhausted, or ctx.Err() if the context is
// cancelled while waiting.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	backoff := cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		slog.Warn("retrying after failure",
			"name", cfg.Name,
			"attempt", attempt,
			"backoff", backoff,
			"err", lastErr)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", cfg.Name, cfg.Attempts, lastErr)
}
