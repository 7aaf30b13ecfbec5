package gemlive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for opening a session transport.
// The zero value makes a single attempt.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Set to 0 to disable retries.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier is used for exponential backoff. Values below 1 are treated as 1.
	Multiplier float64

	// Jitter randomizes each delay by up to this fraction in either direction.
	// Value between 0.0 and 1.0.
	Jitter float64

	// RetryableErrors decides whether an error should trigger a retry.
	// If nil, Retryable is used.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        8 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
		RetryableErrors: Retryable,
	}
}

// Retryable reports whether err is a transport failure worth another attempt.
// Configuration errors, device errors and superseded sessions are final.
func Retryable(err error) bool {
	if errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrSuperseded) {
		return false
	}
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// WithRetry runs op until it succeeds, returns a non-retryable error, or the
// retries are exhausted. A single failed attempt returns op's error unchanged.
func WithRetry(ctx context.Context, config RetryConfig, op func() error) error {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = Retryable
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		timer := time.NewTimer(calculateDelay(attempt, config))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	if config.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// calculateDelay computes the delay before retry number attempt+1.
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	mult := config.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(config.BaseDelay) * math.Pow(mult, float64(attempt))
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter > 0 {
		delay += delay * config.Jitter * (2*rand.Float64() - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
