package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// Name identifies the retried operation in logs
	Name string
	// MaxRetries is the number of additional attempts after the first
	MaxRetries int
	// BaseDelay is the backoff unit; retry k waits BaseDelay * 2^k
	BaseDelay time.Duration
	// MaxDelay caps a single wait
	MaxDelay time.Duration
	// Jitter adds up to 10% randomness to each wait
	Jitter bool
	// Retryable determines if an error is retryable
	Retryable func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns two retries waiting 2s then 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Retryable:  DefaultRetryable,
	}
}

// DefaultRetryable retries timeouts and transient failures. Circuit open,
// bulkhead rejections, fatal errors and cancellation are never retried.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ReasonOf(err) {
	case errors.ErrorTypeTimeout, errors.ErrorTypeTransient:
		return true
	default:
		return false
	}
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Retryable == nil {
		config.Retryable = DefaultRetryable
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute executes the given function with retry logic
func (r *Retrier) Execute(ctx context.Context, operation Operation) error {
	var lastErr error
	attempts := r.config.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return errors.NewCanceledError(r.config.Name).WithCause(ctx.Err())
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"operation", r.config.Name,
					"attempt", attempt,
				)
			}
			return nil
		}

		lastErr = err

		if !r.config.Retryable(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"operation", r.config.Name,
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		if attempt == attempts {
			break
		}

		delay := r.Delay(attempt)

		r.logger.Debug("Operation failed, retrying",
			"operation", r.config.Name,
			"error", err.Error(),
			"attempt", attempt,
			"delay", delay.String(),
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.NewCanceledError(r.config.Name).WithCause(stderrors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	if attempts > 1 {
		return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
	}
	return lastErr
}

// Delay returns the wait before retry k (1-based): BaseDelay * 2^k.
func (r *Retrier) Delay(retry int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(2, float64(retry))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}

	return time.Duration(delay)
}
