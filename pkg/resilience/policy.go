package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/NikhilSetiya/servermon/pkg/errors"
)

// Operation is a unit of work guarded by a policy.
type Operation func(ctx context.Context) error

// Policy wraps an operation with a fault-tolerance behaviour.
type Policy interface {
	Execute(ctx context.Context, op Operation) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, op Operation) error

func (f PolicyFunc) Execute(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

// Chain composes policies; the first policy is the outermost.
// Nil entries are skipped.
func Chain(policies ...Policy) Policy {
	return PolicyFunc(func(ctx context.Context, op Operation) error {
		wrapped := op
		for i := len(policies) - 1; i >= 0; i-- {
			p := policies[i]
			if p == nil {
				continue
			}
			inner := wrapped
			wrapped = func(ctx context.Context) error {
				return p.Execute(ctx, inner)
			}
		}
		return wrapped(ctx)
	})
}

// Do runs fn under p and returns its result. A value produced by an attempt
// that the policy has already abandoned is discarded.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var (
		mu     sync.Mutex
		result T
	)
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		result = v
		mu.Unlock()
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// ReasonOf classifies a failure into the taxonomy of the resilience
// policies: timeout, transient, circuit_open, bulkhead_rejected, fatal or
// canceled. It returns the empty type for a nil error.
func ReasonOf(err error) errors.ErrorType {
	if err == nil {
		return ""
	}
	if appErr, ok := errors.As(err); ok {
		switch appErr.Type {
		case errors.ErrorTypeTimeout, errors.ErrorTypeTransient, errors.ErrorTypeCircuitOpen,
			errors.ErrorTypeBulkheadRejected, errors.ErrorTypeFatal, errors.ErrorTypeCanceled:
			return appErr.Type
		case errors.ErrorTypeValidation, errors.ErrorTypeNotFound, errors.ErrorTypeConflict:
			return errors.ErrorTypeFatal
		default:
			return errors.ErrorTypeTransient
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrorTypeTimeout
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.ErrorTypeCanceled
	}
	return errors.ErrorTypeTransient
}

// PolicyConfig describes a composition of timeout, retry, circuit breaker
// and optional bulkhead for one class of operation.
type PolicyConfig struct {
	Name     string
	Timeout  time.Duration
	Retry    RetryConfig
	Breaker  CircuitBreakerConfig
	Bulkhead *BulkheadConfig
}

// DefaultPolicyConfig mirrors the combined policy used for metric
// collection: two retries, a five second timeout and a breaker that opens
// after five consecutive failures for thirty seconds.
func DefaultPolicyConfig(name string) PolicyConfig {
	return PolicyConfig{
		Name:    name,
		Timeout: 5 * time.Second,
		Retry:   DefaultRetryConfig(),
		Breaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
	}
}

// Composite applies Bulkhead(CircuitBreaker(Retry(Timeout(op)))).
// Build one per operation class and reuse it so breaker state persists.
type Composite struct {
	name     string
	timeout  *Timeout
	retrier  *Retrier
	breaker  *CircuitBreaker
	bulkhead *Bulkhead
	chain    Policy
}

// NewComposite builds a composite policy from config.
func NewComposite(config PolicyConfig) *Composite {
	if config.Retry.Name == "" {
		config.Retry.Name = config.Name
	}
	if config.Breaker.Name == "" {
		config.Breaker.Name = config.Name
	}

	c := &Composite{
		name:    config.Name,
		timeout: NewTimeout(config.Name, config.Timeout),
		retrier: NewRetrier(config.Retry),
		breaker: NewCircuitBreaker(config.Breaker),
	}
	if config.Bulkhead != nil {
		bh := *config.Bulkhead
		if bh.Name == "" {
			bh.Name = config.Name
		}
		c.bulkhead = NewBulkhead(bh)
	}

	var outer Policy
	if c.bulkhead != nil {
		outer = c.bulkhead
	}
	c.chain = Chain(outer, c.breaker, c.retrier, c.timeout)
	return c
}

// Execute runs op under the full composition.
func (c *Composite) Execute(ctx context.Context, op Operation) error {
	return c.chain.Execute(ctx, op)
}

func (c *Composite) Name() string { return c.name }

// Breaker exposes the composite's circuit breaker.
func (c *Composite) Breaker() *CircuitBreaker { return c.breaker }

// Bulkhead exposes the composite's bulkhead, nil when none is configured.
func (c *Composite) Bulkhead() *Bulkhead { return c.bulkhead }
