// Package resilience provides the fault-tolerance policies used around every
// unreliable step of telemetry collection: timeout, retry with exponential
// backoff, circuit breaker and bulkhead.
//
// # Timeout
//
// A timeout cancels the operation's context and stops waiting once the
// duration passes. Panics inside the operation become fatal errors.
//
//	t := resilience.NewTimeout("cpu", 5*time.Second)
//	err := t.Execute(ctx, readCPU)
//
// # Retry with Exponential Backoff
//
// Retry k (1-based) waits BaseDelay * 2^k. Only timeout and transient
// failures are retried by default.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return probe(ctx)
//	})
//
// # Circuit Breaker
//
// The breaker opens after FailureThreshold consecutive failures, rejects
// calls for Cooldown, then lets exactly one trial through. A successful trial
// closes the circuit; a failed one reopens it with a fresh cooldown.
// OnStateChange runs under the breaker's lock and must not call back into it.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "exporter",
//		FailureThreshold: 5,
//		Cooldown:         30 * time.Second,
//	})
//
// # Bulkhead
//
// A bulkhead caps in-flight calls and rejects callers beyond
// MaxConcurrent+MaxQueued immediately.
//
// # Composition
//
// NewComposite nests the policies as Bulkhead(CircuitBreaker(Retry(Timeout(op)))),
// so the breaker records one outcome per exhausted retry sequence. Build one
// Composite per operation class and keep it for the life of the process.
//
//	policy := resilience.NewComposite(resilience.DefaultPolicyConfig("memory"))
//	used, err := resilience.Do(ctx, policy, readMemory)
//
// Every failure carries a reason readable with ReasonOf: timeout, transient,
// circuit_open, bulkhead_rejected, fatal or canceled.
package resilience
