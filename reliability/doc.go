// Package reliability provides the fault-isolation primitives used by the
// delivery pipeline.
//
// Two independent patterns are implemented:
//   - Circuit Breaker: fails fast against a resource that keeps failing and
//     probes for recovery after a reset timeout, without flooding it
//   - Retry Executor: bounded retries with capped exponential backoff for
//     absorbing transient failures of a single remote call
//
// Both are stateless-call wrappers invoked synchronously on the caller's
// goroutine and safe for concurrent use. They compose but do not depend on
// each other: publishers typically use the retry executor alone, while
// downstream dispatch can wrap a call in both.
//
// Example:
//
//	cb := reliability.NewCircuitBreaker(
//	    reliability.WithFailureThreshold(3),
//	    reliability.WithResetTimeout(time.Second),
//	)
//	status := reliability.ExecuteWithFallback(ctx, cb,
//	    func() (string, error) { return inventory.Check(ctx, sku) },
//	    func() string { return "UNKNOWN" },
//	)
package reliability
