// Package resilience provides the admission and failure-handling primitives
// every outbound call goes through.
//
// # Patterns
//
//   - RateLimiter: per-resource token buckets. A caller that finds a bucket
//     short reserves its deficit and sleeps exactly deficit/rate, so waiters
//     are served in arrival order. A resource may carry several buckets
//     (for example a per-second rate and a daily quota).
//
//   - Gate: bounds the number of in-flight calls against a resource.
//
//   - Retry: retries retryable failures with capped exponential, linear or
//     constant backoff and multiplicative jitter.
//
//   - CircuitBreaker: opens after consecutive failures, fails fast with a
//     DependencyUnavailable error, and probes recovery while half-open.
//
//   - Timeout: bounds one attempt and reports a typed Timeout error.
//
// # Errors
//
// Failures are classified by Kind. KindOf maps any error, including context
// errors, onto the taxonomy, and IsRetryable decides whether another attempt
// may help.
//
// # Registry
//
// A Registry owns one set of primitives per resource name and builds
// Executors that compose them:
//
//	reg := resilience.NewRegistry(resilience.RegistryConfig{
//	    Budgets: map[string]resilience.Budget{
//	        "openai": {RatePerSecond: 500.0 / 60, Burst: 100, MaxConcurrent: 50},
//	    },
//	})
//
//	err := reg.Executor("openai").Execute(ctx, func(ctx context.Context) error {
//	    return callExternalService(ctx)
//	})
package resilience
