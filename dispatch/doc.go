// Package dispatch fans a slice of independent work items out against one
// rate-limited resource and degrades gracefully when calls fail.
//
// DispatchAll runs every item through a sequence of tiers. The default tiers
// are:
//
//   - fast: N workers, base timeout, shared connections
//   - degraded: N/2 workers, twice the timeout, a fresh connection per call
//   - isolated: one worker, four times the timeout, a fresh connection per call
//
// Each attempt passes the resource's rate limiter and concurrency gate from
// the resilience.Registry, bounded by the tier timeout. The resource's
// circuit breaker is left out: items are independent, so one item's
// failures never turn its siblings into placeholders.
// Items that fail in one tier move to the next; items whose failure is not
// retryable skip the remaining tiers. Whatever is still unresolved at the end
// becomes a placeholder tagged with its cause, so the caller always gets
// exactly one Result per item ID and DispatchAll never fails as a whole.
//
// Progress updates are sent without blocking on Config.Progress; updates the
// receiver is not ready for are dropped and counted.
package dispatch
