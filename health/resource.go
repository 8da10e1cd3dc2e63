package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/callgate/resilience"
)

// ResourceChecker reports the state of one resilience resource. It never
// calls the dependency itself; it reads the breaker, buckets and gate the
// registry holds for it.
type ResourceChecker struct {
	reg  *resilience.Registry
	name string
}

// NewResourceChecker creates a checker for the named resource in reg.
func NewResourceChecker(reg *resilience.Registry, name string) *ResourceChecker {
	return &ResourceChecker{reg: reg, name: name}
}

// Name returns the resource name.
func (c *ResourceChecker) Name() string { return c.name }

// Check maps the breaker state to a status: closed is healthy, half-open is
// degraded and open is unhealthy.
func (c *ResourceChecker) Check(ctx context.Context) Result {
	res := c.reg.Resource(c.name)
	bm := res.Breaker.Metrics()
	gm := res.Gate.Metrics()
	stats := c.reg.Limiter().Stats(c.name)

	details := map[string]any{
		"breaker_state":   bm.State.String(),
		"failures":        bm.Failures,
		"rejected":        bm.Rejected,
		"in_flight":       gm.InFlight,
		"max_concurrent":  gm.MaxConcurrent,
		"peak_concurrent": gm.Peak,
		"requests":        stats.Requests,
		"waits":           stats.Waits,
		"total_wait":      stats.TotalWait.String(),
	}
	buckets := c.reg.Limiter().Buckets(c.name)
	tokens := make([]float64, len(buckets))
	for i, b := range buckets {
		tokens[i] = b.Tokens()
	}
	details["tokens"] = tokens

	var r Result
	switch bm.State {
	case resilience.StateOpen:
		since := time.Since(bm.OpenedAt).Round(time.Second)
		r = Unhealthy(fmt.Sprintf("circuit open for %s", since), ErrCircuitOpen)
	case resilience.StateHalfOpen:
		r = Degraded("circuit half-open, probing recovery")
	default:
		r = Healthy("circuit closed")
	}
	return r.WithDetails(details)
}

// RegisterResources adds a ResourceChecker to agg for every resource reg
// has a budget for or has built so far.
func RegisterResources(agg *Aggregator, reg *resilience.Registry) {
	for _, name := range reg.Configured() {
		agg.Register(name, NewResourceChecker(reg, name))
	}
	for _, name := range reg.Names() {
		agg.Register(name, NewResourceChecker(reg, name))
	}
}
