// Package health reports whether the dependencies callgate guards are usable.
//
// A Checker reports one component. ResourceChecker reads a resilience
// resource: an open circuit breaker is Unhealthy, a half-open one is
// Degraded, and the token bucket and gate levels are attached as details.
// PingChecker covers anything with a Ping method, such as the Redis result
// cache.
//
// # Aggregating
//
//	agg := health.NewAggregator()
//	health.RegisterResources(agg, registry)
//	agg.Register("cache", health.NewPingChecker("cache", redisCache))
//
//	rep := agg.Report(ctx)
//	if rep.Status != health.StatusHealthy {
//		// rep.Results holds each checker's Result
//	}
package health
