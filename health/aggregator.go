package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 10 * time.Second

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds one Check or one CheckAll round. Zero means 10s.
	Timeout time.Duration

	// Parallel runs the checks of a round concurrently.
	Parallel bool

	// MaxParallel caps concurrent checks when Parallel is set. Zero is
	// unlimited.
	MaxParallel int
}

type entry struct {
	name    string
	checker Checker
}

// Aggregator runs a set of named checkers and folds their results into one
// status. Checkers are kept in registration order.
type Aggregator struct {
	config AggregatorConfig

	mu      sync.RWMutex
	entries []entry
}

// NewAggregator creates an aggregator. Without a config it runs checks in
// parallel with a 10s timeout.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	cfg := AggregatorConfig{Timeout: defaultCheckTimeout, Parallel: true}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCheckTimeout
	}
	return &Aggregator{config: cfg}
}

func (a *Aggregator) indexLocked(name string) int {
	return slices.IndexFunc(a.entries, func(e entry) bool { return e.name == name })
}

// Register adds checker under name. A second registration of the same name
// swaps the checker in place.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexLocked(name); i >= 0 {
		a.entries[i].checker = checker
		return
	}
	a.entries = append(a.entries, entry{name: name, checker: checker})
}

// Unregister drops the checker registered under name, if any.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i := a.indexLocked(name); i >= 0 {
		a.entries = slices.Delete(a.entries, i, i+1)
	}
}

// CheckerNames lists registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		names = append(names, e.name)
	}
	return names
}

func (a *Aggregator) snapshot() []entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.entries)
}

// Check runs the checker registered under name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i := a.indexLocked(name)
	var checker Checker
	if i >= 0 {
		checker = a.entries[i].checker
	}
	a.mu.RUnlock()

	if checker == nil {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return runCheck(ctx, checker), nil
}

// CheckAll runs every registered checker under one shared timeout.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	entries := a.snapshot()
	results := make(map[string]Result, len(entries))
	if len(entries) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	out := make([]Result, len(entries))
	if a.config.Parallel {
		var g errgroup.Group
		if a.config.MaxParallel > 0 {
			g.SetLimit(a.config.MaxParallel)
		}
		for i, e := range entries {
			g.Go(func() error {
				out[i] = runCheck(ctx, e.checker)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, e := range entries {
			out[i] = runCheck(ctx, e.checker)
		}
	}

	for i, e := range entries {
		results[e.name] = out[i]
	}
	return results
}

// OverallStatus is the worst status in results; healthy when empty.
func (a *Aggregator) OverallStatus(results map[string]Result) Status {
	return worst(results)
}

func worst(results map[string]Result) Status {
	status := StatusHealthy
	for _, r := range results {
		status = max(status, r.Status)
	}
	return status
}

// runCheck stamps the result with timing and gives up once ctx is done,
// leaving a stuck checker to finish on its own.
func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		r := checker.Check(ctx)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		r.Duration = time.Since(start)
		done <- r
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		r := Unhealthy("check timed out", ErrCheckTimeout)
		r.Timestamp = start
		r.Duration = time.Since(start)
		return r
	}
}

// Report is one CheckAll round folded into an overall status.
type Report struct {
	Status    Status
	Results   map[string]Result
	CheckedAt time.Time
}

// Report runs every checker and returns the combined outcome.
func (a *Aggregator) Report(ctx context.Context) Report {
	checkedAt := time.Now()
	results := a.CheckAll(ctx)
	return Report{Status: worst(results), Results: results, CheckedAt: checkedAt}
}

// Checker exposes the aggregator as a single Checker named "aggregate".
func (a *Aggregator) Checker() Checker {
	return NewCheckerFunc("aggregate", func(ctx context.Context) Result {
		rep := a.Report(ctx)

		details := make(map[string]any, len(rep.Results))
		for name, r := range rep.Results {
			details[name] = map[string]any{
				"status":   r.Status.String(),
				"message":  r.Message,
				"duration": r.Duration.String(),
			}
		}

		msg := "some checks failed"
		switch rep.Status {
		case StatusHealthy:
			msg = "all checks passed"
		case StatusDegraded:
			msg = "some checks degraded"
		}
		r := Result{Status: rep.Status, Message: msg, Timestamp: rep.CheckedAt}
		return r.WithDetails(details)
	})
}
