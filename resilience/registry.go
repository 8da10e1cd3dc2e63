package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonwraymond/callgate/observe"
)

// Budget is the resilience configuration of one external resource.
type Budget struct {
	// RatePerSecond is the sustained request rate.
	RatePerSecond float64
	// Burst is the token bucket capacity.
	Burst int
	// DailyQuota adds a second bucket capped at this many requests per day.
	// Zero means no daily cap.
	DailyQuota int

	// MaxConcurrent bounds in-flight calls.
	MaxConcurrent int
	// GateWait caps how long a call waits for a slot. Zero waits until the
	// context ends.
	GateWait time.Duration

	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenProbes   int

	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retries; a negative value takes the default.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Timeout bounds each attempt.
	Timeout time.Duration
}

// DefaultBudget is used for resources without an explicit budget.
func DefaultBudget() Budget {
	return Budget{
		RatePerSecond:    10,
		Burst:            10,
		MaxConcurrent:    10,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenProbes:   1,
		MaxRetries:       3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		Multiplier:       2.0,
		Timeout:          30 * time.Second,
	}
}

// withDefaults fills zero fields from def.
func (b Budget) withDefaults(def Budget) Budget {
	if b.RatePerSecond <= 0 {
		b.RatePerSecond = def.RatePerSecond
	}
	if b.Burst <= 0 {
		b.Burst = def.Burst
	}
	if b.MaxConcurrent <= 0 {
		b.MaxConcurrent = def.MaxConcurrent
	}
	if b.GateWait <= 0 {
		b.GateWait = def.GateWait
	}
	if b.FailureThreshold <= 0 {
		b.FailureThreshold = def.FailureThreshold
	}
	if b.RecoveryTimeout <= 0 {
		b.RecoveryTimeout = def.RecoveryTimeout
	}
	if b.HalfOpenProbes <= 0 {
		b.HalfOpenProbes = def.HalfOpenProbes
	}
	if b.MaxRetries < 0 {
		b.MaxRetries = def.MaxRetries
	}
	if b.BaseDelay <= 0 {
		b.BaseDelay = def.BaseDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = def.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = def.Multiplier
	}
	if b.Timeout <= 0 {
		b.Timeout = def.Timeout
	}
	return b
}

// Limits returns the token buckets the budget describes.
func (b Budget) Limits() []Limit {
	limits := []Limit{{Rate: b.RatePerSecond, Burst: b.Burst}}
	if b.DailyQuota > 0 {
		limits = append(limits, PerDay(b.DailyQuota, b.DailyQuota))
	}
	return limits
}

// Resource is the per-dependency set of resilience primitives.
type Resource struct {
	Name    string
	Budget  Budget
	Gate    *Gate
	Breaker *CircuitBreaker
	Retry   *Retry
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Budgets maps resource names to their budgets.
	Budgets map[string]Budget
	// Default applies to names missing from Budgets and fills zero fields
	// of the ones present.
	// Default: DefaultBudget()
	Default Budget

	Logger  observe.Logger
	Metrics observe.Metrics
}

// Registry owns exactly one rate limiter bucket set, gate and circuit
// breaker per named resource. Construct it once at startup and pass it to
// every component that calls out.
type Registry struct {
	limiter  *RateLimiter
	budgets  map[string]Budget
	fallback Budget
	logger   observe.Logger
	metrics  observe.Metrics

	mu        sync.Mutex
	resources map[string]*Resource
}

// NewRegistry creates a registry. Resources are built on first use.
func NewRegistry(cfg RegistryConfig) *Registry {
	fallback := cfg.Default.withDefaults(DefaultBudget())
	if cfg.Default == (Budget{}) {
		fallback = DefaultBudget()
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.NopMetrics()
	}

	budgets := make(map[string]Budget, len(cfg.Budgets))
	for name, b := range cfg.Budgets {
		budgets[name] = b.withDefaults(fallback)
	}

	return &Registry{
		limiter:   NewRateLimiter(),
		budgets:   budgets,
		fallback:  fallback,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		resources: make(map[string]*Resource),
	}
}

// Resource returns the primitives for name, creating them on first use.
func (r *Registry) Resource(name string) *Resource {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.resources[name]; ok {
		return res
	}

	budget, ok := r.budgets[name]
	if !ok {
		budget = r.fallback
	}

	res := &Resource{
		Name:   name,
		Budget: budget,
		Gate: NewGate(GateConfig{
			MaxConcurrent: budget.MaxConcurrent,
			MaxWait:       budget.GateWait,
		}),
		Breaker: NewCircuitBreaker(CircuitBreakerConfig{
			Name:              name,
			FailureThreshold:  budget.FailureThreshold,
			RecoveryTimeout:   budget.RecoveryTimeout,
			HalfOpenMaxProbes: budget.HalfOpenProbes,
			OnStateChange:     r.onStateChange(name),
		}),
		Retry: NewRetry(RetryConfig{
			MaxAttempts:  budget.MaxRetries + 1,
			InitialDelay: budget.BaseDelay,
			MaxDelay:     budget.MaxDelay,
			Multiplier:   budget.Multiplier,
			OnRetry:      r.onRetry(name),
		}),
	}
	r.limiter.Configure(name, budget.Limits()...)
	r.resources[name] = res

	r.logger.Debug(context.Background(), "resource registered",
		observe.F("resource", name),
		observe.F("rate_per_second", budget.RatePerSecond),
		observe.F("burst", budget.Burst),
		observe.F("max_concurrent", budget.MaxConcurrent),
	)
	return res
}

func (r *Registry) onStateChange(name string) func(from, to State) {
	return func(from, to State) {
		ctx := context.Background()
		r.metrics.RecordBreakerTransition(ctx, name, from.String(), to.String())

		fields := []observe.Field{
			observe.F("resource", name),
			observe.F("from", from.String()),
			observe.F("to", to.String()),
		}
		if to == StateOpen {
			r.logger.Warn(ctx, "circuit opened", fields...)
		} else {
			r.logger.Info(ctx, "circuit state changed", fields...)
		}
	}
}

func (r *Registry) onRetry(name string) func(attempt int, err error, delay time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		ctx := context.Background()
		r.metrics.RecordRetry(ctx, name, attempt)
		r.logger.Debug(ctx, "retrying",
			observe.F("resource", name),
			observe.F("attempt", attempt),
			observe.F("delay_ms", delay.Milliseconds()),
			observe.F("error", err),
		)
	}
}

// Limiter returns the shared rate limiter.
func (r *Registry) Limiter() *RateLimiter {
	return r.limiter
}

// Logger returns the registry logger.
func (r *Registry) Logger() observe.Logger {
	return r.logger
}

// Metrics returns the registry metrics sink.
func (r *Registry) Metrics() observe.Metrics {
	return r.metrics
}

// Names returns the names of the resources created so far, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured returns the names that have an explicit budget, sorted.
func (r *Registry) Configured() []string {
	names := make([]string, 0, len(r.budgets))
	for name := range r.budgets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Executor returns an executor running every pattern of the named resource:
// retry, rate limiter, gate, circuit breaker and timeout. opts are applied
// last and may replace any of them.
func (r *Registry) Executor(name string, opts ...ExecutorOption) *Executor {
	res := r.Resource(name)

	base := []ExecutorOption{
		WithResource(name),
		WithRetry(res.Retry),
		WithRateLimiter(r.limiter),
		WithGate(res.Gate),
		WithCircuitBreaker(res.Breaker),
		WithTimeout(res.Budget.Timeout),
		WithMetrics(r.metrics),
	}
	return NewExecutor(append(base, opts...)...)
}

type registryKey struct{}

// WithRegistry returns a context carrying r.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// FromContext returns the registry stored in ctx, or nil.
func FromContext(ctx context.Context) *Registry {
	r, _ := ctx.Value(registryKey{}).(*Registry)
	return r
}
