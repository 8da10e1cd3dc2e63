package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/callgate/observe"
)

// Executor composes multiple resilience patterns around one resource.
type Executor struct {
	resource       string
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	gate           *Gate
	timeout        *Timeout
	metrics        observe.Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{metrics: observe.NopMetrics()}
	for _, opt := range opts {
		opt(e)
	}
	if e.timeout != nil && e.timeout.config.Resource == "" {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: e.timeout.config.Timeout, Resource: e.resource})
	}
	return e
}

// WithResource names the resource used for rate limiting and metrics.
func WithResource(name string) ExecutorOption {
	return func(e *Executor) {
		e.resource = name
	}
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retry logic to the executor. A nil retry disables it.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithRateLimiter adds rate limiting to the executor. Each attempt takes one
// token of the executor's resource.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithGate adds concurrency limiting to the executor.
func WithGate(g *Gate) ExecutorOption {
	return func(e *Executor) {
		e.gate = g
	}
}

// WithTimeout adds a per-attempt timeout to the executor.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout, Resource: e.resource})
	}
}

// WithTimeoutConfig adds timeout with custom config to the executor.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) {
		e.timeout = t
	}
}

// WithMetrics records rate limit waits into m.
func WithMetrics(m observe.Metrics) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Resource returns the resource name.
func (e *Executor) Resource() string {
	return e.resource
}

// Execute runs the operation through all configured resilience patterns.
//
// The execution order, outermost first, is:
// 1. Retry (if configured) - every attempt passes the layers below
// 2. Rate Limiter (if configured) - one token per attempt
// 3. Gate (if configured) - limits concurrency; a slot is held until the
//    operation returns, even after the timeout has given up on it
// 4. Circuit Breaker (if configured) - fails fast while open
// 5. Timeout (if configured) - limits each attempt
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	execute := op

	// Wrap with timeout (innermost)
	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.circuitBreaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.circuitBreaker.Execute(ctx, inner)
		}
	}

	if e.gate != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.gate.Execute(ctx, inner)
		}
	}

	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			waited, err := e.rateLimiter.Acquire(ctx, e.resource, 1)
			if err != nil {
				return err
			}
			if waited > 0 {
				e.metrics.RecordRateLimitWait(ctx, e.resource, waited)
			}
			return inner(ctx)
		}
	}

	// Wrap with retry (outermost)
	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}

// Run executes op through e and returns its value. A value produced by an
// attempt that already timed out is discarded.
func Run[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var (
		mu   sync.Mutex
		out  T
		done bool
	)
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		if !done {
			out = v
		}
		mu.Unlock()
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	done = true
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
