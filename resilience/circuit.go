package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the protected dependency in errors.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before probing.
	// Default: 60 seconds
	RecoveryTimeout time.Duration

	// HalfOpenMaxProbes is the number of concurrent probes allowed while
	// half-open.
	// Default: 1
	HalfOpenMaxProbes int

	// OnStateChange is called when the circuit state changes. It runs after
	// the breaker lock is released.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: DefaultIsFailure
	IsFailure func(err error) bool
}

// DefaultIsFailure counts every error except caller mistakes and
// cancellation.
func DefaultIsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindAuthentication, KindCanceled:
		return false
	default:
		return true
	}
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	successes  int64
	rejected   int64
	openedAt   time.Time
	probes     int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = DefaultIsFailure
	}

	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// transition is a state change to report once the lock is released.
type transition struct {
	from, to State
}

// ticket records the state a call was admitted under.
type ticket struct {
	generation uint64
	state      State
}

// Execute runs the operation through the circuit breaker. While open it
// fails fast with a DependencyUnavailable error without calling op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	t, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	err = op(ctx)
	cb.afterRequest(t, err)
	return err
}

// Call runs op through cb and returns its value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		out = v
		return err
	})
	return out, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	state, tr := cb.currentStateLocked()
	cb.mu.Unlock()

	cb.notify(tr)
	return state
}

// Name returns the protected dependency name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	oldState := cb.state
	cb.setStateLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()

	if oldState != StateClosed {
		cb.notify([]transition{{oldState, StateClosed}})
	}
}

func (cb *CircuitBreaker) beforeRequest() (ticket, error) {
	cb.mu.Lock()
	state, tr := cb.currentStateLocked()

	var err error
	switch state {
	case StateOpen:
		err = Unavailable(cb.config.Name)
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			err = Unavailable(cb.config.Name)
		} else {
			cb.probes++
		}
	}
	if err != nil {
		cb.rejected++
	}
	t := ticket{generation: cb.generation, state: state}
	cb.mu.Unlock()

	cb.notify(tr)
	return t, err
}

func (cb *CircuitBreaker) afterRequest(t ticket, err error) {
	cb.mu.Lock()

	// A result from a call admitted under an earlier state says nothing
	// about the current one.
	if t.generation != cb.generation {
		cb.mu.Unlock()
		return
	}

	isFailure := cb.config.IsFailure(err)
	oldState := cb.state

	switch cb.state {
	case StateClosed:
		// Errors that are not failures, such as validation, leave the
		// counters alone.
		switch {
		case isFailure:
			cb.failures++
			if cb.failures >= cb.config.FailureThreshold {
				cb.openedAt = cb.now()
				cb.setStateLocked(StateOpen)
			}
		case err == nil:
			cb.failures = 0
			cb.successes++
		}

	case StateHalfOpen:
		cb.probes--
		if isFailure {
			cb.failures++
			cb.openedAt = cb.now()
			cb.setStateLocked(StateOpen)
		} else if err == nil {
			cb.successes++
			cb.failures = 0
			cb.setStateLocked(StateClosed)
		}
	}

	newState := cb.state
	cb.mu.Unlock()

	if oldState != newState {
		cb.notify([]transition{{oldState, newState}})
	}
}

func (cb *CircuitBreaker) currentStateLocked() (State, []transition) {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
		cb.setStateLocked(StateHalfOpen)
		return cb.state, []transition{{StateOpen, StateHalfOpen}}
	}
	return cb.state, nil
}

func (cb *CircuitBreaker) setStateLocked(state State) {
	if cb.state != state {
		cb.generation++
	}
	cb.state = state
	cb.probes = 0
}

func (cb *CircuitBreaker) notify(trs []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, tr := range trs {
		cb.config.OnStateChange(tr.from, tr.to)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	state, tr := cb.currentStateLocked()
	m := CircuitBreakerMetrics{
		State:          state,
		Failures:       cb.failures,
		Successes:      cb.successes,
		Rejected:       cb.rejected,
		OpenedAt:       cb.openedAt,
		ProbesInFlight: cb.probes,
	}
	cb.mu.Unlock()

	cb.notify(tr)
	return m
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State          State
	Failures       int
	Successes      int64
	Rejected       int64
	OpenedAt       time.Time
	ProbesInFlight int
}
