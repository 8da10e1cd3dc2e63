package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/callgate/resilience"
)

var errUpstream = errors.New("upstream 503")

func newTestRegistry() *resilience.Registry {
	return resilience.NewRegistry(resilience.RegistryConfig{
		Budgets: map[string]resilience.Budget{
			"gemini": {
				RatePerSecond:    5,
				Burst:            3,
				MaxConcurrent:    2,
				FailureThreshold: 1,
				RecoveryTimeout:  20 * time.Millisecond,
			},
			"openai": {},
		},
	})
}

func trip(reg *resilience.Registry, name string) {
	_ = reg.Resource(name).Breaker.Execute(context.Background(), func(ctx context.Context) error {
		return errUpstream
	})
}

func TestResourceChecker_Closed(t *testing.T) {
	reg := newTestRegistry()
	c := NewResourceChecker(reg, "gemini")

	if c.Name() != "gemini" {
		t.Errorf("Name() = %v, want gemini", c.Name())
	}

	r := c.Check(context.Background())
	if r.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", r.Status)
	}
	if r.Details["breaker_state"] != "closed" {
		t.Errorf("breaker_state = %v, want closed", r.Details["breaker_state"])
	}
	if r.Details["max_concurrent"] != 2 {
		t.Errorf("max_concurrent = %v, want 2", r.Details["max_concurrent"])
	}
	tokens, ok := r.Details["tokens"].([]float64)
	if !ok || len(tokens) != 1 || tokens[0] != 3 {
		t.Errorf("tokens = %v, want [3]", r.Details["tokens"])
	}
}

func TestResourceChecker_Open(t *testing.T) {
	reg := newTestRegistry()
	trip(reg, "gemini")

	r := NewResourceChecker(reg, "gemini").Check(context.Background())
	if r.Status != StatusUnhealthy {
		t.Fatalf("Status = %v, want unhealthy", r.Status)
	}
	if !errors.Is(r.Error, ErrCircuitOpen) {
		t.Errorf("Error = %v, want ErrCircuitOpen", r.Error)
	}
	if r.Details["failures"] != 1 {
		t.Errorf("failures = %v, want 1", r.Details["failures"])
	}
}

func TestResourceChecker_HalfOpen(t *testing.T) {
	reg := newTestRegistry()
	trip(reg, "gemini")
	time.Sleep(30 * time.Millisecond)

	r := NewResourceChecker(reg, "gemini").Check(context.Background())
	if r.Status != StatusDegraded {
		t.Errorf("Status = %v, want degraded", r.Status)
	}
	if r.Details["breaker_state"] != "half-open" {
		t.Errorf("breaker_state = %v, want half-open", r.Details["breaker_state"])
	}
}

func TestRegisterResources(t *testing.T) {
	reg := newTestRegistry()
	reg.Resource("pinecone")
	trip(reg, "gemini")

	agg := NewAggregator()
	RegisterResources(agg, reg)

	names := agg.CheckerNames()
	want := []string{"gemini", "openai", "pinecone"}
	if len(names) != len(want) {
		t.Fatalf("CheckerNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("CheckerNames()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	results := agg.CheckAll(context.Background())
	if got := agg.OverallStatus(results); got != StatusUnhealthy {
		t.Errorf("OverallStatus() = %v, want unhealthy", got)
	}
	if results["openai"].Status != StatusHealthy {
		t.Errorf("openai = %v, want healthy", results["openai"].Status)
	}
}
