package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("Status.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultConstructors(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name   string
		result Result
		status Status
		err    error
	}{
		{"healthy", Healthy("circuit closed"), StatusHealthy, nil},
		{"degraded", Degraded("probing"), StatusDegraded, nil},
		{"unhealthy", Unhealthy("circuit open", down), StatusUnhealthy, down},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.result.Status != tt.status {
				t.Errorf("Status = %v, want %v", tt.result.Status, tt.status)
			}
			if tt.result.Error != tt.err {
				t.Errorf("Error = %v, want %v", tt.result.Error, tt.err)
			}
			if tt.result.Timestamp.IsZero() {
				t.Error("Timestamp should not be zero")
			}
		})
	}
}

func TestResult_With(t *testing.T) {
	r := Healthy("ok").
		WithDetails(map[string]any{"breaker_state": "closed"}).
		WithDuration(100 * time.Millisecond)

	if r.Details["breaker_state"] != "closed" {
		t.Errorf("Details[breaker_state] = %v, want closed", r.Details["breaker_state"])
	}
	if r.Duration != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", r.Duration)
	}
}

func TestCheckerFunc(t *testing.T) {
	checker := NewCheckerFunc("vector-store", func(ctx context.Context) Result {
		select {
		case <-ctx.Done():
			return Unhealthy("cancelled", ctx.Err())
		default:
			return Healthy("from func")
		}
	})

	if checker.Name() != "vector-store" {
		t.Errorf("Name() = %v, want vector-store", checker.Name())
	}
	if r := checker.Check(context.Background()); r.Status != StatusHealthy || r.Message != "from func" {
		t.Errorf("Check() = %v %q, want healthy", r.Status, r.Message)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r := checker.Check(ctx); r.Status != StatusUnhealthy {
		t.Errorf("Check() after cancel = %v, want unhealthy", r.Status)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestPingChecker(t *testing.T) {
	ok := NewPingChecker("cache", fakePinger{})
	if ok.Name() != "cache" {
		t.Errorf("Name() = %v, want cache", ok.Name())
	}
	if r := ok.Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Check() = %v, want healthy", r.Status)
	}

	down := errors.New("dial tcp: connection refused")
	r := NewPingChecker("cache", fakePinger{err: down}).Check(context.Background())
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, down) {
		t.Errorf("Check() = %v %v, want unhealthy with ping error", r.Status, r.Error)
	}
}
