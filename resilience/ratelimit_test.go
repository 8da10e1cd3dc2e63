package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBucket(limit Limit, clock *fakeClock) *TokenBucket {
	b := NewTokenBucket(limit)
	b.now = clock.Now
	b.lastRefill = clock.Now()
	return b
}

func TestNewTokenBucket_Defaults(t *testing.T) {
	tests := []struct {
		limit     Limit
		wantRate  float64
		wantBurst int
	}{
		{Limit{}, 10, 10},
		{Limit{Rate: 0.5}, 0.5, 1},
		{Limit{Rate: 2, Burst: 7}, 2, 7},
	}
	for _, tt := range tests {
		b := NewTokenBucket(tt.limit)
		if got := b.Limit(); got.Rate != tt.wantRate || got.Burst != tt.wantBurst {
			t.Errorf("NewTokenBucket(%+v).Limit() = %+v, want rate %v burst %d", tt.limit, got, tt.wantRate, tt.wantBurst)
		}
		if got := b.Tokens(); got < float64(tt.wantBurst)-0.01 {
			t.Errorf("new bucket Tokens() = %v, want %d", got, tt.wantBurst)
		}
	}
}

func TestPerMinuteAndPerDay(t *testing.T) {
	if l := PerMinute(120, 10); l.Rate != 2 || l.Burst != 10 {
		t.Errorf("PerMinute(120, 10) = %+v", l)
	}
	if l := PerDay(86400, 5); l.Rate != 1 || l.Burst != 5 {
		t.Errorf("PerDay(86400, 5) = %+v", l)
	}
}

func TestTokenBucket_BurstNeverBlocks(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 1, Burst: 5}, clock)

	for _, n := range []int{2, 1, 2} {
		if d := b.Reserve(n); d != 0 {
			t.Errorf("Reserve(%d) wait = %v, want 0 within burst", n, d)
		}
	}
}

func TestTokenBucket_DeficitWait(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 2, Burst: 2}, clock)

	b.Reserve(2)

	// Queued reservations are served in arrival order.
	if d := b.Reserve(1); d != 500*time.Millisecond {
		t.Errorf("first deficit wait = %v, want 500ms", d)
	}
	if d := b.Reserve(1); d != time.Second {
		t.Errorf("second deficit wait = %v, want 1s", d)
	}
	if got := b.Tokens(); got != 0 {
		t.Errorf("Tokens() with outstanding reservations = %v, want 0", got)
	}

	clock.Advance(time.Second)
	if got := b.Tokens(); got != 0 {
		t.Errorf("Tokens() once reservations are due = %v, want 0", got)
	}

	clock.Advance(500 * time.Millisecond)
	if got := b.Tokens(); got != 1 {
		t.Errorf("Tokens() after refill = %v, want 1", got)
	}
}

func TestTokenBucket_PartialDeficit(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 4, Burst: 4}, clock)

	b.Reserve(3)
	// One token left, three more needed at 4/s.
	if d := b.Reserve(4); d != 750*time.Millisecond {
		t.Errorf("Reserve(4) wait = %v, want 750ms", d)
	}
}

func TestTokenBucket_NeverExceedsBurst(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 100, Burst: 3}, clock)

	clock.Advance(time.Hour)
	if got := b.Tokens(); got != 3 {
		t.Errorf("Tokens() after idle = %v, want 3", got)
	}

	b.give(10)
	if got := b.Tokens(); got != 3 {
		t.Errorf("Tokens() after give = %v, want 3", got)
	}
}

func TestTokenBucket_EstimateWaitReadOnly(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 1, Burst: 1}, clock)

	if d := b.EstimateWait(1); d != 0 {
		t.Errorf("EstimateWait(1) on full bucket = %v, want 0", d)
	}
	b.Reserve(1)
	if d := b.EstimateWait(1); d != time.Second {
		t.Errorf("EstimateWait(1) on empty bucket = %v, want 1s", d)
	}
	if d := b.EstimateWait(1); d != time.Second {
		t.Errorf("EstimateWait changed the bucket: %v", d)
	}

	b.Reserve(1)
	if d := b.EstimateWait(1); d != 2*time.Second {
		t.Errorf("EstimateWait(1) behind a reservation = %v, want 2s", d)
	}
}

func TestTokenBucket_CancelRefundsReservation(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 1, Burst: 1}, clock)

	b.Reserve(1)
	if d := b.Reserve(1); d != time.Second {
		t.Fatalf("Reserve(1) = %v, want 1s", d)
	}
	b.cancel(1)

	if d := b.EstimateWait(1); d != time.Second {
		t.Errorf("EstimateWait after cancel = %v, want 1s", d)
	}
}

func TestTokenBucket_TryTake(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 10, Burst: 2}, clock)

	if !b.TryTake(2) {
		t.Fatal("TryTake(2) = false, want true")
	}
	if b.TryTake(1) {
		t.Error("TryTake(1) on empty bucket = true, want false")
	}
	clock.Advance(100 * time.Millisecond)
	if !b.TryTake(1) {
		t.Error("TryTake(1) after refill = false, want true")
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	clock := newFakeClock()
	b := newTestBucket(Limit{Rate: 1, Burst: 4}, clock)

	b.Reserve(6)
	b.Reset()
	if got := b.Tokens(); got != 4 {
		t.Errorf("Tokens() after Reset = %v, want 4", got)
	}
}

func TestRateLimiter_AcquireWaitsDeficit(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("api", Limit{Rate: 20, Burst: 1})

	ctx := context.Background()
	if waited, err := rl.Acquire(ctx, "api", 1); err != nil || waited != 0 {
		t.Fatalf("first Acquire() = %v, %v; want 0, nil", waited, err)
	}

	start := time.Now()
	waited, err := rl.Acquire(ctx, "api", 1)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if waited < 40*time.Millisecond || waited > 50*time.Millisecond {
		t.Errorf("waited = %v, want about 50ms", waited)
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 40ms", elapsed)
	}
}

func TestRateLimiter_UnknownResourcePassesThrough(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < 100; i++ {
		if waited, err := rl.Acquire(context.Background(), "unknown", 1); err != nil || waited != 0 {
			t.Fatalf("Acquire() = %v, %v; want 0, nil", waited, err)
		}
	}
	if !rl.TryAcquire("unknown", 5) {
		t.Error("TryAcquire() = false for unknown resource")
	}
	if d := rl.EstimateWait("unknown", 5); d != 0 {
		t.Errorf("EstimateWait() = %v, want 0", d)
	}
}

func TestRateLimiter_InvalidTokens(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("api", Limit{Rate: 1, Burst: 1})

	_, err := rl.Acquire(context.Background(), "api", 0)
	if KindOf(err) != KindValidation {
		t.Errorf("Acquire(0) kind = %v, want validation", KindOf(err))
	}
	if rl.TryAcquire("api", -1) {
		t.Error("TryAcquire(-1) = true, want false")
	}
}

func TestRateLimiter_TryAcquireAllOrNothing(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("gemini", Limit{Rate: 0.001, Burst: 5}, PerDay(2, 2))

	if !rl.TryAcquire("gemini", 2) {
		t.Fatal("TryAcquire(2) = false, want true")
	}
	if rl.TryAcquire("gemini", 1) {
		t.Fatal("TryAcquire(1) past daily quota = true, want false")
	}

	fast := rl.Buckets("gemini")[0]
	if got := fast.Tokens(); got < 2.99 || got > 3.01 {
		t.Errorf("per-second bucket Tokens() = %v, want 3 after refund", got)
	}
}

func TestRateLimiter_AcquireCancelled(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("slow", Limit{Rate: 1, Burst: 1})

	if _, err := rl.Acquire(context.Background(), "slow", 1); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rl.Acquire(ctx, "slow", 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want DeadlineExceeded", err)
	}

	// The abandoned reservation is handed back.
	if d := rl.EstimateWait("slow", 1); d > time.Second {
		t.Errorf("EstimateWait() = %v, want <= 1s", d)
	}
}

func TestRateLimiter_AcquireAlreadyCancelled(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("api", Limit{Rate: 1, Burst: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rl.Acquire(ctx, "api", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want Canceled", err)
	}
	if got := rl.Stats("api").Requests; got != 0 {
		t.Errorf("Requests = %d, want 0", got)
	}
}

func TestRateLimiter_Isolation(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("a", Limit{Rate: 0.01, Burst: 1})
	rl.Configure("b", Limit{Rate: 0.01, Burst: 1})

	if !rl.TryAcquire("a", 1) {
		t.Fatal("TryAcquire(a) = false")
	}
	if rl.TryAcquire("a", 1) {
		t.Fatal("TryAcquire(a) = true after exhaustion")
	}
	if !rl.TryAcquire("b", 1) {
		t.Error("exhausting a blocked b")
	}
}

func TestRateLimiter_ConfigureOnce(t *testing.T) {
	rl := NewRateLimiter()
	if !rl.Configure("api", Limit{Rate: 1, Burst: 1}) {
		t.Fatal("first Configure() = false")
	}
	if rl.Configure("api", Limit{Rate: 100, Burst: 100}) {
		t.Error("second Configure() = true, want false")
	}
	if got := rl.Buckets("api")[0].Limit().Burst; got != 1 {
		t.Errorf("Burst = %d, want 1", got)
	}
	if !rl.Configured("api") || rl.Configured("other") {
		t.Error("Configured() mismatch")
	}
}

func TestRateLimiter_Stats(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("api", Limit{Rate: 100, Burst: 1})

	ctx := context.Background()
	_, _ = rl.Acquire(ctx, "api", 1)
	_, _ = rl.Acquire(ctx, "api", 1)
	rl.TryAcquire("api", 1)

	stats := rl.Stats("api")
	if stats.Requests < 2 {
		t.Errorf("Requests = %d, want >= 2", stats.Requests)
	}
	if stats.Waits != 1 {
		t.Errorf("Waits = %d, want 1", stats.Waits)
	}
	if stats.TotalWait <= 0 {
		t.Errorf("TotalWait = %v, want > 0", stats.TotalWait)
	}
}

func TestRateLimiter_Execute(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("api", Limit{Rate: 100, Burst: 1})

	called := false
	err := rl.Execute(context.Background(), "api", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("Execute() = %v, called = %v", err, called)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter()
	rl.Configure("api", Limit{Rate: 1000, Burst: 10})

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rl.Acquire(context.Background(), "api", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Acquire() error = %v", err)
	}
	if got := rl.Stats("api").Requests; got != 50 {
		t.Errorf("Requests = %d, want 50", got)
	}
}
