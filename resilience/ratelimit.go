package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limit configures one token bucket.
type Limit struct {
	// Rate is the number of tokens added per second.
	// Default: 10
	Rate float64

	// Burst is the bucket capacity.
	// Default: max(1, Rate)
	Burst int
}

// PerMinute builds a limit from a requests-per-minute figure.
func PerMinute(rpm int, burst int) Limit {
	return Limit{Rate: float64(rpm) / 60.0, Burst: burst}
}

// PerDay builds a limit from a requests-per-day quota.
func PerDay(rpd int, burst int) Limit {
	return Limit{Rate: float64(rpd) / 86400.0, Burst: burst}
}

func (l Limit) withDefaults() Limit {
	if l.Rate <= 0 {
		l.Rate = 10
	}
	if l.Burst <= 0 {
		l.Burst = int(l.Rate)
		if l.Burst < 1 {
			l.Burst = 1
		}
	}
	return l
}

// TokenBucket is a lazily refilled token bucket.
//
// Tokens never leave [0, Burst]. A caller that finds the bucket short reserves
// its deficit by moving the refill clock into the future; later callers queue
// behind that reservation.
type TokenBucket struct {
	limit Limit

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(limit Limit) *TokenBucket {
	limit = limit.withDefaults()
	return &TokenBucket{
		limit:      limit,
		tokens:     float64(limit.Burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Limit returns the bucket configuration.
func (b *TokenBucket) Limit() Limit {
	return b.limit
}

func (b *TokenBucket) refillLocked(now time.Time) {
	// The clock may sit in the future while a reservation is outstanding.
	if !now.After(b.lastRefill) {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	b.lastRefill = now

	b.tokens += elapsed.Seconds() * b.limit.Rate
	if b.tokens > float64(b.limit.Burst) {
		b.tokens = float64(b.limit.Burst)
	}
}

// Reserve deducts n tokens and returns how long the caller must wait before
// using them. Zero means the tokens were available.
func (b *TokenBucket) Reserve(n int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refillLocked(now)

	need := float64(n)
	if b.lastRefill.After(now) {
		// Someone is already waiting; queue behind them.
		d := secondsToDuration(need / b.limit.Rate)
		b.lastRefill = b.lastRefill.Add(d)
		return b.lastRefill.Sub(now)
	}

	if b.tokens >= need {
		b.tokens -= need
		return 0
	}

	deficit := need - b.tokens
	d := secondsToDuration(deficit / b.limit.Rate)
	b.tokens = 0
	b.lastRefill = now.Add(d)
	return d
}

// cancel hands back a reservation of n tokens that will not be used.
func (b *TokenBucket) cancel(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	d := secondsToDuration(float64(n) / b.limit.Rate)
	if b.lastRefill.After(now) {
		b.lastRefill = b.lastRefill.Add(-d)
		if b.lastRefill.Before(now) {
			b.lastRefill = now
		}
		return
	}
	b.refillLocked(now)
	b.giveLocked(float64(n))
}

// TryTake deducts n tokens if they are available right now.
func (b *TokenBucket) TryTake(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refillLocked(now)
	if b.lastRefill.After(now) {
		return false
	}
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

func (b *TokenBucket) give(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.giveLocked(float64(n))
}

func (b *TokenBucket) giveLocked(n float64) {
	b.tokens += n
	if b.tokens > float64(b.limit.Burst) {
		b.tokens = float64(b.limit.Burst)
	}
}

// EstimateWait returns how long a Reserve(n) issued now would wait, without
// changing the bucket.
func (b *TokenBucket) EstimateWait(n int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.lastRefill.After(now) {
		return b.lastRefill.Sub(now) + secondsToDuration(float64(n)/b.limit.Rate)
	}

	tokens := b.tokens + now.Sub(b.lastRefill).Seconds()*b.limit.Rate
	if tokens > float64(b.limit.Burst) {
		tokens = float64(b.limit.Burst)
	}
	if tokens >= float64(n) {
		return 0
	}
	return secondsToDuration((float64(n) - tokens) / b.limit.Rate)
}

// Tokens returns the current number of available tokens.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.now())
	return b.tokens
}

// Reset refills the bucket and drops outstanding reservations.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = float64(b.limit.Burst)
	b.lastRefill = b.now()
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// LimiterStats reports per-resource limiter activity.
type LimiterStats struct {
	Requests  int64
	Waits     int64
	TotalWait time.Duration
}

type resourceBuckets struct {
	buckets []*TokenBucket

	mu    sync.Mutex
	stats LimiterStats
}

// RateLimiter admits calls per named resource. Each resource owns an isolated
// set of buckets, so exhausting one provider never delays another.
type RateLimiter struct {
	mu        sync.RWMutex
	resources map[string]*resourceBuckets
}

// NewRateLimiter creates an empty rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{resources: make(map[string]*resourceBuckets)}
}

// Configure installs the buckets for a resource. A resource that is already
// configured keeps its existing buckets and Configure reports false.
func (rl *RateLimiter) Configure(resource string, limits ...Limit) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.resources[resource]; ok {
		return false
	}
	rb := &resourceBuckets{buckets: make([]*TokenBucket, 0, len(limits))}
	for _, l := range limits {
		rb.buckets = append(rb.buckets, NewTokenBucket(l))
	}
	rl.resources[resource] = rb
	return true
}

// Configured reports whether the resource has buckets.
func (rl *RateLimiter) Configured(resource string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	_, ok := rl.resources[resource]
	return ok
}

// Buckets returns the buckets of a resource.
func (rl *RateLimiter) Buckets(resource string) []*TokenBucket {
	rb := rl.lookup(resource)
	if rb == nil {
		return nil
	}
	out := make([]*TokenBucket, len(rb.buckets))
	copy(out, rb.buckets)
	return out
}

func (rl *RateLimiter) lookup(resource string) *resourceBuckets {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.resources[resource]
}

var errInvalidTokens = errors.New("token count must be positive")

// Acquire blocks until tokens are available for the resource, deducts them
// and returns how long the caller waited. Unconfigured resources are not
// limited.
func (rl *RateLimiter) Acquire(ctx context.Context, resource string, tokens int) (time.Duration, error) {
	if tokens <= 0 {
		return 0, Validation(resource, errInvalidTokens)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	rb := rl.lookup(resource)
	if rb == nil {
		return 0, nil
	}

	var wait time.Duration
	for _, b := range rb.buckets {
		if d := b.Reserve(tokens); d > wait {
			wait = d
		}
	}

	rb.record(tokens, wait)

	if wait <= 0 {
		return 0, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		for _, b := range rb.buckets {
			b.cancel(tokens)
		}
		return 0, ctx.Err()
	case <-timer.C:
		return wait, nil
	}
}

// TryAcquire deducts tokens only if every bucket of the resource can supply
// them immediately.
func (rl *RateLimiter) TryAcquire(resource string, tokens int) bool {
	if tokens <= 0 {
		return false
	}
	rb := rl.lookup(resource)
	if rb == nil {
		return true
	}

	for i, b := range rb.buckets {
		if !b.TryTake(tokens) {
			for _, taken := range rb.buckets[:i] {
				taken.give(tokens)
			}
			return false
		}
	}
	rb.record(tokens, 0)
	return true
}

// EstimateWait returns the wait Acquire would incur now, without acquiring.
func (rl *RateLimiter) EstimateWait(resource string, tokens int) time.Duration {
	rb := rl.lookup(resource)
	if rb == nil || tokens <= 0 {
		return 0
	}
	var wait time.Duration
	for _, b := range rb.buckets {
		if d := b.EstimateWait(tokens); d > wait {
			wait = d
		}
	}
	return wait
}

// Stats returns the activity counters of a resource.
func (rl *RateLimiter) Stats(resource string) LimiterStats {
	rb := rl.lookup(resource)
	if rb == nil {
		return LimiterStats{}
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.stats
}

// Execute waits for one token of the resource and runs op.
func (rl *RateLimiter) Execute(ctx context.Context, resource string, op func(context.Context) error) error {
	if _, err := rl.Acquire(ctx, resource, 1); err != nil {
		return err
	}
	return op(ctx)
}

func (rb *resourceBuckets) record(tokens int, wait time.Duration) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.stats.Requests += int64(tokens)
	if wait > 0 {
		rb.stats.Waits++
		rb.stats.TotalWait += wait
	}
}
