package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// GateConfig configures the concurrency gate.
type GateConfig struct {
	// MaxConcurrent is the maximum number of operations in flight.
	// Default: 10
	MaxConcurrent int

	// MaxWait caps how long Acquire waits for a slot.
	// Default: 0 (wait until the context ends)
	MaxWait time.Duration
}

// Gate bounds the number of simultaneous in-flight operations against one
// resource. Waiters are admitted in FIFO order.
type Gate struct {
	config GateConfig
	sem    *semaphore.Weighted

	inFlight atomic.Int64
	peak     atomic.Int64
	rejected atomic.Int64
}

// NewGate creates a new gate.
func NewGate(config GateConfig) *Gate {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	return &Gate{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire takes a slot, waiting while the gate is full.
// Returns ErrGateFull if MaxWait elapses first, or the context error.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		g.enter()
		return nil
	}

	waitCtx := ctx
	if g.config.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.config.MaxWait)
		defer cancel()
	}

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.rejected.Add(1)
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrGateFull
		}
		return err
	}
	g.enter()
	return nil
}

// TryAcquire takes a slot only if one is free.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		g.rejected.Add(1)
		return false
	}
	g.enter()
	return true
}

func (g *Gate) enter() {
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Release returns a slot. It must follow a successful Acquire.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Execute runs op while holding a slot. The slot is released on every exit
// path, including panics in op. A Timeout inside op keeps the slot until the
// work it abandoned returns.
func (g *Gate) Execute(ctx context.Context, op func(context.Context) error) error {
	return g.hold(ctx, op)
}

// heldSlot is a gate slot an inner layer can take over, so the slot is
// returned when the guarded work stops rather than when the caller gives up.
type heldSlot struct {
	taken   atomic.Bool
	release func()
}

type heldSlotKey struct{}

func withHeldSlot(ctx context.Context, s *heldSlot) context.Context {
	return context.WithValue(ctx, heldSlotKey{}, s)
}

// takeSlot claims the slot carried by ctx and returns its release func, or
// nil when there is none or another layer already claimed it.
func takeSlot(ctx context.Context) func() {
	s, _ := ctx.Value(heldSlotKey{}).(*heldSlot)
	if s == nil || !s.taken.CompareAndSwap(false, true) {
		return nil
	}
	return s.release
}

// hold runs op with a slot. An inner layer that runs op in the background
// may take the slot over; otherwise it is released when op returns.
func (g *Gate) hold(ctx context.Context, op func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	s := &heldSlot{release: g.Release}
	defer func() {
		if s.taken.CompareAndSwap(false, true) {
			g.Release()
		}
	}()
	return op(withHeldSlot(ctx, s))
}

// InFlight returns the number of held slots.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// Peak returns the highest in-flight count observed.
func (g *Gate) Peak() int { return int(g.peak.Load()) }

// Max returns the gate capacity.
func (g *Gate) Max() int { return g.config.MaxConcurrent }

// Metrics returns current gate metrics.
func (g *Gate) Metrics() GateMetrics {
	active := g.InFlight()
	return GateMetrics{
		InFlight:      active,
		Peak:          g.Peak(),
		Available:     g.config.MaxConcurrent - active,
		MaxConcurrent: g.config.MaxConcurrent,
		Rejected:      g.rejected.Load(),
	}
}

// GateMetrics contains gate statistics.
type GateMetrics struct {
	InFlight      int
	Peak          int
	Available     int
	MaxConcurrent int
	Rejected      int64
}
