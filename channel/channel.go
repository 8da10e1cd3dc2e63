package channel

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/resilience"
)

// Conn is one live connection to a backend.
//
// Contract:
// - Concurrency: Invoke must be safe for concurrent use.
// - Errors: a connection that can no longer serve calls returns an error
// matching ErrInvalidated, directly or through Adapt.
type Conn[Req, Resp any] interface {
	Invoke(ctx context.Context, req Req) (Resp, error)
	Close() error
}

// Dialer opens a new connection.
type Dialer[Req, Resp any] func(ctx context.Context) (Conn[Req, Resp], error)

// Config configures a Channel.
type Config struct {
	// Name identifies the backend in errors, logs and metrics.
	Name string

	// MaxRetries is the total number of attempts per call.
	// Default: 3
	MaxRetries int

	// BaseBackoff is multiplied by the attempt number to get the delay.
	// Default: 2s
	BaseBackoff time.Duration

	// MaxJitter is the upper bound of the random delay added to each backoff.
	// Negative disables jitter.
	// Default: 500ms
	MaxJitter time.Duration

	// Invalidated decides whether an error means the connection must be
	// rebuilt.
	// Default: IsInvalidated
	Invalidated func(error) bool

	// Middleware instruments each Invoke.
	// Default: observe.NopMiddleware()
	Middleware *observe.Middleware
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	} else if c.MaxJitter == 0 {
		c.MaxJitter = 500 * time.Millisecond
	}
	if c.Invalidated == nil {
		c.Invalidated = IsInvalidated
	}
	if c.Middleware == nil {
		c.Middleware = observe.NopMiddleware()
	}
	return c
}

// dialError marks a failed dial so the retry loop tries again.
type dialError struct{ err error }

func (e *dialError) Error() string { return "channel: dial: " + e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

// Channel owns at most one shared connection at a time. Each connection is
// tagged with a generation; a caller whose call invalidated a connection
// discards only that generation, so concurrent callers never tear down a
// replacement someone else already dialed.
type Channel[Req, Resp any] struct {
	cfg   Config
	dial  Dialer[Req, Resp]
	retry *resilience.Retry
	jit   func(n int64) int64

	mu         sync.Mutex
	conn       Conn[Req, Resp]
	generation uint64
	closed     bool

	dials    atomic.Int64
	rebuilds atomic.Int64
}

// New creates a channel. No connection is opened until the first Invoke.
func New[Req, Resp any](dial Dialer[Req, Resp], cfg Config) *Channel[Req, Resp] {
	cfg = cfg.withDefaults()
	c := &Channel[Req, Resp]{
		cfg:  cfg,
		dial: dial,
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		jit: rand.Int64N,
	}

	logger := cfg.Middleware.Logger()
	metrics := cfg.Middleware.Metrics()

	c.retry = resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		Backoff:     c.backoff,
		RetryIf: func(err error) bool {
			var de *dialError
			return errors.As(err, &de) || c.cfg.Invalidated(err)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			ctx := context.Background()
			metrics.RecordRetry(ctx, cfg.Name, attempt)
			logger.Warn(ctx, "connection invalidated, rebuilding",
				observe.F("resource", cfg.Name),
				observe.F("attempt", attempt),
				observe.F("delay_ms", delay.Milliseconds()),
				observe.F("error", err),
			)
		},
	})
	return c
}

func (c *Channel[Req, Resp]) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff * time.Duration(attempt)
	if c.cfg.MaxJitter > 0 {
		d += time.Duration(c.jit(int64(c.cfg.MaxJitter) + 1))
	}
	return d
}

// Invoke sends req over a connection chosen by the context's Policy.
func (c *Channel[Req, Resp]) Invoke(ctx context.Context, req Req) (Resp, error) {
	var resp Resp
	meta := observe.OpMeta{Component: "channel", Operation: "invoke", Resource: c.cfg.Name}

	err := c.cfg.Middleware.Wrap(func(ctx context.Context, _ observe.OpMeta) error {
		policy := PolicyFrom(ctx)
		err := c.retry.Execute(ctx, func(ctx context.Context) error {
			out, err := c.attempt(ctx, policy, req)
			if err != nil {
				return err
			}
			resp = out
			return nil
		})
		if errors.Is(err, resilience.ErrMaxRetriesExceeded) {
			return resilience.Transient(c.cfg.Name, err)
		}
		return err
	})(ctx, meta)

	if err != nil {
		var zero Resp
		return zero, err
	}
	return resp, nil
}

func (c *Channel[Req, Resp]) attempt(ctx context.Context, policy Policy, req Req) (Resp, error) {
	if policy == PolicyPerCall {
		conn, err := c.open(ctx)
		if err != nil {
			var zero Resp
			return zero, err
		}
		defer func() { _ = conn.Close() }()
		return conn.Invoke(ctx, req)
	}

	conn, gen, err := c.shared(ctx)
	if err != nil {
		var zero Resp
		return zero, err
	}
	resp, err := conn.Invoke(ctx, req)
	if err != nil && c.cfg.Invalidated(err) {
		c.discard(gen)
	}
	return resp, err
}

func (c *Channel[Req, Resp]) open(ctx context.Context) (Conn[Req, Resp], error) {
	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &dialError{err: err}
	}
	c.dials.Add(1)
	return conn, nil
}

// shared returns the cached connection, dialing one if needed.
func (c *Channel[Req, Resp]) shared(ctx context.Context) (Conn[Req, Resp], uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, 0, ErrClosed
	}
	if c.conn != nil {
		return c.conn, c.generation, nil
	}

	conn, err := c.open(ctx)
	if err != nil {
		return nil, 0, err
	}
	c.conn = conn
	return conn, c.generation, nil
}

// discard drops the shared connection if it is still generation gen.
func (c *Channel[Req, Resp]) discard(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.generation++
	c.mu.Unlock()

	c.rebuilds.Add(1)
	_ = conn.Close()
}

// Generation returns the generation of the current shared connection.
func (c *Channel[Req, Resp]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Rebuilds returns how many shared connections were discarded as invalid.
func (c *Channel[Req, Resp]) Rebuilds() int64 {
	return c.rebuilds.Load()
}

// Dials returns how many connections were opened, shared or per call.
func (c *Channel[Req, Resp]) Dials() int64 {
	return c.dials.Load()
}

// Close closes the shared connection. Later calls fail with ErrClosed.
func (c *Channel[Req, Resp]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("channel: close %s: %w", c.cfg.Name, err)
	}
	return nil
}
