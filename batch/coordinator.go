package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/callgate/cache"
	"github.com/jonwraymond/callgate/dispatch"
	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/resilience"
)

// ErrNilDispatcher is returned by New without a dispatcher.
var ErrNilDispatcher = errors.New("batch: dispatcher is nil")

// Config configures a Coordinator.
type Config struct {
	// DefaultBatchSize applies when RunBatched gets a non-positive size.
	// Default: 30
	DefaultBatchSize int
	// MinBatchSize and MaxBatchSize clamp every batch size.
	// Defaults: 1 and 100
	MinBatchSize int
	MaxBatchSize int

	// MaxConcurrentBatches bounds how many batches run at once.
	// Default: 4
	MaxConcurrentBatches int

	// BatchDelay spaces out batch launches. Zero launches back to back.
	BatchDelay time.Duration

	// Namespace prefixes request keys.
	// Default: the dispatcher's resource
	Namespace string
}

func (c Config) withDefaults(resource string) Config {
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = 30
	}
	if c.MinBatchSize <= 0 {
		c.MinBatchSize = 1
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.MaxBatchSize < c.MinBatchSize {
		c.MaxBatchSize = c.MinBatchSize
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 4
	}
	if c.Namespace == "" {
		c.Namespace = resource
	}
	return c
}

// Option configures a Coordinator.
type Option[Req, Resp any] func(*Coordinator[Req, Resp])

// WithKey identifies requests by fn instead of their canonical JSON hash.
func WithKey[Req, Resp any](fn func(Req) (string, error)) Option[Req, Resp] {
	return func(c *Coordinator[Req, Resp]) {
		c.key = fn
	}
}

// WithStore consults and fills store across runs.
func WithStore[Req, Resp any](store *cache.Store[Resp]) Option[Req, Resp] {
	return func(c *Coordinator[Req, Resp]) {
		c.store = store
	}
}

// Coordinator runs request lists in batches.
type Coordinator[Req, Resp any] struct {
	d     *dispatch.Dispatcher[Req, Resp]
	op    dispatch.Operation[Req, Resp]
	cfg   Config
	key   func(Req) (string, error)
	store *cache.Store[Resp]
	mw    *observe.Middleware
}

// New creates a coordinator that runs op through d.
func New[Req, Resp any](d *dispatch.Dispatcher[Req, Resp], op dispatch.Operation[Req, Resp], cfg Config, opts ...Option[Req, Resp]) (*Coordinator[Req, Resp], error) {
	if d == nil {
		return nil, ErrNilDispatcher
	}
	if op == nil {
		return nil, errors.New("batch: operation is nil")
	}

	c := &Coordinator[Req, Resp]{
		d:   d,
		op:  op,
		cfg: cfg.withDefaults(d.Resource()),
		mw:  d.Middleware(),
	}
	keyer := cache.NewDefaultKeyer()
	c.key = func(req Req) (string, error) {
		return keyer.Key(c.cfg.Namespace, req)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BatchSize returns the batch size RunBatched uses for a requested size.
func (c *Coordinator[Req, Resp]) BatchSize(requested int) int {
	size := requested
	if size <= 0 {
		size = c.cfg.DefaultBatchSize
	}
	if size < c.cfg.MinBatchSize {
		size = c.cfg.MinBatchSize
	}
	if size > c.cfg.MaxBatchSize {
		size = c.cfg.MaxBatchSize
	}
	return size
}

// TierCached marks results served from the memo or store without a call.
const TierCached = "cached"

// run holds the per-call state of RunBatched.
type run[Resp any] struct {
	id   string
	memo *cache.Memo[Resp]

	mu      sync.Mutex
	claimed map[string]bool
	final   map[string]dispatch.Result[Resp]
}

// claim reports whether the caller is the first batch to see key. Only the
// claiming batch resolves a key; later batches read its result at the end.
func (r *run[Resp]) claim(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[key] {
		return false
	}
	r.claimed[key] = true
	return true
}

func (r *run[Resp]) merge(results dispatch.Results[Resp]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, res := range results {
		r.final[key] = res
	}
}

// RunBatched runs every request and returns one result per request in input
// order. Results are never missing: requests that could not be keyed or
// never ran because ctx ended carry placeholders.
func (c *Coordinator[Req, Resp]) RunBatched(ctx context.Context, requests []Req, batchSize int) []dispatch.Result[Resp] {
	size := c.BatchSize(batchSize)
	r := &run[Resp]{
		id:      uuid.NewString(),
		memo:    cache.NewMemo(c.store),
		claimed: make(map[string]bool),
		final:   make(map[string]dispatch.Result[Resp]),
	}

	out := make([]dispatch.Result[Resp], len(requests))
	keys := make([]string, len(requests))
	for i, req := range requests {
		key, err := c.key(req)
		if err != nil {
			cause := resilience.Validation(c.d.Resource(), fmt.Errorf("key request %d: %w", i, err))
			out[i] = dispatch.Result[Resp]{
				ID:          fmt.Sprintf("#%d", i),
				Value:       c.d.Placeholder("", req, cause),
				Placeholder: true,
				Kind:        resilience.KindValidation,
				Cause:       cause,
			}
			continue
		}
		keys[i] = key
	}

	meta := observe.OpMeta{Component: "batch", Operation: "run", Resource: c.d.Resource(), RunID: r.id}
	start := time.Now()
	batches := 0

	_ = c.mw.Wrap(func(ctx context.Context, _ observe.OpMeta) error {
		var g errgroup.Group
		g.SetLimit(c.cfg.MaxConcurrentBatches)

		for lo := 0; lo < len(requests); lo += size {
			if ctx.Err() != nil {
				break
			}
			if batches > 0 && c.cfg.BatchDelay > 0 {
				if err := sleep(ctx, c.cfg.BatchDelay); err != nil {
					break
				}
			}
			hi := min(lo+size, len(requests))
			batches++
			g.Go(func() error {
				c.runBatch(ctx, r, requests[lo:hi], keys[lo:hi])
				return nil
			})
		}
		return g.Wait()
	})(ctx, meta)

	for i := range requests {
		if keys[i] == "" {
			continue
		}
		r.mu.Lock()
		res, ok := r.final[keys[i]]
		r.mu.Unlock()
		if !ok {
			res = c.unlaunched(ctx, keys[i], requests[i])
		}
		out[i] = res
	}

	c.mw.Logger().Info(ctx, "batched run complete",
		observe.F("run_id", r.id),
		observe.F("resource", c.d.Resource()),
		observe.F("requests", len(requests)),
		observe.F("unique", len(r.final)),
		observe.F("batches", batches),
		observe.F("batch_size", size),
		observe.F("calls", r.memo.Calls()),
		observe.F("duration_ms", time.Since(start).Milliseconds()),
	)
	return out
}

// runBatch dispatches the keys this batch claims and has no value for yet.
// Cached keys and keys claimed by another batch never reach the dispatcher,
// so they cost no rate tokens or gate slots.
func (c *Coordinator[Req, Resp]) runBatch(ctx context.Context, r *run[Resp], reqs []Req, keys []string) {
	items := make([]dispatch.Item[Req], 0, len(reqs))
	cached := make(dispatch.Results[Resp])
	for i, req := range reqs {
		key := keys[i]
		if key == "" || !r.claim(key) {
			continue
		}
		if v, ok := r.memo.Lookup(ctx, key); ok {
			cached[key] = dispatch.Result[Resp]{ID: key, Value: v, Tier: TierCached}
			continue
		}
		items = append(items, dispatch.Item[Req]{ID: key, Input: req})
	}
	r.merge(cached)
	if len(items) == 0 {
		return
	}

	// Item IDs are the request keys.
	op := func(ctx context.Context, req Req) (Resp, error) {
		key, _ := dispatch.ItemID(ctx)
		return r.memo.Do(ctx, key, func(ctx context.Context) (Resp, error) {
			return c.op(ctx, req)
		})
	}
	r.merge(c.d.DispatchAll(ctx, items, op))
}

// unlaunched builds the placeholder for a request whose batch never ran.
func (c *Coordinator[Req, Resp]) unlaunched(ctx context.Context, key string, req Req) dispatch.Result[Resp] {
	cause := ctx.Err()
	kind := resilience.KindCanceled
	if errors.Is(cause, context.DeadlineExceeded) {
		kind = resilience.KindTimeout
	}
	if cause == nil {
		cause = resilience.ErrCanceled
	}
	return dispatch.Result[Resp]{
		ID:          key,
		Value:       c.d.Placeholder(key, req, cause),
		Placeholder: true,
		Kind:        kind,
		Cause:       cause,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
