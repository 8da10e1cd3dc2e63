package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/callgate/channel"
	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/resilience"
)

// Sentinel errors returned by New.
var (
	ErrNilRegistry = errors.New("dispatch: registry is nil")
	ErrNoResource  = errors.New("dispatch: resource name is required")
)

// Config configures a Dispatcher.
type Config struct {
	// Resource is the registry resource every call is charged to.
	Resource string

	// Workers is the fast tier pool size when Tiers is empty.
	// Default: 10
	Workers int

	// Timeout is the fast tier attempt timeout when Tiers is empty.
	// Default: 30s
	Timeout time.Duration

	// Tiers overrides DefaultTiers(Workers, Timeout).
	Tiers []Tier

	// Progress receives run updates. Sends never block.
	Progress chan<- Progress

	// Middleware traces runs, tiers and calls.
	// Default: built from the registry's logger and metrics.
	Middleware *observe.Middleware
}

// Option configures a Dispatcher.
type Option[T, R any] func(*Dispatcher[T, R])

// WithPlaceholder sets the function that builds placeholder values. Without
// it placeholders carry the zero value.
func WithPlaceholder[T, R any](fn func(id string, input T, cause error) R) Option[T, R] {
	return func(d *Dispatcher[T, R]) {
		d.placeholder = fn
	}
}

// Dispatcher runs batches of items against one resource with tiered
// degradation.
type Dispatcher[T, R any] struct {
	reg         *resilience.Registry
	cfg         Config
	placeholder func(id string, input T, cause error) R
	mw          *observe.Middleware

	dropped atomic.Int64
}

// New creates a dispatcher for cfg.Resource.
func New[T, R any](reg *resilience.Registry, cfg Config, opts ...Option[T, R]) (*Dispatcher[T, R], error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if cfg.Resource == "" {
		return nil, ErrNoResource
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers(cfg.Workers, cfg.Timeout)
	}
	if err := validateTiers(cfg.Tiers); err != nil {
		return nil, err
	}
	if cfg.Middleware == nil {
		cfg.Middleware = observe.NewMiddleware(nil, reg.Metrics(), reg.Logger())
	}

	d := &Dispatcher[T, R]{
		reg: reg,
		cfg: cfg,
		placeholder: func(string, T, error) R {
			var zero R
			return zero
		},
		mw: cfg.Middleware,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Tiers returns the tiers in escalation order.
func (d *Dispatcher[T, R]) Tiers() []Tier {
	out := make([]Tier, len(d.cfg.Tiers))
	copy(out, d.cfg.Tiers)
	return out
}

// Resource returns the resource name.
func (d *Dispatcher[T, R]) Resource() string {
	return d.cfg.Resource
}

// Middleware returns the middleware instrumenting runs.
func (d *Dispatcher[T, R]) Middleware() *observe.Middleware {
	return d.mw
}

// Placeholder returns the placeholder value configured for a failed item.
func (d *Dispatcher[T, R]) Placeholder(id string, input T, cause error) R {
	return d.placeholder(id, input, cause)
}

// DroppedProgress returns how many progress updates were dropped because
// the receiver was not ready.
func (d *Dispatcher[T, R]) DroppedProgress() int64 {
	return d.dropped.Load()
}

// DispatchAll runs op for every item and returns exactly one result per
// distinct item ID. Items sharing an ID run once. Failures never abort the
// run; they become placeholders.
func (d *Dispatcher[T, R]) DispatchAll(ctx context.Context, items []Item[T], op Operation[T, R]) Results[R] {
	runID := uuid.NewString()
	work := collect[T, R](items)
	progress := &progressReporter{
		out:     d.cfg.Progress,
		runID:   runID,
		total:   len(work),
		dropped: &d.dropped,
	}

	meta := observe.OpMeta{Component: "dispatch", Operation: "run", Resource: d.cfg.Resource, RunID: runID}
	start := time.Now()

	_ = d.mw.Wrap(func(ctx context.Context, meta observe.OpMeta) error {
		for i, tier := range d.cfg.Tiers {
			pending := unresolved(work)
			if len(pending) == 0 || ctx.Err() != nil {
				break
			}
			if i > 0 {
				d.mw.Metrics().RecordTierEscalation(ctx, d.cfg.Resource, tier.Name, len(pending))
				d.mw.Logger().Info(ctx, "escalating items",
					observe.F("run_id", runID),
					observe.F("resource", d.cfg.Resource),
					observe.F("tier", tier.Name),
					observe.F("items", len(pending)),
				)
			}

			tierMeta := meta
			tierMeta.Operation = "tier"
			tierMeta.Tier = tier.Name
			_ = d.mw.Wrap(func(ctx context.Context, meta observe.OpMeta) error {
				d.runTier(ctx, meta, tier, pending, op, progress)
				return nil
			})(ctx, tierMeta)
		}

		d.substitute(ctx, work, progress)
		return nil
	})(ctx, meta)

	progress.done()

	results := make(Results[R], len(work))
	placeholders := 0
	for _, w := range work {
		results[w.id] = w.result
		if w.result.Placeholder {
			placeholders++
		}
	}

	d.mw.Logger().Info(ctx, "dispatch complete",
		observe.F("run_id", runID),
		observe.F("resource", d.cfg.Resource),
		observe.F("items", len(work)),
		observe.F("placeholders", placeholders),
		observe.F("duration_ms", time.Since(start).Milliseconds()),
	)
	return results
}

func (d *Dispatcher[T, R]) runTier(
	ctx context.Context,
	meta observe.OpMeta,
	tier Tier,
	pending []*workItem[T, R],
	op Operation[T, R],
	progress *progressReporter,
) {
	// No breaker: one item's failures must not fail its siblings.
	exec := d.reg.Executor(d.cfg.Resource,
		resilience.WithRetry(nil),
		resilience.WithCircuitBreaker(nil),
		resilience.WithTimeout(tier.Timeout),
	)
	ctx = channel.WithPolicy(ctx, tier.Connections)

	callMeta := meta
	callMeta.Operation = "call"
	var g errgroup.Group
	g.SetLimit(tier.Workers)

	for _, w := range pending {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			w.attempts++

			var value R
			err := d.mw.Wrap(func(ctx context.Context, _ observe.OpMeta) error {
				v, err := resilience.Run(ctx, exec, func(ctx context.Context) (R, error) {
					return op(withItemID(ctx, w.id), w.input)
				})
				value = v
				return err
			})(ctx, callMeta)

			if err == nil {
				if w.resolve(Result[R]{Value: value, Tier: tier.Name}) {
					progress.resolved(tier.Name)
				}
				return nil
			}

			w.lastErr = err
			if !resilience.IsRetryable(err) {
				d.fallback(ctx, w, resilience.KindOf(err), err, tier.Name, progress)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// substitute turns every unresolved item into a placeholder.
func (d *Dispatcher[T, R]) substitute(ctx context.Context, work []*workItem[T, R], progress *progressReporter) {
	for _, w := range unresolved(work) {
		cause := w.lastErr
		var kind resilience.Kind
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			kind = resilience.KindTimeout
		case ctx.Err() != nil:
			kind = resilience.KindCanceled
		default:
			kind = resilience.KindOf(cause)
		}
		if cause == nil {
			cause = ctx.Err()
		}
		d.fallback(ctx, w, kind, cause, "", progress)
	}
}

func (d *Dispatcher[T, R]) fallback(ctx context.Context, w *workItem[T, R], kind resilience.Kind, cause error, tier string, progress *progressReporter) {
	r := Result[R]{
		Value:       d.placeholder(w.id, w.input, cause),
		Placeholder: true,
		Kind:        kind,
		Cause:       cause,
		Tier:        tier,
	}
	if !w.resolve(r) {
		return
	}
	d.mw.Metrics().RecordPlaceholder(ctx, d.cfg.Resource, kind.String())
	progress.resolved(tier)
}

func unresolved[T, R any](work []*workItem[T, R]) []*workItem[T, R] {
	var out []*workItem[T, R]
	for _, w := range work {
		if !w.done() {
			out = append(out, w)
		}
	}
	return out
}
