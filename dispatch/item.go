package dispatch

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jonwraymond/callgate/resilience"
)

// Operation performs one unit of work against the external resource.
type Operation[T, R any] func(ctx context.Context, input T) (R, error)

type itemIDKey struct{}

// ItemID returns the ID of the item an Operation was called for.
func ItemID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(itemIDKey{}).(string)
	return id, ok
}

func withItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemIDKey{}, id)
}

// Item is one unit of work. An empty ID is replaced by the item's index.
type Item[T any] struct {
	ID    string
	Input T
}

// Items wraps inputs as items keyed by index.
func Items[T any](inputs []T) []Item[T] {
	items := make([]Item[T], len(inputs))
	for i, in := range inputs {
		items[i] = Item[T]{ID: strconv.Itoa(i), Input: in}
	}
	return items
}

// Result is the outcome of one item: the operation's value, or a
// placeholder standing in for it.
type Result[R any] struct {
	ID    string
	Value R

	// Placeholder reports that Value was substituted.
	Placeholder bool
	// Kind classifies Cause for placeholders.
	Kind resilience.Kind
	// Cause is the failure behind a placeholder.
	Cause error

	// Tier is the tier that resolved the item, empty if it never ran.
	Tier     string
	Attempts int
}

// Err returns nil for real results and a PlaceholderSubstituted error
// wrapping the cause for placeholders.
func (r Result[R]) Err() error {
	if !r.Placeholder {
		return nil
	}
	e := resilience.NewError(resilience.KindPlaceholderSubstituted, "", r.Cause)
	e.Op = "item " + r.ID
	return e
}

// Results maps item IDs to their results.
type Results[R any] map[string]Result[R]

// Placeholders returns the sorted IDs of substituted results.
func (rs Results[R]) Placeholders() []string {
	var ids []string
	for id, r := range rs {
		if r.Placeholder {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Values returns the value of every result, placeholders included.
func (rs Results[R]) Values() map[string]R {
	out := make(map[string]R, len(rs))
	for id, r := range rs {
		out[id] = r.Value
	}
	return out
}

// workItem is resolved exactly once. Between resolutions only the goroutine
// running its current attempt touches it.
type workItem[T, R any] struct {
	id    string
	input T

	attempts int
	lastErr  error

	once     sync.Once
	resolved atomic.Bool
	result   Result[R]
}

func (w *workItem[T, R]) resolve(r Result[R]) bool {
	won := false
	w.once.Do(func() {
		r.ID = w.id
		r.Attempts = w.attempts
		w.result = r
		w.resolved.Store(true)
		won = true
	})
	return won
}

func (w *workItem[T, R]) done() bool {
	return w.resolved.Load()
}

// collect deduplicates items by ID, keeping the first input for each.
func collect[T, R any](items []Item[T]) []*workItem[T, R] {
	seen := make(map[string]bool, len(items))
	work := make([]*workItem[T, R], 0, len(items))
	for i, it := range items {
		id := it.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		work = append(work, &workItem[T, R]{id: id, input: it.Input})
	}
	return work
}
