package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Memo runs each key's function at most once until it succeeds. Concurrent
// callers share the in-flight call; callers arriving after a success get the
// resolved value. Failures are not remembered, so a later caller tries again.
//
// When a Store is attached it is consulted before calling and filled after
// every success.
type Memo[V any] struct {
	group singleflight.Group
	store *Store[V]

	mu       sync.RWMutex
	resolved map[string]V

	calls atomic.Int64
}

// NewMemo creates a memo. store may be nil.
func NewMemo[V any](store *Store[V]) *Memo[V] {
	return &Memo[V]{
		store:    store,
		resolved: make(map[string]V),
	}
}

// Do returns the value for key, calling fn only if no value is resolved and
// no other caller is computing one.
func (m *Memo[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}

	out, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.Lookup(ctx, key); ok {
			return v, nil
		}

		m.calls.Add(1)
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		m.set(key, v)
		if m.store != nil {
			_ = m.store.Save(ctx, key, v)
		}
		return v, nil
	})

	v, _ := out.(V)
	return v, err
}

// Get returns the resolved value for key.
func (m *Memo[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.resolved[key]
	return v, ok
}

// Lookup returns the resolved value for key, falling back to the store.
// A store hit is remembered as resolved.
func (m *Memo[V]) Lookup(ctx context.Context, key string) (V, bool) {
	if v, ok := m.Get(key); ok {
		return v, true
	}
	if m.store == nil {
		var zero V
		return zero, false
	}
	v, ok := m.store.Load(ctx, key)
	if ok {
		m.set(key, v)
	}
	return v, ok
}

func (m *Memo[V]) set(key string, v V) {
	m.mu.Lock()
	m.resolved[key] = v
	m.mu.Unlock()
}

// Len returns the number of resolved keys.
func (m *Memo[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resolved)
}

// Calls returns how many times a function passed to Do was invoked.
func (m *Memo[V]) Calls() int64 {
	return m.calls.Load()
}
