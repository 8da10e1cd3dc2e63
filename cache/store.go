package cache

import (
	"context"
	"sync/atomic"
)

// Store keeps typed values in a Cache.
type Store[V any] struct {
	cache  Cache
	codec  Codec[V]
	policy Policy

	hits   atomic.Int64
	misses atomic.Int64
}

// NewStore creates a typed store. A nil codec stores JSON.
func NewStore[V any](c Cache, codec Codec[V], policy Policy) (*Store[V], error) {
	if c == nil {
		return nil, ErrNilCache
	}
	if codec == nil {
		codec = JSONCodec[V]{}
	}
	return &Store[V]{cache: c, codec: codec, policy: policy}, nil
}

// Load returns the value stored under key. Undecodable entries count as
// misses.
func (s *Store[V]) Load(ctx context.Context, key string) (V, bool) {
	var zero V
	if !s.policy.ShouldCache() || ValidateKey(key) != nil {
		return zero, false
	}

	data, ok := s.cache.Get(ctx, key)
	if !ok {
		s.misses.Add(1)
		return zero, false
	}
	v, err := s.codec.Unmarshal(data)
	if err != nil {
		s.misses.Add(1)
		return zero, false
	}
	s.hits.Add(1)
	return v, true
}

// Save stores v under key with the policy's default TTL.
func (s *Store[V]) Save(ctx context.Context, key string, v V) error {
	if !s.policy.ShouldCache() {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := s.codec.Marshal(v)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, data, s.policy.EffectiveTTL(0))
}

// Stats returns the hit and miss counts.
func (s *Store[V]) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}
