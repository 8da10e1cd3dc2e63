package cache

import (
	"context"
	"strconv"
	"testing"
	"time"
)

// BenchmarkMemoryCache_Get_Hit measures cache hit performance.
func BenchmarkMemoryCache_Get_Hit(b *testing.B) {
	c := NewMemoryCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("value"), time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get(ctx, "k")
	}
}

// BenchmarkMemoryCache_Set measures write performance.
func BenchmarkMemoryCache_Set(b *testing.B) {
	c := NewMemoryCache()
	ctx := context.Background()
	value := []byte("value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Set(ctx, strconv.Itoa(i%1024), value, time.Hour)
	}
}

// BenchmarkMemoryCache_Concurrent_ReadHeavy measures parallel reads.
func BenchmarkMemoryCache_Concurrent_ReadHeavy(b *testing.B) {
	c := NewMemoryCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("value"), time.Hour)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = c.Get(ctx, "k")
		}
	})
}

// BenchmarkDefaultKeyer_Key measures key derivation for a typical request.
func BenchmarkDefaultKeyer_Key(b *testing.B) {
	k := NewDefaultKeyer()
	input := map[string]any{
		"query":   "resilient fan-out",
		"top_k":   10,
		"filters": map[string]any{"lang": "en", "year": 2024},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = k.Key("pinecone", input)
	}
}

// BenchmarkMemo_Do_Resolved measures the resolved fast path.
func BenchmarkMemo_Do_Resolved(b *testing.B) {
	m := NewMemo[int](nil)
	ctx := context.Background()
	fn := func(context.Context) (int, error) { return 1, nil }
	_, _ = m.Do(ctx, "k", fn)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Do(ctx, "k", fn)
	}
}

// BenchmarkValidateKey measures key validation.
func BenchmarkValidateKey(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ValidateKey("callgate:openai:0123456789abcdef0123456789abcdef")
	}
}
