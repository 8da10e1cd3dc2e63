package cache_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/callgate/cache"
)

func ExampleNewMemoryCache() {
	c := cache.NewMemoryCache()
	ctx := context.Background()

	_ = c.Set(ctx, "callgate:gemini:abc", []byte(`{"summary":"ok"}`), time.Minute)
	value, ok := c.Get(ctx, "callgate:gemini:abc")

	fmt.Println(ok, string(value))
	// Output:
	// true {"summary":"ok"}
}

func ExampleDefaultKeyer_Key() {
	keyer := cache.NewDefaultKeyer()

	a, _ := keyer.Key("pinecone", map[string]any{"query": "go", "top_k": 5})
	b, _ := keyer.Key("pinecone", map[string]any{"top_k": 5, "query": "go"})

	fmt.Println(a == b)
	// Output:
	// true
}

func ExamplePolicy_EffectiveTTL() {
	p := cache.Policy{DefaultTTL: time.Hour, MaxTTL: 2 * time.Hour}

	fmt.Println(p.EffectiveTTL(0))
	fmt.Println(p.EffectiveTTL(5 * time.Hour))
	// Output:
	// 1h0m0s
	// 2h0m0s
}

func ExampleMemo_Do() {
	memo := cache.NewMemo[string](nil)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "page body", nil
	}

	for i := 0; i < 3; i++ {
		_, _ = memo.Do(ctx, "https://example.com", fetch)
	}
	fmt.Println("calls:", calls)
	// Output:
	// calls: 1
}

func ExampleNewStore() {
	store, _ := cache.NewStore[[]float64](cache.NewMemoryCache(), nil, cache.DefaultPolicy())
	ctx := context.Background()

	_ = store.Save(ctx, "callgate:openai:emb", []float64{0.25, 0.5})
	v, ok := store.Load(ctx, "callgate:openai:emb")

	fmt.Println(v, ok)
	// Output:
	// [0.25 0.5] true
}
