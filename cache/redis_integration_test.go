//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jonwraymond/callgate/health"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	})
	return client
}

func TestRedisCache_Integration_GetSetDelete(t *testing.T) {
	c, err := NewRedisCache(setupRedis(t), "test:")
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() hit on empty redis")
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, ok := c.Get(ctx, "k"); !ok || string(got) != "v" {
		t.Errorf("Get() = %q, %v", got, ok)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() hit after Delete")
	}
}

func TestRedisCache_Integration_Expiry(t *testing.T) {
	c, _ := NewRedisCache(setupRedis(t), "test:")
	ctx := context.Background()

	_ = c.Set(ctx, "short", []byte("v"), time.Second)
	time.Sleep(1500 * time.Millisecond)

	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("Get() served an expired key")
	}
}

func TestRedisCache_Integration_MemoAcrossRuns(t *testing.T) {
	rc, _ := NewRedisCache(setupRedis(t), "test:")
	store, _ := NewStore[[]float64](rc, nil, DefaultPolicy())
	ctx := context.Background()

	_, _ = NewMemo(store).Do(ctx, "callgate:openai:emb", func(context.Context) ([]float64, error) {
		return []float64{0.1, 0.2}, nil
	})

	second := NewMemo(store)
	v, err := second.Do(ctx, "callgate:openai:emb", func(context.Context) ([]float64, error) {
		return nil, nil
	})
	if err != nil || len(v) != 2 {
		t.Errorf("Do() = %v, %v, want stored embedding", v, err)
	}
	if second.Calls() != 0 {
		t.Errorf("Calls() = %d, want 0", second.Calls())
	}
}

func TestRedisCache_Integration_Health(t *testing.T) {
	rc, _ := NewRedisCache(setupRedis(t), "test:")

	r := health.NewPingChecker("cache", rc).Check(context.Background())
	if r.Status != health.StatusHealthy {
		t.Errorf("Check() = %v (%v), want healthy", r.Status, r.Error)
	}
}
