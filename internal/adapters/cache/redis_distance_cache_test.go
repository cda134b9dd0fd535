package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"fleet-route-service/internal/ports"
)

func newTestRedisCache(t *testing.T) (*RedisDistanceCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDistanceCache(client), srv
}

func TestRedisDistanceCacheRoundTrip(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	value := ports.DistanceResult{
		DistanceMeters:  1200,
		DurationSeconds: 240,
		Status:          ports.StatusOK,
		Polyline:        "abc",
	}
	if err := c.Set(ctx, "k1", value, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got != value {
		t.Fatalf("got %+v, want %+v", got, value)
	}

	_, ok, err = c.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestRedisDistanceCacheGetMany(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	a := ports.DistanceResult{DistanceMeters: 100, DurationSeconds: 30, Status: ports.StatusOK}
	b := ports.DistanceResult{Status: ports.StatusZeroResults}
	if err := c.Set(ctx, "a", a, time.Hour); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := c.Set(ctx, "b", b, time.Hour); err != nil {
		t.Fatalf("set b: %v", err)
	}

	got, err := c.GetMany(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got["a"] != a || got["b"] != b {
		t.Fatalf("unexpected values: %+v", got)
	}
}

func TestRedisDistanceCacheTTL(t *testing.T) {
	c, srv := newTestRedisCache(t)
	ctx := context.Background()

	v := ports.DistanceResult{DistanceMeters: 5, DurationSeconds: 1, Status: ports.StatusOK}
	if err := c.Set(ctx, "short", v, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	srv.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "short")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("entry should have expired")
	}
}
