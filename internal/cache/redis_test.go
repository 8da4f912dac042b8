package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediagate/internal/testsupport/redisstub"
)

func newTestRedis(t *testing.T, opts redisstub.Options) (*RedisStore, *redisstub.Server) {
	t.Helper()
	stub, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })

	store, err := NewRedisStore(RedisConfig{
		Addr:        stub.Addr(),
		Password:    opts.Password,
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, stub
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedis(t, redisstub.Options{})
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "home:v1", []byte(`{"spotlight":[]}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get(ctx, "home:v1")
	if err != nil || !ok || string(value) != `{"spotlight":[]}` {
		t.Fatalf("Get: value=%q ok=%v err=%v", value, ok, err)
	}
}

func TestRedisStoreIncrement(t *testing.T) {
	store, _ := newTestRedis(t, redisstub.Options{})
	ctx := context.Background()

	count, remaining, err := store.Increment(ctx, "mediagate:rate:1.2.3.4", time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("first increment: count=%d err=%v", count, err)
	}
	if remaining != time.Minute {
		t.Fatalf("remaining = %v, want full window", remaining)
	}

	count, remaining, err = store.Increment(ctx, "mediagate:rate:1.2.3.4", time.Minute)
	if err != nil || count != 2 {
		t.Fatalf("second increment: count=%d err=%v", count, err)
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Fatalf("remaining = %v", remaining)
	}
}

func TestRedisStoreAuth(t *testing.T) {
	store, _ := newTestRedis(t, redisstub.Options{Password: "sekrit"})
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping with auth: %v", err)
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	store, stub := newTestRedis(t, redisstub.Options{})
	stub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatal("expected error from unreachable store")
	} else if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Fatal("empty config accepted")
	}
}
