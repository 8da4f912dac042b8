package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(value) != "v" {
		t.Fatalf("Get: value=%q ok=%v err=%v", value, ok, err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	store.SetNow(func() time.Time { return now })

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(61 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expired entry still readable")
	}
}

func TestMemoryStoreRejectsNonPositiveTTL(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Set(context.Background(), "k", []byte("v"), 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
	if _, _, err := store.Increment(context.Background(), "k", -time.Second); err == nil {
		t.Fatal("negative ttl accepted")
	}
}

func TestMemoryStoreIncrementWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	store.SetNow(func() time.Time { return now })

	count, remaining, err := store.Increment(ctx, "rate", time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("first increment: count=%d err=%v", count, err)
	}
	if remaining <= 0 || remaining > time.Minute {
		t.Fatalf("remaining = %v", remaining)
	}

	count, _, err = store.Increment(ctx, "rate", time.Minute)
	if err != nil || count != 2 {
		t.Fatalf("second increment: count=%d err=%v", count, err)
	}

	// The window deadline is fixed at first increment and outlives later hits.
	now = now.Add(61 * time.Second)
	count, _, err = store.Increment(ctx, "rate", time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("post-window increment: count=%d err=%v", count, err)
	}
}

func TestMemoryStoreGetCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Set(ctx, "k", []byte("abc"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	first, _, _ := store.Get(ctx, "k")
	first[0] = 'x'
	second, _, _ := store.Get(ctx, "k")
	if string(second) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", second)
	}
}
