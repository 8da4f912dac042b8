// Package cache defines the external TTL store the gateway leans on for
// aggregate results and rate-limit counters. The store is a pure
// optimization: every caller must tolerate ErrUnavailable by computing
// fresh, so losing the backing service never breaks a response.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable reports that the backing store could not be reached.
// Callers degrade to direct computation and never surface it to clients.
var ErrUnavailable = errors.New("cache store unavailable")

// Store is a keyed TTL byte store.
type Store interface {
	// Get returns the stored value and true when the key exists and has not
	// expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. A non-positive ttl is rejected.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Increment adds one to the counter at key, setting ttl on first write,
	// and returns the new count with the remaining window.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store used for tests and as the zero-config
// fallback when neither Redis nor a LevelDB path is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: stored, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if ttl <= 0 {
		return 0, 0, errors.New("ttl must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	entry, ok := m.entries[key]
	count := int64(1)
	expiresAt := now.Add(ttl)
	if ok && now.Before(entry.expiresAt) {
		count = decodeCount(entry.value) + 1
		expiresAt = entry.expiresAt
	}
	m.entries[key] = memoryEntry{value: encodeCount(count), expiresAt: expiresAt}
	return count, time.Until(expiresAt), nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// SetNow overrides the store clock for tests.
func (m *MemoryStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func encodeCount(count int64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(count >> (8 * (7 - i)))
	}
	return buf
}

func decodeCount(value []byte) int64 {
	if len(value) != 8 {
		return 0
	}
	var count int64
	for i := 0; i < 8; i++ {
		count = count<<8 | int64(value[i])
	}
	return count
}
