package aggregate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"mediagate/internal/cache"
	"mediagate/internal/observability/metrics"
)

// Aggregator implements the cache-aside pattern over an external TTL store.
// The store is never a correctness dependency: any store failure downgrades
// to computing fresh. Concurrent misses for the same key are collapsed into
// a single in-flight computation per process.
type Aggregator struct {
	store   cache.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	group   singleflight.Group
}

// NewAggregator constructs an Aggregator over the given store.
func NewAggregator(store cache.Store, logger *slog.Logger, recorder *metrics.Recorder) *Aggregator {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Aggregator{store: store, logger: logger, metrics: recorder}
}

// FetchOrCompute returns the cached value for key when present and fresh,
// and otherwise invokes compute, stores the result with the given TTL, and
// returns it. The cache write happens only after compute fully settles, so
// a stored value is never partial.
func (a *Aggregator) FetchOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	namespace := keyNamespace(key)
	if a.store != nil {
		value, ok, err := a.store.Get(ctx, key)
		if err != nil {
			a.warn("cache read failed, computing fresh", "key", key, "error", err)
		} else if ok {
			a.metrics.ObserveCacheHit(namespace)
			return value, nil
		}
	}
	a.metrics.ObserveCacheMiss(namespace)

	result, err, _ := a.group.Do(key, func() (interface{}, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if a.store != nil {
			if err := a.store.Set(ctx, key, value, ttl); err != nil {
				a.warn("cache write failed", "key", key, "error", err)
			}
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (a *Aggregator) warn(msg string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Warn(msg, args...)
}

func keyNamespace(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
