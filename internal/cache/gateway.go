package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/metrics"
)

// Store is the narrow contract over the external key/value service. Get
// reports a missing entry as found=false with a nil error.
type Store interface {
	Get(ctx context.Context, scope, field string) (value string, found bool, err error)
	Set(ctx context.Context, scope, field, value string) error
}

// Fallback computes a value on a miss.
type Fallback func(ctx context.Context) (string, error)

// Gateway wraps a Store with get-or-compute semantics.
type Gateway struct {
	store  Store
	logger *zap.Logger
}

// NewGateway builds a Gateway. A nil store behaves as an always-empty cache.
func NewGateway(store Store, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{store: store, logger: logger}
}

// Get returns the cached value for key. On a miss it calls fallback, stores
// the result and returns it; with no fallback it returns found=false. Store
// errors are logged and treated as misses. Only fallback errors are returned.
func (g *Gateway) Get(ctx context.Context, key Key, fallback Fallback) (string, bool, error) {
	if value, ok := g.lookup(ctx, key); ok {
		return value, true, nil
	}
	if fallback == nil {
		return "", false, nil
	}
	value, err := fallback(ctx)
	if err != nil {
		return "", false, fmt.Errorf("compute %s: %w", key, err)
	}
	g.Set(ctx, key, value)
	return value, true, nil
}

// Set overwrites the entry for key. Failures are logged, never returned.
func (g *Gateway) Set(ctx context.Context, key Key, value string) {
	if g.store == nil {
		return
	}
	if err := g.store.Set(ctx, key.StoreScope(), key.Field, value); err != nil {
		metrics.ObserveCacheWrite("error")
		g.logger.Warn("cache write failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	metrics.ObserveCacheWrite("ok")
}

func (g *Gateway) lookup(ctx context.Context, key Key) (string, bool) {
	if g.store == nil {
		metrics.ObserveCacheLookup("miss")
		return "", false
	}
	value, found, err := g.store.Get(ctx, key.StoreScope(), key.Field)
	switch {
	case err != nil:
		metrics.ObserveCacheLookup("error")
		g.logger.Warn("cache read failed; treating as miss", zap.Stringer("key", key), zap.Error(err))
		return "", false
	case !found:
		metrics.ObserveCacheLookup("miss")
		return "", false
	default:
		metrics.ObserveCacheLookup("hit")
		return value, true
	}
}
