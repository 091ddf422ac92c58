package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoadFunc loads a value on a cache miss.
type LoadFunc func(ctx context.Context) (string, error)

// Loader fronts lookups with a cache. Concurrent misses for the same key
// share one load, bounded by the policy's load timeout. Errors and empty
// values are not cached.
type Loader struct {
	cache  Cache
	policy Policy
	group  singleflight.Group
}

// NewLoader creates a loader.
func NewLoader(c Cache, policy Policy) *Loader {
	return &Loader{cache: c, policy: policy}
}

// Load returns the cached value for key or calls load and caches its
// result.
func (l *Loader) Load(ctx context.Context, key string, load LoadFunc) (string, error) {
	if l == nil || l.cache == nil || !l.policy.ShouldCache() || ValidateKey(key) != nil {
		return load(ctx)
	}
	if v, ok := l.cache.Get(ctx, key); ok {
		return string(v), nil
	}

	// The load is detached from ctx; each caller stops waiting on its own.
	ch := l.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.policy.EffectiveLoadTimeout())
		defer cancel()
		s, err := load(lctx)
		if err != nil {
			return "", err
		}
		if s != "" {
			_ = l.cache.Set(lctx, key, []byte(s), l.policy.EffectiveTTL(0))
		}
		return s, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Forget removes key from the cache.
func (l *Loader) Forget(ctx context.Context, key string) {
	if l != nil && l.cache != nil {
		_ = l.cache.Delete(ctx, key)
	}
}

// TTL returns the effective TTL of cached entries.
func (l *Loader) TTL() time.Duration {
	return l.policy.EffectiveTTL(0)
}
