package store

import (
	"context"
	"crypto/x509"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/cache"
)

// Cached is an identity store decorator that caches name lookups.
//
// ResolveDisplayName, ResolveUniqueID and DisplayNameByUniqueID results are
// cached per realm.
// VerifyPassword and MapCertificate always reach the underlying store.
type Cached struct {
	next   auth.IdentityStore
	loader *cache.Loader
	keyer  cache.Keyer
}

// NewCached wraps next. A nil cache uses a MemoryCache with policy.
func NewCached(next auth.IdentityStore, c cache.Cache, policy cache.Policy) *Cached {
	if c == nil {
		c = cache.NewMemoryCache(policy)
	}
	return &Cached{
		next:   next,
		loader: cache.NewLoader(c, policy),
		keyer:  cache.NewHashKeyer("identity"),
	}
}

// Realm returns the underlying store realm.
func (c *Cached) Realm() string { return c.next.Realm() }

// VerifyPassword delegates to the underlying store.
func (c *Cached) VerifyPassword(ctx context.Context, name, password string) (string, error) {
	return c.next.VerifyPassword(ctx, name, password)
}

// MapCertificate delegates to the underlying store.
func (c *Cached) MapCertificate(ctx context.Context, chain []*x509.Certificate) (string, error) {
	return c.next.MapCertificate(ctx, chain)
}

// ResolveDisplayName returns the cached display name or loads it.
func (c *Cached) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	return c.loader.Load(ctx, c.keyer.Key("display", c.next.Realm(), id), func(ctx context.Context) (string, error) {
		return c.next.ResolveDisplayName(ctx, id)
	})
}

// ResolveUniqueID returns the cached unique id or loads it.
func (c *Cached) ResolveUniqueID(ctx context.Context, name string) (string, error) {
	return c.loader.Load(ctx, c.keyer.Key("unique", c.next.Realm(), name), func(ctx context.Context) (string, error) {
		return c.next.ResolveUniqueID(ctx, name)
	})
}

// DisplayNameByUniqueID returns the cached display name for an exact
// unique id or loads it.
func (c *Cached) DisplayNameByUniqueID(ctx context.Context, uniqueID string) (string, error) {
	return c.loader.Load(ctx, c.keyer.Key("display-uid", c.next.Realm(), uniqueID), func(ctx context.Context) (string, error) {
		return auth.DisplayNameByUniqueID(ctx, c.next, uniqueID)
	})
}

// Invalidate drops cached lookups for id. Revoking a user takes effect on
// cached lookups once they are invalidated or expire.
func (c *Cached) Invalidate(ctx context.Context, id string) {
	for _, kind := range []string{"display", "unique", "display-uid"} {
		c.loader.Forget(ctx, c.keyer.Key(kind, c.next.Realm(), id))
	}
}

var (
	_ auth.IdentityStore    = (*Cached)(nil)
	_ auth.UniqueIDResolver = (*Cached)(nil)
)
