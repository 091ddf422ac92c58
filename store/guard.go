package store

import (
	"context"
	"crypto/x509"

	"github.com/jonwraymond/authchain/auth"
)

// GuardConfig configures a Guarded store.
type GuardConfig struct {
	Circuit CircuitConfig `yaml:"circuit"`
	Retry   RetryConfig   `yaml:"retry"`
}

// Guarded is an identity store decorator that retries outages and stops
// calling a failing store until it recovers.
//
// Only errors matching auth.ErrStoreUnavailable count as outages. While the
// circuit is open every call returns ErrCircuitOpen.
type Guarded struct {
	next    auth.IdentityStore
	circuit *circuitBreaker
	retry   *retrier
}

// NewGuarded wraps next.
func NewGuarded(next auth.IdentityStore, cfg GuardConfig) *Guarded {
	return &Guarded{
		next:    next,
		circuit: newCircuitBreaker(cfg.Circuit),
		retry:   newRetrier(cfg.Retry),
	}
}

// State returns the current circuit state.
func (g *Guarded) State() CircuitState {
	return g.circuit.State()
}

// Realm returns the underlying store realm.
func (g *Guarded) Realm() string { return g.next.Realm() }

func (g *Guarded) call(ctx context.Context, op func(context.Context) (string, error)) (string, error) {
	var out string
	err := g.retry.execute(ctx, func(ctx context.Context) error {
		return g.circuit.execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = op(ctx)
			return err
		})
	})
	return out, err
}

// VerifyPassword delegates through the guard.
func (g *Guarded) VerifyPassword(ctx context.Context, name, password string) (string, error) {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		return g.next.VerifyPassword(ctx, name, password)
	})
}

// MapCertificate delegates through the guard.
func (g *Guarded) MapCertificate(ctx context.Context, chain []*x509.Certificate) (string, error) {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		return g.next.MapCertificate(ctx, chain)
	})
}

// ResolveDisplayName delegates through the guard.
func (g *Guarded) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		return g.next.ResolveDisplayName(ctx, id)
	})
}

// ResolveUniqueID delegates through the guard.
func (g *Guarded) ResolveUniqueID(ctx context.Context, name string) (string, error) {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		return g.next.ResolveUniqueID(ctx, name)
	})
}

// DisplayNameByUniqueID delegates through the guard. Stores without a
// unique id lookup fall back to ResolveDisplayName.
func (g *Guarded) DisplayNameByUniqueID(ctx context.Context, uniqueID string) (string, error) {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		return auth.DisplayNameByUniqueID(ctx, g.next, uniqueID)
	})
}

var (
	_ auth.IdentityStore    = (*Guarded)(nil)
	_ auth.UniqueIDResolver = (*Guarded)(nil)
)
