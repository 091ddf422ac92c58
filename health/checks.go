package health

import (
	"context"
	"errors"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/store"
	"github.com/jonwraymond/authchain/token"
)

// DefaultProbeName is looked up by store checkers when no probe is given.
const DefaultProbeName = "authchain-health-probe"

// StoreChecker probes an identity store with a unique id lookup.
type StoreChecker struct {
	name  string
	store auth.IdentityStore
	probe string
}

// NewStoreChecker creates a store checker. probe is the account name to
// resolve; a missing or revoked account still counts as healthy.
func NewStoreChecker(name string, s auth.IdentityStore, probe string) *StoreChecker {
	if probe == "" {
		probe = DefaultProbeName
	}
	return &StoreChecker{name: name, store: s, probe: probe}
}

// Name returns the checker name.
func (c *StoreChecker) Name() string { return c.name }

// Check resolves the probe account.
func (c *StoreChecker) Check(ctx context.Context) Result {
	_, err := c.store.ResolveUniqueID(ctx, c.probe)
	details := map[string]any{"realm": c.store.Realm()}
	switch {
	case err == nil, errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrUserRevoked):
		return Healthy("identity store reachable").WithDetails(details)
	case errors.Is(err, store.ErrCircuitOpen):
		return Unhealthy("identity store circuit open", err).WithDetails(details)
	case errors.Is(err, auth.ErrStoreUnavailable):
		return Unhealthy("identity store unavailable", err).WithDetails(details)
	default:
		return Degraded("identity store returned an unexpected error").WithDetails(details)
	}
}

// CircuitStater reports circuit breaker state. *store.Guarded implements it.
type CircuitStater interface {
	State() store.CircuitState
}

// NewCircuitChecker reports an open circuit as unhealthy and a half-open
// one as degraded. It never calls the store.
func NewCircuitChecker(name string, g CircuitStater) Checker {
	return NewCheckerFunc(name, func(context.Context) Result {
		state := g.State()
		details := map[string]any{"state": state.String()}
		switch state {
		case store.CircuitOpen:
			return Unhealthy("circuit open", store.ErrCircuitOpen).WithDetails(details)
		case store.CircuitHalfOpen:
			return Degraded("circuit probing").WithDetails(details)
		default:
			return Healthy("circuit closed").WithDetails(details)
		}
	})
}

// NewKeyChecker checks that a token verification key for keyID can be
// obtained, fetching a JWKS when needed.
func NewKeyChecker(name string, keys token.KeyProvider, keyID string) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		if _, err := keys.GetKey(ctx, keyID); err != nil {
			return Unhealthy("verification key unavailable", err)
		}
		return Healthy("verification key available")
	})
}

// Pinger is implemented by the persistent lookup cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewCacheChecker reports a failing cache as degraded. Lookups still reach
// the identity store without it.
func NewCacheChecker(name string, p Pinger) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		if err := p.Ping(ctx); err != nil {
			return Degraded("lookup cache unavailable").WithDetails(map[string]any{"error": err.Error()})
		}
		return Healthy("lookup cache available")
	})
}
