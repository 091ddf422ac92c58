package auth

import (
	"context"
	"crypto/x509"
)

// Outcome is the non-failure result of an attempt.
type Outcome int

const (
	// Abstained means the strategy found no applicable credential material.
	Abstained Outcome = iota

	// Authenticated means the strategy verified the caller and holds a
	// temporary subject awaiting commit.
	Authenticated
)

func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	default:
		return "abstained"
	}
}

// Strategy is one authentication scheme in a chain.
//
// Contract:
//   - Concurrency: instances hold attempt-local state and must not be
//     shared across attempts. Build a fresh instance per attempt.
//   - Attempt: returns (Abstained, nil) when credential material is absent
//     or incomplete, or when the shared state is already processed. A
//     non-nil error is always a *Failure and ends the attempt.
//   - Commit: returns true only on the instance that authenticated.
//   - Abort and Logout: always return true and are idempotent.
type Strategy interface {
	// Name returns the strategy name used in logs and failures.
	Name() string

	// Attempt tries to authenticate with material from ch.
	Attempt(ctx context.Context, ch Channel, state *SharedState) (Outcome, error)

	// Commit promotes the temporary subject into live.
	Commit(ctx context.Context, live *Subject, sso SSOSink) bool

	// Abort discards attempt-local state.
	Abort(ctx context.Context) bool

	// Logout tears down a committed session.
	Logout(ctx context.Context) bool
}

// StrategyFactory builds a fresh strategy instance.
type StrategyFactory func() (Strategy, error)

// IdentityStore verifies credentials and resolves identifiers.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: ErrNotFound when nothing matches; ErrStoreUnavailable when the
//     backend cannot be reached. VerifyPassword may also return
//     ErrBadCredentials, ErrPasswordExpired or ErrUserRevoked. MapCertificate
//     and ResolveUniqueID return ErrUserRevoked for revoked accounts. When
//     ctx is done the context error is returned as is. An empty identifier
//     with a nil error is treated as not found.
type IdentityStore interface {
	// VerifyPassword checks the password and returns the verified identifier.
	VerifyPassword(ctx context.Context, name, password string) (string, error)

	// MapCertificate maps the leaf certificate to an account identifier.
	MapCertificate(ctx context.Context, chain []*x509.Certificate) (string, error)

	// ResolveDisplayName returns the display name for an identifier.
	ResolveDisplayName(ctx context.Context, id string) (string, error)

	// ResolveUniqueID returns the unique id for a name or identifier.
	ResolveUniqueID(ctx context.Context, name string) (string, error)

	// Realm returns the store realm.
	Realm() string
}

// UniqueIDResolver is implemented by identity stores that can find a user
// by unique id alone, without also matching login names.
type UniqueIDResolver interface {
	// DisplayNameByUniqueID returns the display name of the user with
	// exactly this unique id. Revoked users report ErrUserRevoked.
	DisplayNameByUniqueID(ctx context.Context, uniqueID string) (string, error)
}

// DisplayNameByUniqueID resolves a display name from a unique id, using
// the store's UniqueIDResolver when it has one.
func DisplayNameByUniqueID(ctx context.Context, store IdentityStore, uniqueID string) (string, error) {
	if r, ok := store.(UniqueIDResolver); ok {
		return r.DisplayNameByUniqueID(ctx, uniqueID)
	}
	return store.ResolveDisplayName(ctx, uniqueID)
}

// SSO attribute names written at commit.
const (
	SSORealm        = "sso.realm"
	SSOCacheKey     = "sso.cacheKey"
	SSOAuthProvider = "sso.authProvider"
)

// SSOSink receives single-sign-on attributes at commit.
type SSOSink interface {
	AddAttribute(name, value string)
}

// MapSSOSink is an SSOSink backed by a map.
type MapSSOSink map[string]string

// AddAttribute stores the attribute.
func (m MapSSOSink) AddAttribute(name, value string) {
	m[name] = value
}

// AuditEvent describes a credential verification outcome.
type AuditEvent struct {
	Strategy string
	User     string
	Reason   Reason
	Outcome  Outcome
}

// Succeeded reports whether the verification succeeded.
func (e AuditEvent) Succeeded() bool {
	return e.Outcome == Authenticated
}

// AuditFunc observes verification outcomes.
type AuditFunc func(ctx context.Context, ev AuditEvent)

func (f AuditFunc) emit(ctx context.Context, ev AuditEvent) {
	if f != nil {
		f(ctx, ev)
	}
}
