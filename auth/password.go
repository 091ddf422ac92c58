package auth

import (
	"context"
	"errors"
)

// NameResolver derives the principal display name from a verified
// identifier. Resolvers may differ in presentation but must not change
// the access id.
type NameResolver func(ctx context.Context, store IdentityStore, verifiedID string) (string, error)

// DisplayNameResolver resolves names through the store.
func DisplayNameResolver(ctx context.Context, store IdentityStore, verifiedID string) (string, error) {
	return store.ResolveDisplayName(ctx, verifiedID)
}

// QualifiedNameResolver prefixes the display name with qualifier, as
// platforms that present "DOMAIN\name" do.
func QualifiedNameResolver(qualifier string) NameResolver {
	return func(ctx context.Context, store IdentityStore, verifiedID string) (string, error) {
		name, err := store.ResolveDisplayName(ctx, verifiedID)
		if err != nil || qualifier == "" {
			return name, err
		}
		return qualifier + `\` + name, nil
	}
}

// PasswordOptions configures a PasswordStrategy.
type PasswordOptions struct {
	// Names resolves display names. Default: DisplayNameResolver.
	Names NameResolver

	// Audit observes every verification outcome.
	Audit AuditFunc
}

// PasswordStrategy authenticates a username and password against an
// identity store.
type PasswordStrategy struct {
	AttemptState
	store IdentityStore
	opts  PasswordOptions
}

// NewPasswordStrategy creates a password strategy.
func NewPasswordStrategy(store IdentityStore, opts PasswordOptions) *PasswordStrategy {
	if opts.Names == nil {
		opts.Names = DisplayNameResolver
	}
	return &PasswordStrategy{store: store, opts: opts}
}

// Name returns "password".
func (s *PasswordStrategy) Name() string { return "password" }

// Attempt verifies the password credential.
func (s *PasswordStrategy) Attempt(ctx context.Context, ch Channel, state *SharedState) (Outcome, error) {
	if !s.Begin(state) {
		return Abstained, nil
	}
	cred, ok := RequestCredential[PasswordCredential](ctx, ch, state, KindPassword)
	if !ok || !cred.Complete() {
		return Abstained, nil
	}
	s.Claim(state, s.Name(), cred)

	subject, err := verifyPassword(ctx, s.Name(), s.store, s.opts, cred.Username, cred.Password)
	if err != nil {
		return Abstained, err
	}
	subject.Principal.Method = MethodPassword
	s.Resolve(subject, nil)
	return Authenticated, nil
}

// verifyPassword checks a password and builds the subject for the
// verified identity. Every outcome is reported to opts.Audit.
func verifyPassword(ctx context.Context, strategy string, store IdentityStore, opts PasswordOptions, username, password string) (*Subject, error) {
	subject, err := buildPasswordSubject(ctx, strategy, store, opts, username, password)
	ev := AuditEvent{Strategy: strategy, User: username, Outcome: Authenticated}
	if err != nil {
		ev.Outcome = Abstained
		ev.Reason = ReasonOf(err)
	}
	opts.Audit.emit(ctx, ev)
	return subject, err
}

func buildPasswordSubject(ctx context.Context, strategy string, store IdentityStore, opts PasswordOptions, username, password string) (*Subject, error) {
	if store == nil {
		return nil, NewFailure(ReasonConfiguration, strategy, errors.New("no identity store"))
	}
	verified, err := store.VerifyPassword(ctx, username, password)
	if err != nil {
		return nil, StoreFailure(strategy, err, ReasonBadCredentials)
	}
	if verified == "" {
		return nil, NewFailure(ReasonBadCredentials, strategy, nil)
	}

	uniqueID, err := store.ResolveUniqueID(ctx, verified)
	if err != nil {
		return nil, StoreFailure(strategy, err, ReasonBadCredentials)
	}
	if uniqueID == "" {
		return nil, NewFailure(ReasonBadCredentials, strategy, nil)
	}
	names := opts.Names
	if names == nil {
		names = DisplayNameResolver
	}
	display, err := names(ctx, store, verified)
	if err != nil {
		return nil, StoreFailure(strategy, err, ReasonBadCredentials)
	}
	if display == "" {
		display = verified
	}

	realm := store.Realm()
	subject := NewSubject()
	subject.Principal = &Principal{
		Name:     display,
		AccessID: NewAccessID(AccessIDUser, realm, uniqueID),
		Method:   MethodPassword,
	}
	subject.Public[AttrUniqueID] = uniqueID
	subject.Public[AttrSecurityName] = verified
	subject.Public[AttrRealm] = realm
	subject.Public[AttrAccessID] = subject.Principal.AccessID.String()
	return subject, nil
}
