package auth

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// CollectiveRealm is the realm of server identities proven by a
// collective certificate.
const CollectiveRealm = "collective"

// CollectiveTrust recognizes and verifies certificates issued by a
// cluster or collective authority.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
type CollectiveTrust interface {
	// IsCollectiveIssuer reports whether the chain's issuer is a
	// collective authority.
	IsCollectiveIssuer(chain []*x509.Certificate) bool

	// Verify checks the chain against the collective trust anchors.
	Verify(ctx context.Context, chain []*x509.Certificate) error
}

// CertificateMatch is the identity a certificate authenticator derives
// from a chain.
type CertificateMatch struct {
	Type     AccessIDType
	Realm    string
	Username string
}

// CertificateAuthenticator is a plugin that maps certificate chains
// directly to identities.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use. The
//     match is returned rather than held in plugin fields.
//   - ok is false when the plugin does not recognize the chain.
type CertificateAuthenticator interface {
	AuthenticateCertificateChain(ctx context.Context, chain []*x509.Certificate) (match CertificateMatch, ok bool)
}

// CertificateAuthenticatorFunc adapts a function to CertificateAuthenticator.
type CertificateAuthenticatorFunc func(ctx context.Context, chain []*x509.Certificate) (CertificateMatch, bool)

// AuthenticateCertificateChain calls f.
func (f CertificateAuthenticatorFunc) AuthenticateCertificateChain(ctx context.Context, chain []*x509.Certificate) (CertificateMatch, bool) {
	return f(ctx, chain)
}

// CertificateAuthenticators is a registry of certificate authenticator
// plugins keyed by name.
//
// Plugins are consulted in name order and the first match wins. Having two
// plugins match the same chain is a configuration mistake; which one wins
// should not be relied on.
type CertificateAuthenticators struct {
	mu      sync.RWMutex
	plugins map[string]CertificateAuthenticator
}

// NewCertificateAuthenticators creates an empty registry.
func NewCertificateAuthenticators() *CertificateAuthenticators {
	return &CertificateAuthenticators{plugins: make(map[string]CertificateAuthenticator)}
}

// Register adds a plugin. It returns an error if the name is taken.
func (r *CertificateAuthenticators) Register(name string, p CertificateAuthenticator) error {
	if name == "" || p == nil {
		return fmt.Errorf("%w: certificate authenticator requires a name and implementation", ErrConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("%w: certificate authenticator %q already registered", ErrConfiguration, name)
	}
	r.plugins[name] = p
	return nil
}

// Unregister removes a plugin.
func (r *CertificateAuthenticators) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, name)
}

// Names returns the registered plugin names, sorted.
func (r *CertificateAuthenticators) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Match returns the first plugin match in name order.
func (r *CertificateAuthenticators) Match(ctx context.Context, chain []*x509.Certificate) (string, CertificateMatch, bool) {
	if r == nil {
		return "", CertificateMatch{}, false
	}
	for _, name := range r.Names() {
		r.mu.RLock()
		p := r.plugins[name]
		r.mu.RUnlock()
		if p == nil {
			continue
		}
		if m, ok := p.AuthenticateCertificateChain(ctx, chain); ok {
			return name, m, true
		}
	}
	return "", CertificateMatch{}, false
}

// CertificateOptions configures a CertificateStrategy.
type CertificateOptions struct {
	// Collective verifies collective certificates. Optional.
	Collective CollectiveTrust

	// Plugins maps chains directly to identities. Optional.
	Plugins *CertificateAuthenticators

	// Audit observes every verification outcome.
	Audit AuditFunc
}

// CertificateStrategy authenticates a client certificate chain.
//
// Paths, first match wins: collective trust, certificate authenticator
// plugins, identity store mapping.
type CertificateStrategy struct {
	AttemptState
	store IdentityStore
	opts  CertificateOptions
}

// NewCertificateStrategy creates a certificate strategy.
func NewCertificateStrategy(store IdentityStore, opts CertificateOptions) *CertificateStrategy {
	return &CertificateStrategy{store: store, opts: opts}
}

// Name returns "certificate".
func (s *CertificateStrategy) Name() string { return "certificate" }

// Attempt verifies the certificate credential.
func (s *CertificateStrategy) Attempt(ctx context.Context, ch Channel, state *SharedState) (Outcome, error) {
	if !s.Begin(state) {
		return Abstained, nil
	}
	cred, ok := RequestCredential[CertificateCredential](ctx, ch, state, KindCertificate)
	if !ok || !cred.Complete() {
		return Abstained, nil
	}
	s.Claim(state, s.Name(), cred)

	subject, err := s.verify(ctx, cred.Chain)
	ev := AuditEvent{Strategy: s.Name(), User: cred.Leaf().Subject.String(), Outcome: Authenticated}
	if err != nil {
		ev.Outcome = Abstained
		ev.Reason = ReasonOf(err)
	}
	s.opts.Audit.emit(ctx, ev)
	if err != nil {
		return Abstained, err
	}
	s.Resolve(subject, nil)
	return Authenticated, nil
}

func (s *CertificateStrategy) verify(ctx context.Context, chain []*x509.Certificate) (*Subject, error) {
	leaf := chain[0]

	if c := s.opts.Collective; c != nil && c.IsCollectiveIssuer(chain) {
		if err := c.Verify(ctx, chain); err != nil {
			return nil, NewFailure(ReasonBadCredentials, s.Name(), err)
		}
		dn := leaf.Subject.String()
		return certificateSubject(NewAccessID(AccessIDServer, CollectiveRealm, dn), dn, "collective"), nil
	}

	if name, m, ok := s.opts.Plugins.Match(ctx, chain); ok {
		typ := m.Type
		if typ == "" {
			typ = AccessIDUser
		}
		if !typ.Valid() || m.Realm == "" || m.Username == "" {
			return nil, NewFailure(ReasonConfiguration, s.Name(),
				fmt.Errorf("certificate authenticator %q returned incomplete identity", name))
		}
		return certificateSubject(NewAccessID(typ, m.Realm, m.Username), m.Username, name), nil
	}

	if s.store == nil {
		return nil, NewFailure(ReasonCertificateNotMapped, s.Name(), errors.New("no identity store"))
	}
	id, err := s.store.MapCertificate(ctx, chain)
	if err != nil {
		return nil, StoreFailure(s.Name(), err, ReasonCertificateNotMapped)
	}
	if id == "" {
		return nil, NewFailure(ReasonCertificateNotMapped, s.Name(), nil)
	}
	uniqueID, err := s.store.ResolveUniqueID(ctx, id)
	if err != nil {
		return nil, StoreFailure(s.Name(), err, ReasonCertificateNotMapped)
	}
	if uniqueID == "" {
		uniqueID = id
	}
	display, err := s.store.ResolveDisplayName(ctx, id)
	if err != nil {
		return nil, StoreFailure(s.Name(), err, ReasonCertificateNotMapped)
	}
	if display == "" {
		display = id
	}
	return certificateSubject(NewAccessID(AccessIDUser, s.store.Realm(), uniqueID), display, ""), nil
}

func certificateSubject(id AccessID, display, provider string) *Subject {
	subject := NewSubject()
	subject.Principal = &Principal{Name: display, AccessID: id, Method: MethodCertificate}
	subject.Public[AttrUniqueID] = id.UniqueID
	subject.Public[AttrSecurityName] = display
	subject.Public[AttrRealm] = id.Realm
	subject.Public[AttrAccessID] = id.String()
	if provider != "" {
		subject.Public[AttrAuthProvider] = provider
	}
	return subject
}
