package auth

import (
	"context"
	"crypto/x509"
	"sort"
	"strings"
)

// CredentialKind names a shape of credential material.
type CredentialKind string

const (
	KindPassword    CredentialKind = "password"
	KindCertificate CredentialKind = "certificate"
	KindAssertion   CredentialKind = "assertion"
	KindToken       CredentialKind = "token"
)

// Credential is raw credential material supplied by a caller.
//
// Complete reports whether the material is structurally sufficient to try
// authentication. Incomplete material makes a strategy abstain.
type Credential interface {
	Kind() CredentialKind
	Complete() bool
}

// PasswordCredential is a username and password pair.
type PasswordCredential struct {
	Username string
	Password string
}

func (PasswordCredential) Kind() CredentialKind { return KindPassword }

func (c PasswordCredential) Complete() bool {
	return strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Password) != ""
}

// CertificateCredential is a client certificate chain, leaf first.
type CertificateCredential struct {
	Chain []*x509.Certificate
}

func (CertificateCredential) Kind() CredentialKind { return KindCertificate }

func (c CertificateCredential) Complete() bool {
	return len(c.Chain) > 0 && c.Chain[0] != nil
}

// Leaf returns the first certificate of the chain.
func (c CertificateCredential) Leaf() *x509.Certificate {
	if len(c.Chain) == 0 {
		return nil
	}
	return c.Chain[0]
}

// Trusted assertion property names.
const (
	PropUniqueID     = "uniqueId"
	PropUserID       = "userId"
	PropSecurityName = "securityName"
	PropRealm        = "realm"
	PropCacheKey     = "cacheKey"
	PropAuthProvider = "authProvider"
	PropToken        = "token"
	PropPassword     = "password"
)

// AssertionCredential is a property bag asserted by an upstream trusted
// component.
type AssertionCredential struct {
	Properties map[string]string
}

// NewAssertion builds an assertion from alternating name, value pairs.
func NewAssertion(kv ...string) AssertionCredential {
	props := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		props[kv[i]] = kv[i+1]
	}
	return AssertionCredential{Properties: props}
}

func (AssertionCredential) Kind() CredentialKind { return KindAssertion }

func (c AssertionCredential) Complete() bool {
	for _, v := range c.Properties {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// Get returns the trimmed property value, or "".
func (c AssertionCredential) Get(name string) string {
	return strings.TrimSpace(c.Properties[name])
}

// Has reports whether the property is present and not blank.
func (c AssertionCredential) Has(name string) bool {
	return c.Get(name) != ""
}

// TokenCredential is an opaque authentication token.
type TokenCredential struct {
	Bytes []byte
}

func (TokenCredential) Kind() CredentialKind { return KindToken }

func (c TokenCredential) Complete() bool {
	return len(c.Bytes) > 0
}

// Channel supplies credential material on demand.
//
// Request returns (nil, false) when the caller did not supply the kind; a
// missing credential is never an error.
type Channel interface {
	Request(ctx context.Context, kind CredentialKind) (Credential, bool)
}

// StaticChannel is a Channel over credentials known up front.
type StaticChannel map[CredentialKind]Credential

// NewStaticChannel builds a channel holding creds, keyed by kind.
func NewStaticChannel(creds ...Credential) StaticChannel {
	ch := make(StaticChannel, len(creds))
	for _, c := range creds {
		if c != nil {
			ch[c.Kind()] = c
		}
	}
	return ch
}

// Request returns the credential of the given kind.
func (ch StaticChannel) Request(_ context.Context, kind CredentialKind) (Credential, bool) {
	c, ok := ch[kind]
	if !ok || c == nil || c.Kind() != kind {
		return nil, false
	}
	return c, true
}

// CredentialBag collects credentials resolved during an attempt.
type CredentialBag struct {
	items map[CredentialKind]Credential
}

// NewCredentialBag returns an empty bag.
func NewCredentialBag() *CredentialBag {
	return &CredentialBag{items: make(map[CredentialKind]Credential)}
}

// Put stores c under its kind.
func (b *CredentialBag) Put(c Credential) {
	b.items[c.Kind()] = c
}

// Get returns the credential of the given kind.
func (b *CredentialBag) Get(kind CredentialKind) (Credential, bool) {
	c, ok := b.items[kind]
	return c, ok
}

// Kinds returns the kinds held, sorted.
func (b *CredentialBag) Kinds() []CredentialKind {
	kinds := make([]CredentialKind, 0, len(b.items))
	for k := range b.items {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// RequestCredential looks for a credential of type T, first among the
// credentials published in state, then on the channel.
func RequestCredential[T Credential](ctx context.Context, ch Channel, state *SharedState, kind CredentialKind) (T, bool) {
	var zero T
	if bag, ok := Get(state, StateCredentials); ok && bag != nil {
		if c, ok := bag.Get(kind); ok {
			if t, ok := c.(T); ok {
				return t, true
			}
		}
	}
	if ch == nil {
		return zero, false
	}
	c, ok := ch.Request(ctx, kind)
	if !ok || c == nil {
		return zero, false
	}
	t, ok := c.(T)
	return t, ok
}
