package auth

import (
	"context"
	"errors"
	"time"
)

// Token is a decoded authentication token.
type Token interface {
	// AccessIDAttribute returns the access id the token was issued for.
	AccessIDAttribute() string

	// Attribute returns a named token attribute.
	Attribute(name string) (string, bool)

	// Expiration returns when the token stops being valid.
	Expiration() time.Time
}

// TokenCodec decodes opaque tokens.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: Decode returns an error matching ErrExpiredToken for expired
//     tokens and ErrInvalidToken for anything structurally wrong.
type TokenCodec interface {
	Decode(ctx context.Context, raw []byte) (Token, error)
}

// SignedAssertion is the identity carried by a self-contained signed
// assertion.
type SignedAssertion struct {
	UniqueID     string
	SecurityName string
	Realm        string
	AuthProvider string
}

// AssertionVerifier verifies self-contained signed assertions.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Recognizes is cheap and does not verify signatures.
type AssertionVerifier interface {
	Recognizes(raw []byte) bool
	Verify(ctx context.Context, raw []byte) (SignedAssertion, error)
}

// TokenOptions configures a TokenStrategy.
type TokenOptions struct {
	// Assertions verifies signed assertions. Optional.
	Assertions AssertionVerifier

	// Audit observes every verification outcome.
	Audit AuditFunc
}

// TokenStrategy authenticates an opaque token, either supplied directly or
// embedded in a trusted assertion bag.
type TokenStrategy struct {
	AttemptState
	codec TokenCodec
	store IdentityStore
	opts  TokenOptions
}

// NewTokenStrategy creates a token strategy. store may be nil when only
// server tokens and signed assertions are expected.
func NewTokenStrategy(codec TokenCodec, store IdentityStore, opts TokenOptions) *TokenStrategy {
	return &TokenStrategy{codec: codec, store: store, opts: opts}
}

// Name returns "token".
func (s *TokenStrategy) Name() string { return "token" }

// Attempt decodes the token.
func (s *TokenStrategy) Attempt(ctx context.Context, ch Channel, state *SharedState) (Outcome, error) {
	if !s.Begin(state) {
		return Abstained, nil
	}

	var (
		raw   []byte
		bag   AssertionCredential
		creds []Credential
	)
	if cred, ok := RequestCredential[TokenCredential](ctx, ch, state, KindToken); ok && cred.Complete() {
		raw = cred.Bytes
		creds = append(creds, cred)
	} else if b, ok := RequestCredential[AssertionCredential](ctx, ch, state, KindAssertion); ok && b.Has(PropToken) {
		bag = b
		raw = []byte(b.Get(PropToken))
		creds = append(creds, b)
	}
	if len(raw) == 0 {
		return Abstained, nil
	}
	s.Claim(state, s.Name(), creds...)

	var (
		subject *Subject
		err     error
	)
	if s.opts.Assertions != nil && s.opts.Assertions.Recognizes(raw) {
		subject, err = s.verifyAssertion(ctx, raw)
	} else {
		subject, err = s.decode(ctx, raw)
	}
	ev := AuditEvent{Strategy: s.Name(), Outcome: Authenticated}
	if subject != nil {
		ev.User = subject.Principal.AccessID.String()
	}
	if err != nil {
		ev.Outcome = Abstained
		ev.Reason = ReasonOf(err)
	}
	s.opts.Audit.emit(ctx, ev)
	if err != nil {
		return Abstained, err
	}

	subject.Private[AttrToken] = string(raw)
	var sso map[string]string
	if bag.Properties != nil {
		sso = decorate(subject, bag)
		subject.Private[AttrAssertion] = bag
	}
	s.Resolve(subject, sso, AttrAssertion)
	return Authenticated, nil
}

func (s *TokenStrategy) decode(ctx context.Context, raw []byte) (*Subject, error) {
	if s.codec == nil {
		return nil, NewFailure(ReasonConfiguration, s.Name(), errors.New("no token codec"))
	}
	tok, err := s.codec.Decode(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, NewFailure(ReasonExpiredToken, s.Name(), err)
		}
		return nil, NewFailure(ReasonInvalidToken, s.Name(), err)
	}
	id, err := ParseAccessID(tok.AccessIDAttribute())
	if err != nil {
		return nil, NewFailure(ReasonInvalidToken, s.Name(), err)
	}

	display := id.UniqueID
	if id.Type == AccessIDUser {
		if s.store == nil {
			return nil, NewFailure(ReasonConfiguration, s.Name(), errors.New("no identity store for user token"))
		}
		display, err = DisplayNameByUniqueID(ctx, s.store, id.UniqueID)
		if err != nil {
			return nil, StoreFailure(s.Name(), err, ReasonInvalidToken)
		}
		if display == "" {
			return nil, NewFailure(ReasonInvalidToken, s.Name(), ErrNotFound)
		}
	}

	subject := NewSubject()
	subject.Principal = &Principal{Name: display, AccessID: id, Method: MethodToken}
	subject.Public[AttrUniqueID] = id.UniqueID
	subject.Public[AttrSecurityName] = display
	subject.Public[AttrRealm] = id.Realm
	subject.Public[AttrAccessID] = id.String()
	if exp := tok.Expiration(); !exp.IsZero() {
		subject.Public[AttrTokenExpiry] = exp
	}
	return subject, nil
}

func (s *TokenStrategy) verifyAssertion(ctx context.Context, raw []byte) (*Subject, error) {
	a, err := s.opts.Assertions.Verify(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, NewFailure(ReasonExpiredToken, s.Name(), err)
		}
		return nil, NewFailure(ReasonInvalidToken, s.Name(), err)
	}
	if a.UniqueID == "" || a.SecurityName == "" {
		return nil, NewFailure(ReasonInvalidToken, s.Name(), errors.New("assertion missing uniqueId or securityName"))
	}
	id, err := ParseAccessID(a.UniqueID)
	if err != nil {
		realm := a.Realm
		if realm == "" && s.store != nil {
			realm = s.store.Realm()
		}
		if realm == "" {
			return nil, NewFailure(ReasonInvalidToken, s.Name(), errors.New("assertion has no realm"))
		}
		id = NewAccessID(AccessIDUser, realm, a.UniqueID)
	}
	subject := assertedSubject(id, a.SecurityName)
	subject.Principal.Method = MethodToken
	if a.AuthProvider != "" {
		subject.Public[AttrAuthProvider] = a.AuthProvider
	}
	return subject, nil
}
