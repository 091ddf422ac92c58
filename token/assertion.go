package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/authchain/auth"
)

type assertionClaims struct {
	UniqueID     string `json:"uniqueId"`
	SecurityName string `json:"securityName"`
	Realm        string `json:"realm,omitempty"`
	AuthProvider string `json:"authProvider,omitempty"`
	jwt.RegisteredClaims
}

// Assertions signs and verifies self-contained signed assertions.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Recognizes does not verify signatures.
type Assertions struct {
	s *signer
}

// NewAssertions creates an assertion signer and verifier.
func NewAssertions(cfg Config) (*Assertions, error) {
	s, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}
	return &Assertions{s: s}, nil
}

// Sign creates an assertion valid for ttl. A zero ttl uses the configured
// TTL.
func (a *Assertions) Sign(sa auth.SignedAssertion, ttl time.Duration) ([]byte, error) {
	if sa.UniqueID == "" || sa.SecurityName == "" {
		return nil, fmt.Errorf("token: assertion requires uniqueId and securityName")
	}
	return a.s.sign(TypeAssertion, assertionClaims{
		UniqueID:         sa.UniqueID,
		SecurityName:     sa.SecurityName,
		Realm:            sa.Realm,
		AuthProvider:     sa.AuthProvider,
		RegisteredClaims: a.s.registered(sa.SecurityName, ttl),
	})
}

// Recognizes reports whether raw is shaped like a signed assertion.
func (a *Assertions) Recognizes(raw []byte) bool {
	tok, _, err := jwt.NewParser().ParseUnverified(string(raw), &assertionClaims{})
	if err != nil {
		return false
	}
	typ, _ := tok.Header["typ"].(string)
	return typ == TypeAssertion
}

// Verify checks the signature and lifetime of raw and returns its claims.
func (a *Assertions) Verify(ctx context.Context, raw []byte) (auth.SignedAssertion, error) {
	var claims assertionClaims
	if err := a.s.parse(ctx, TypeAssertion, raw, &claims); err != nil {
		return auth.SignedAssertion{}, err
	}
	return auth.SignedAssertion{
		UniqueID:     claims.UniqueID,
		SecurityName: claims.SecurityName,
		Realm:        claims.Realm,
		AuthProvider: claims.AuthProvider,
	}, nil
}

var _ auth.AssertionVerifier = (*Assertions)(nil)
