package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/authchain/auth"
)

// JWT "typ" header values.
const (
	TypeToken     = "authchain-token"
	TypeAssertion = "authchain-assertion"
)

// DefaultTTL is the token lifetime when Config.TTL is zero.
const DefaultTTL = time.Hour

// Config configures signing and verification.
//
// Set Secret for HS256, or PrivateKey and/or Keys for RS256. A codec with
// only Keys can verify but not sign.
type Config struct {
	// Issuer is written to and required in the iss claim. Optional.
	Issuer string

	// TTL is the lifetime of issued tokens. Default: 1 hour.
	TTL time.Duration

	// Leeway tolerates clock skew when checking exp and iat.
	Leeway time.Duration

	// Secret is the HS256 shared secret.
	Secret []byte

	// PrivateKey signs RS256 tokens.
	PrivateKey *rsa.PrivateKey

	// KeyID is written to the kid header when signing.
	KeyID string

	// Keys provides RS256 verification keys. Defaults to the public half
	// of PrivateKey.
	Keys KeyProvider

	// Now overrides the clock. Used in tests.
	Now func() time.Time
}

// signer holds the JWT mechanics shared by Codec and Assertions.
type signer struct {
	method  jwt.SigningMethod
	signKey any
	keys    KeyProvider
	cfg     Config
}

func newSigner(cfg Config) (*signer, error) {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl", ErrConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	rsaConfigured := cfg.PrivateKey != nil || cfg.Keys != nil
	switch {
	case len(cfg.Secret) > 0 && rsaConfigured:
		return nil, fmt.Errorf("%w: both secret and RSA keys configured", ErrConfig)
	case len(cfg.Secret) > 0:
		if len(cfg.Secret) < 32 {
			return nil, fmt.Errorf("%w: HS256 secret must be at least 32 bytes", ErrConfig)
		}
		return &signer{
			method:  jwt.SigningMethodHS256,
			signKey: cfg.Secret,
			keys:    NewStaticKeyProvider(cfg.Secret),
			cfg:     cfg,
		}, nil
	case rsaConfigured:
		s := &signer{method: jwt.SigningMethodRS256, keys: cfg.Keys, cfg: cfg}
		if cfg.PrivateKey != nil {
			s.signKey = cfg.PrivateKey
			if s.keys == nil {
				s.keys = NewStaticKeyProvider(&cfg.PrivateKey.PublicKey)
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: no signing or verification key", ErrConfig)
	}
}

func (s *signer) sign(typ string, claims jwt.Claims) ([]byte, error) {
	if s.signKey == nil {
		return nil, ErrCannotSign
	}
	tok := jwt.NewWithClaims(s.method, claims)
	tok.Header["typ"] = typ
	if s.cfg.KeyID != "" {
		tok.Header["kid"] = s.cfg.KeyID
	}
	out, err := tok.SignedString(s.signKey)
	if err != nil {
		return nil, fmt.Errorf("token: sign: %w", err)
	}
	return []byte(out), nil
}

func (s *signer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	now := s.cfg.Now()
	return jwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *signer) parse(ctx context.Context, typ string, raw []byte, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithTimeFunc(s.cfg.Now),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	tok, err := jwt.ParseWithClaims(string(raw), claims, func(t *jwt.Token) (any, error) {
		if got, _ := t.Header["typ"].(string); got != typ {
			return nil, fmt.Errorf("unexpected typ %q", got)
		}
		kid, _ := t.Header["kid"].(string)
		return s.keys.GetKey(ctx, kid)
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !tok.Valid {
		return ErrInvalid
	}
	return nil
}

// Token is a decoded authentication token.
type Token struct {
	AccessID   string
	Attributes map[string]string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// AccessIDAttribute returns the access id the token was issued for.
func (t *Token) AccessIDAttribute() string { return t.AccessID }

// Attribute returns a named token attribute.
func (t *Token) Attribute(name string) (string, bool) {
	v, ok := t.Attributes[name]
	return v, ok
}

// Expiration returns when the token expires.
func (t *Token) Expiration() time.Time { return t.ExpiresAt }

type tokenClaims struct {
	AccessID string            `json:"accessId"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	jwt.RegisteredClaims
}

// Codec encodes and decodes authentication tokens.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: Decode returns ErrExpired or ErrInvalid, never anything else.
type Codec struct {
	s *signer
}

// NewCodec creates a codec.
func NewCodec(cfg Config) (*Codec, error) {
	s, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}
	return &Codec{s: s}, nil
}

// Issue creates a token for accessID valid for ttl. A zero ttl uses the
// configured TTL.
func (c *Codec) Issue(accessID string, attrs map[string]string, ttl time.Duration) ([]byte, error) {
	if _, err := auth.ParseAccessID(accessID); err != nil {
		return nil, fmt.Errorf("token: issue: %w", err)
	}
	claims := tokenClaims{
		AccessID:         accessID,
		Attrs:            maps.Clone(attrs),
		RegisteredClaims: c.s.registered(accessID, ttl),
	}
	return c.s.sign(TypeToken, claims)
}

// Encode signs t. Zero timestamps are filled from the configured TTL.
func (c *Codec) Encode(t *Token) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("token: encode: nil token")
	}
	claims := tokenClaims{
		AccessID:         t.AccessID,
		Attrs:            maps.Clone(t.Attributes),
		RegisteredClaims: c.s.registered(t.AccessID, 0),
	}
	if !t.IssuedAt.IsZero() {
		claims.IssuedAt = jwt.NewNumericDate(t.IssuedAt)
	}
	if !t.ExpiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(t.ExpiresAt)
	}
	return c.s.sign(TypeToken, claims)
}

// Decode verifies raw and returns the token.
func (c *Codec) Decode(ctx context.Context, raw []byte) (auth.Token, error) {
	var claims tokenClaims
	if err := c.s.parse(ctx, TypeToken, raw, &claims); err != nil {
		return nil, err
	}
	if claims.AccessID == "" {
		return nil, fmt.Errorf("%w: missing accessId claim", ErrInvalid)
	}
	t := &Token{
		AccessID:   claims.AccessID,
		Attributes: claims.Attrs,
	}
	if claims.IssuedAt != nil {
		t.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time
	}
	return t, nil
}

var _ auth.TokenCodec = (*Codec)(nil)
