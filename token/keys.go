package token

import (
	"context"
)

// KeyProvider retrieves verification keys.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: ErrKeyNotFound when no key matches keyID.
type KeyProvider interface {
	// GetKey returns the key for the given key ID.
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider provides a single fixed key, whatever the key ID.
type StaticKeyProvider struct {
	key any
}

// NewStaticKeyProvider creates a static key provider. key is a []byte
// secret for HS256 or an *rsa.PublicKey for RS256.
func NewStaticKeyProvider(key any) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key.
func (p *StaticKeyProvider) GetKey(_ context.Context, _ string) (any, error) {
	if p.key == nil {
		return nil, ErrKeyNotFound
	}
	return p.key, nil
}

var _ KeyProvider = (*StaticKeyProvider)(nil)
