package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Keyer derives cache keys for identity lookups.
//
// Contract:
// - Determinism: same inputs must produce the same key.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key derives a key for operation op over parts.
	Key(op string, parts ...string) string
}

// HashKeyer derives keys of the form "<prefix>:<op>:<hash>" where hash is
// the first 16 hex characters of SHA-256 over the NUL-joined parts. Hashing
// keeps user-supplied names out of cache keys.
type HashKeyer struct {
	Prefix string
}

// NewHashKeyer creates a keyer with the given prefix.
func NewHashKeyer(prefix string) *HashKeyer {
	if prefix == "" {
		prefix = "id"
	}
	return &HashKeyer{Prefix: prefix}
}

// Key derives a key.
func (k *HashKeyer) Key(op string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return k.Prefix + ":" + op + ":" + hex.EncodeToString(sum[:8])
}

var _ Keyer = (*HashKeyer)(nil)
