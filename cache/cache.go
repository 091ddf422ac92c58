package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxKeyLength bounds keys produced by a Keyer plus any caller prefix.
const MaxKeyLength = 512

var (
	// ErrInvalidKey reports an empty key or one spanning several lines.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrKeyTooLong reports a key longer than MaxKeyLength.
	ErrKeyTooLong = errors.New("cache: key too long")

	// ErrInvalidPolicy reports a Policy that Validate rejects.
	ErrInvalidPolicy = errors.New("cache: invalid policy")
)

// Cache holds the results of identity store lookups and token
// introspection calls, keyed by strings from a Keyer.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Misses: Get reports a miss with ok=false and never fails.
// - Ownership: values passed to Set may be reused by the caller afterwards.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)

	// Set stores value for ttl. A non-positive ttl stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete drops key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ValidateKey rejects keys a Cache will not store.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.ContainsAny(key, "\r\n"):
		return fmt.Errorf("%w: contains a line break", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}
	return nil
}
