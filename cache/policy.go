package cache

import (
	"fmt"
	"time"
)

// Policy decides how long lookup results stay cached. It is read from the
// "cache" section of the chain configuration.
type Policy struct {
	// DefaultTTL applies when Set is given no TTL. Zero disables caching.
	DefaultTTL time.Duration `yaml:"ttl"`

	// MaxTTL caps every TTL. Zero leaves TTLs uncapped.
	MaxTTL time.Duration `yaml:"max_ttl"`

	// MaxEntries bounds a MemoryCache. Zero leaves it unbounded.
	MaxEntries int `yaml:"max_entries"`

	// LoadTimeout bounds a shared load, which outlives the caller that
	// started it. Default: DefaultLoadTimeout
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// DefaultLoadTimeout bounds shared loads when the policy sets none.
const DefaultLoadTimeout = 10 * time.Second

// DefaultPolicy keeps identity lookups for five minutes, never longer than
// an hour, in at most 10000 entries.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: 5 * time.Minute, MaxTTL: time.Hour, MaxEntries: 10000}
}

// NoCachePolicy disables caching.
func NoCachePolicy() Policy { return Policy{} }

// ShouldCache reports whether the policy caches anything.
func (p Policy) ShouldCache() bool { return p.DefaultTTL > 0 }

// Validate rejects negative values and a default TTL above the cap.
func (p Policy) Validate() error {
	switch {
	case p.DefaultTTL < 0 || p.MaxTTL < 0:
		return fmt.Errorf("%w: negative ttl", ErrInvalidPolicy)
	case p.LoadTimeout < 0:
		return fmt.Errorf("%w: negative load_timeout", ErrInvalidPolicy)
	case p.MaxEntries < 0:
		return fmt.Errorf("%w: negative max_entries", ErrInvalidPolicy)
	case p.MaxTTL > 0 && p.DefaultTTL > p.MaxTTL:
		return fmt.Errorf("%w: ttl %s exceeds max_ttl %s", ErrInvalidPolicy, p.DefaultTTL, p.MaxTTL)
	}
	return nil
}

// EffectiveTTL resolves a requested TTL: non-positive requests take the
// default and the result never exceeds MaxTTL.
func (p Policy) EffectiveTTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 {
		ttl = min(ttl, p.MaxTTL)
	}
	return ttl
}

// EffectiveLoadTimeout returns LoadTimeout or its default.
func (p Policy) EffectiveLoadTimeout() time.Duration {
	if p.LoadTimeout > 0 {
		return p.LoadTimeout
	}
	return DefaultLoadTimeout
}
