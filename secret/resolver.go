package secret

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// RefPrefix starts every secret reference.
const RefPrefix = "secretref:"

var refPattern = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

// Resolver turns configuration values into their final form. A value is
// first expanded with ExpandEnvStrict; every "secretref:<provider>:<ref>"
// in the result is then replaced by the secret the provider returns.
// A strict resolver rejects empty secrets.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver over providers. Nil providers are skipped.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider), strict: strict}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name.
func (r *Resolver) Register(p Provider) {
	if r == nil || p == nil {
		return
	}
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[p.Name()] = p
}

// ResolveValue expands and resolves value. A nil resolver only expands.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	out, err := ExpandEnvStrict(value)
	if err != nil || r == nil || !strings.Contains(out, RefPrefix) {
		return out, err
	}

	var firstErr error
	out = refPattern.ReplaceAllStringFunc(out, func(m string) string {
		if firstErr != nil {
			return m
		}
		name, ref, _ := ParseSecretRef(m)
		v, err := r.lookup(ctx, name, ref)
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ResolveInto resolves every non-empty field in place. Errors name the
// field; fields are visited in sorted order.
func (r *Resolver) ResolveInto(ctx context.Context, fields map[string]*string) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		dst := fields[name]
		if dst == nil || *dst == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *dst)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*dst = v
	}
	return nil
}

// Close closes the providers in name order.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(r.providers)) {
		if err := r.providers[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ParseSecretRef splits a value that is exactly one reference:
//
//	secretref:<provider>:<ref>
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, RefPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) lookup(ctx context.Context, name, ref string) (string, error) {
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if v == "" && r.strict {
		return "", fmt.Errorf("%w: %s:%s", ErrEmptySecret, name, ref)
	}
	return v, nil
}
