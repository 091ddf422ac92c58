package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ExternalMechanism is an authentication mechanism whose credential
// handling is opaque to the chain. DelegatingStrategy proxies every phase
// to it.
type ExternalMechanism interface {
	Attempt(ctx context.Context, ch Channel, state *SharedState) (Outcome, error)
	Commit(ctx context.Context, live *Subject, sso SSOSink) bool
	Abort(ctx context.Context) bool
	Logout(ctx context.Context) bool
}

// MechanismFactory builds a fresh mechanism instance.
type MechanismFactory func() (ExternalMechanism, error)

// MechanismRegistry maps mechanism names to factories. Deployments
// register the mechanisms available on their platform at startup.
type MechanismRegistry struct {
	mu        sync.RWMutex
	factories map[string]MechanismFactory
}

// NewMechanismRegistry creates an empty registry.
func NewMechanismRegistry() *MechanismRegistry {
	return &MechanismRegistry{factories: make(map[string]MechanismFactory)}
}

// Register adds a mechanism factory, replacing any previous one.
func (r *MechanismRegistry) Register(name string, f MechanismFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *MechanismRegistry) Lookup(name string) (MechanismFactory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered mechanism names, sorted.
func (r *MechanismRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DelegatingStrategy wraps an ExternalMechanism resolved at construction.
type DelegatingStrategy struct {
	name      string
	mech      ExternalMechanism
	attempted bool
}

// NewDelegatingStrategy resolves mechanism from registry and builds the
// strategy. A missing or failing mechanism is a configuration error.
func NewDelegatingStrategy(mechanism string, registry *MechanismRegistry) (*DelegatingStrategy, error) {
	f, ok := registry.Lookup(mechanism)
	if !ok || f == nil {
		return nil, NewFailure(ReasonConfiguration, "external",
			fmt.Errorf("external mechanism %q not available", mechanism))
	}
	mech, err := f()
	if err != nil {
		return nil, NewFailure(ReasonConfiguration, "external",
			fmt.Errorf("external mechanism %q: %w", mechanism, err))
	}
	if mech == nil {
		return nil, NewFailure(ReasonConfiguration, "external",
			fmt.Errorf("external mechanism %q: factory returned nil", mechanism))
	}
	return &DelegatingStrategy{name: mechanism, mech: mech}, nil
}

// Name returns the wrapped mechanism name.
func (s *DelegatingStrategy) Name() string { return s.name }

// Mechanism returns the wrapped mechanism.
func (s *DelegatingStrategy) Mechanism() ExternalMechanism { return s.mech }

// Attempt proxies to the mechanism. Errors that are not already a
// *Failure are reported as external mechanism errors.
func (s *DelegatingStrategy) Attempt(ctx context.Context, ch Channel, state *SharedState) (Outcome, error) {
	if s.attempted || state.Processed() {
		s.attempted = true
		return Abstained, nil
	}
	s.attempted = true

	out, err := s.mech.Attempt(ctx, ch, state)
	if err == nil {
		return out, nil
	}
	var f *Failure
	if errors.As(err, &f) {
		if f.Strategy == "" {
			f.Strategy = s.name
		}
		return Abstained, f
	}
	return Abstained, NewFailure(ReasonExternalMechanism, s.name, err)
}

// Commit proxies to the mechanism.
func (s *DelegatingStrategy) Commit(ctx context.Context, live *Subject, sso SSOSink) bool {
	return s.mech.Commit(ctx, live, sso)
}

// Abort proxies to the mechanism and resets the guard.
func (s *DelegatingStrategy) Abort(ctx context.Context) bool {
	s.attempted = false
	s.mech.Abort(ctx)
	return true
}

// Logout proxies to the mechanism and resets the guard.
func (s *DelegatingStrategy) Logout(ctx context.Context) bool {
	s.attempted = false
	s.mech.Logout(ctx)
	return true
}
