package auth

import "sort"

// StateKey is a typed key into a SharedState.
type StateKey[T any] struct {
	name string
}

// NewStateKey creates a typed key. Keys with the same name alias each other.
func NewStateKey[T any](name string) StateKey[T] {
	return StateKey[T]{name: name}
}

// Name returns the key name.
func (k StateKey[T]) Name() string {
	return k.name
}

// Predefined shared state keys.
var (
	// StateProcessed marks the attempt as already handled by a strategy.
	StateProcessed = NewStateKey[bool]("auth.processed")

	// StateCredentials holds credential material published by strategies
	// so later strategies can read it without asking the channel again.
	StateCredentials = NewStateKey[*CredentialBag]("auth.credentials")

	// StateAuthenticatedBy names the strategy that claimed the attempt.
	StateAuthenticatedBy = NewStateKey[string]("auth.authenticatedBy")
)

// SharedState is the negotiation state of one login attempt. Every
// strategy in the chain receives the same instance.
//
// Strategies only publish discovered credentials or mark the attempt
// processed. SharedState is owned by a single attempt and is not safe for
// concurrent use.
type SharedState struct {
	values map[string]any
}

// NewSharedState returns an empty state.
func NewSharedState() *SharedState {
	return &SharedState{values: make(map[string]any)}
}

// Get returns the value stored under k.
func Get[T any](s *SharedState, k StateKey[T]) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.values[k.name]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Set stores v under k.
func Set[T any](s *SharedState, k StateKey[T], v T) {
	s.values[k.name] = v
}

// Delete removes k.
func Delete[T any](s *SharedState, k StateKey[T]) {
	delete(s.values, k.name)
}

// Processed reports whether a strategy has claimed this attempt.
func (s *SharedState) Processed() bool {
	v, _ := Get(s, StateProcessed)
	return v
}

// MarkProcessed claims the attempt.
func (s *SharedState) MarkProcessed() {
	Set(s, StateProcessed, true)
}

// Keys returns the stored key names in sorted order.
func (s *SharedState) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// publishCredential adds c to the credential bag in s.
func publishCredential(s *SharedState, c Credential) {
	if s == nil || c == nil {
		return
	}
	bag, ok := Get(s, StateCredentials)
	if !ok || bag == nil {
		bag = NewCredentialBag()
		Set(s, StateCredentials, bag)
	}
	bag.Put(c)
}
