// Package auth implements a pluggable multi-strategy authentication chain.
//
// A Chain drives an ordered list of strategies (password, certificate,
// trusted assertion, token and delegating external) through a login
// attempt. Every strategy sees the same per-attempt SharedState; the first
// one that finds applicable credential material marks the attempt as
// processed, verifies it and builds a temporary Subject. Later strategies
// abstain. When the attempt resolves, the chain drives commit and exactly
// one strategy promotes its Subject into the live identity. Any failure
// aborts every strategy that was invoked.
//
// Credential transport, identity stores and token codecs are consumed
// through the Channel, IdentityStore and TokenCodec interfaces. See the
// store, token and kerberos packages for implementations.
package auth
