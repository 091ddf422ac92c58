// Package token encodes and decodes the opaque tokens consumed by the token
// strategy, and verifies self-contained signed assertions.
//
// Tokens and assertions are signed JWTs. They are told apart by the "typ"
// header: "authchain-token" for tokens and "authchain-assertion" for
// assertions. HS256 uses a shared secret; RS256 signs with a private key
// and verifies through a KeyProvider, which may fetch a JWKS document.
package token
