// Package introspect provides an OAuth2 token introspection (RFC 7662)
// mechanism for the DelegatingExternal strategy.
//
// The mechanism takes the token credential, asks the authorization server
// whether it is active and maps the subject claim to an access id. Tokens
// the server reports inactive are published to the shared state and the
// mechanism abstains, so a later Token strategy can still decode them.
// Place the external strategy before the token strategy.
//
// The client authenticates to the endpoint with client_secret_basic,
// client_secret_post or an access token obtained by the client_credentials
// grant. Active introspection results are cached by token hash.
package introspect
