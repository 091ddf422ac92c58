// Package secret resolves secret references in chain configuration.
//
// Configuration values such as token signing secrets, keytab paths and
// database paths may reference secrets instead of carrying them inline:
//
//	secret: secretref:env:AUTHCHAIN_TOKEN_SECRET
//	secret: secretref:file:token.key
//	dsn:    ${AUTHCHAIN_DATA}/ids.db
//
// ${VAR} references are expanded strictly: a missing variable is an error.
// "$$" emits a literal "$".
package secret
