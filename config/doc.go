// Package config loads a chain definition from YAML and builds a ready
// auth.Chain with its identity store, token codec, external mechanisms and
// telemetry.
//
// Example:
//
//	name: web
//	store:
//	  type: sqlite
//	  realm: corp
//	  path: ${AUTHCHAIN_DATA}/ids.db
//	  cache: {ttl: 5m}
//	  cache_dir: ${AUTHCHAIN_DATA}/lookups
//	token:
//	  issuer: authchain
//	  secret: secretref:env:AUTHCHAIN_TOKEN_SECRET
//	strategies:
//	  - type: token
//	  - type: assertion
//	    config: {allow_without_password: true}
//	  - type: password
//
// Store types are memory, sqlite (path) and postgres (dsn). With cache_dir
// the lookup cache persists in a Badger database. Schema returns the JSON
// schema of the file.
//
// Strategies run in the order listed. ${VAR} and secretref: references are
// resolved only in fields that name paths, URLs and secrets.
package config
