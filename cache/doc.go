// Package cache provides TTL caching for identity lookups.
//
// MemoryCache is bounded and process-local. BadgerCache persists entries
// on disk with Badger's native TTL. Keyers derive hashed keys and a Loader
// deduplicates concurrent misses. Failed lookups are never cached.
package cache
