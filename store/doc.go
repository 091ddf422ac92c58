// Package store provides identity store implementations for the auth
// strategies.
//
// MemoryStore, SQLiteStore and PostgresStore hold users with bcrypt
// password hashes and certificate subject mappings. Cached and Guarded are decorators that add
// lookup caching and circuit breaking around any auth.IdentityStore.
//
// All stores report lookup misses as auth.ErrNotFound and backend faults as
// auth.ErrStoreUnavailable.
package store
