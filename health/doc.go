// Package health reports whether the collaborators a chain depends on are
// usable: the identity store, its circuit breaker and token verification
// keys.
//
// Checks are registered on an Aggregator and exposed over HTTP:
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewStoreChecker("store", idStore, ""))
//	agg.Register(health.NewCircuitChecker("store.circuit", guarded))
//	health.RegisterHandlers(router, agg) // chi.Router
//
// A credential miss is not a health problem. Only errors matching
// auth.ErrStoreUnavailable mark the store unhealthy.
package health
