package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrCheckTimeout marks a check cut off by the aggregator timeout.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound reports an unknown checker name.
	ErrCheckerNotFound = errors.New("health: checker not found")
)

// DefaultTimeout bounds one round of checks unless WithTimeout says
// otherwise.
const DefaultTimeout = 5 * time.Second

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTimeout bounds each round of checks. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// Aggregator runs the registered checkers concurrently. Checkers keep
// their registration order; registering a name again replaces the checker
// in place.
type Aggregator struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks []Checker
	index  map[string]int
}

// NewAggregator creates an aggregator with no checkers.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{timeout: DefaultTimeout, index: make(map[string]int)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds c, or replaces the checker of the same name.
func (a *Aggregator) Register(c Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.index[c.Name()]; ok {
		a.checks[i] = c
		return
	}
	a.index[c.Name()] = len(a.checks)
	a.checks = append(a.checks, c)
}

// Names lists the checker names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.checks))
	for i, c := range a.checks {
		names[i] = c.Name()
	}
	return names
}

// Check runs the checker registered under name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i, ok := a.index[name]
	var c Checker
	if ok {
		c = a.checks[i]
	}
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, c), nil
}

// CheckAll runs every checker concurrently under one shared timeout and
// returns the results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checks := append([]Checker(nil), a.checks...)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	found := make([]Result, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			found[i] = run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]Result, len(checks))
	for i, c := range checks {
		results[c.Name()] = found[i]
	}
	return results
}

// OverallStatus is the worst status among results. An empty set is
// healthy.
func OverallStatus(results map[string]Result) Status {
	worst := StatusHealthy
	for _, r := range results {
		worst = max(worst, r.Status)
	}
	return worst
}

// run waits for c until ctx ends. A checker that ignores ctx is left to
// finish in the background.
func run(ctx context.Context, c Checker) Result {
	began := time.Now()
	done := make(chan Result, 1)
	go func() { done <- c.Check(ctx) }()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Unhealthy("check timed out", ErrCheckTimeout)
	}
	r.Duration = time.Since(began)
	return r
}
