package auth

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/jonwraymond/authchain/observe"
)

// DefaultChainName is used when no name is configured.
const DefaultChainName = "default"

type chainEntry struct {
	name    string
	factory StrategyFactory
}

// Chain drives an ordered list of strategies through login attempts.
//
// Contract:
//   - Concurrency: safe for concurrent use. Every Login builds fresh
//     strategy instances from the configured factories.
//   - Context: checked between strategies. On cancellation every invoked
//     strategy is aborted and the context error returned.
//   - Errors: failures are *Failure values; see ReasonOf.
type Chain struct {
	name    string
	entries []chainEntry
	tracer  observe.Tracer
	metrics observe.Metrics
	logger  observe.Logger
	mw      *observe.Middleware
	newID   func() string
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithName sets the chain name used in telemetry.
func WithName(name string) ChainOption {
	return func(c *Chain) {
		c.name = name
	}
}

// WithStrategy appends a strategy to the chain.
func WithStrategy(name string, factory StrategyFactory) ChainOption {
	return func(c *Chain) {
		c.entries = append(c.entries, chainEntry{name: name, factory: factory})
	}
}

// WithLogger sets the attempt logger.
func WithLogger(l observe.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = l
	}
}

// WithTracer sets the attempt tracer.
func WithTracer(t observe.Tracer) ChainOption {
	return func(c *Chain) {
		c.tracer = t
	}
}

// WithMetrics sets the attempt metrics.
func WithMetrics(m observe.Metrics) ChainOption {
	return func(c *Chain) {
		c.metrics = m
	}
}

// WithAttemptIDs overrides attempt id generation.
func WithAttemptIDs(fn func() string) ChainOption {
	return func(c *Chain) {
		c.newID = fn
	}
}

// NewChain creates a chain. Telemetry defaults to no-ops.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{
		name:  DefaultChainName,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.mw = observe.NewMiddleware(c.tracer, c.metrics, c.logger)
	c.logger = c.mw.Logger()
	return c
}

// Name returns the chain name.
func (c *Chain) Name() string { return c.name }

// Strategies returns the configured strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// LoginRequest is the input to one login attempt.
type LoginRequest struct {
	// Credentials supplies credential material on demand.
	Credentials Channel

	// SSO receives single-sign-on attributes at commit. Optional.
	SSO SSOSink

	// Subject is the live identity to promote into. A new one is created
	// when nil.
	Subject *Subject
}

// StrategyOutcome records how one strategy responded to an attempt.
type StrategyOutcome struct {
	Strategy string
	Outcome  Outcome
}

// Session is a committed login.
type Session struct {
	ID          string
	Subject     *Subject
	CommittedBy string
	Outcomes    []StrategyOutcome

	strategies []Strategy
}

// Logout drives logout on every strategy of the session.
func (s *Session) Logout(ctx context.Context) {
	for _, st := range s.strategies {
		st.Logout(ctx)
	}
	s.strategies = nil
}

// Login runs one attempt through the chain.
//
// A failing strategy stops the attempt and every strategy invoked so far,
// including the failing one, is aborted. If every strategy abstains the
// result is a ReasonNoApplicableStrategy failure. On success exactly one
// strategy commits into the live subject.
func (c *Chain) Login(ctx context.Context, req *LoginRequest) (*Session, error) {
	if req == nil {
		req = &LoginRequest{}
	}
	var sess *Session
	meta := &observe.AttemptMeta{Chain: c.name, AttemptID: c.newID()}
	login := c.mw.Wrap(func(ctx context.Context, meta *observe.AttemptMeta) error {
		s, err := c.login(ctx, req, meta)
		if err != nil {
			meta.Reason = ReasonOf(err).String()
			meta.Backend = IsBackendFailure(err)
			return err
		}
		sess = s
		return nil
	})
	if err := login(ctx, meta); err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Chain) login(ctx context.Context, req *LoginRequest, meta *observe.AttemptMeta) (*Session, error) {
	logger := c.logger.WithAttempt(*meta)
	state := NewSharedState()
	invoked := make([]Strategy, 0, len(c.entries))
	outcomes := make([]StrategyOutcome, 0, len(c.entries))
	var winner Strategy

	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			c.abort(ctx, invoked)
			return nil, err
		}

		s, err := e.factory()
		if err != nil || s == nil {
			c.abort(ctx, invoked)
			meta.Strategy = e.name
			if err == nil {
				err = errors.New("factory returned nil strategy")
			}
			return nil, asFailure(err, e.name, ReasonConfiguration)
		}
		invoked = append(invoked, s)

		out, err := s.Attempt(ctx, req.Credentials, state)
		if err != nil {
			observe.StrategyEvent(ctx, s.Name(), "attempt", "failed")
			logger.Debug(ctx, "strategy failed", observe.Field{Key: "strategy", Value: s.Name()})
			c.abort(ctx, invoked)
			meta.Strategy = s.Name()
			return nil, asFailure(err, s.Name(), ReasonUnknown)
		}
		observe.StrategyEvent(ctx, s.Name(), "attempt", out.String())
		logger.Debug(ctx, "strategy attempted",
			observe.Field{Key: "strategy", Value: s.Name()},
			observe.Field{Key: "outcome", Value: out.String()})
		outcomes = append(outcomes, StrategyOutcome{Strategy: s.Name(), Outcome: out})
		if out == Authenticated && winner == nil {
			winner = s
		}
	}

	if winner == nil {
		c.abort(ctx, invoked)
		return nil, NewFailure(ReasonNoApplicableStrategy, "", nil)
	}
	meta.Strategy = winner.Name()

	// Commits land in a copy so a rejected commit leaves the caller's
	// subject and SSO sink untouched.
	live := req.Subject
	if live == nil {
		live = NewSubject()
	}
	scratch, pending := live.Clone(), MapSSOSink{}
	var committed []string
	for _, s := range invoked {
		if s.Commit(ctx, scratch, pending) {
			committed = append(committed, s.Name())
			observe.StrategyEvent(ctx, s.Name(), "commit", "committed")
		}
	}
	if len(committed) != 1 {
		c.abort(ctx, invoked)
		return nil, NewFailure(ReasonConfiguration, "",
			fmt.Errorf("%d strategies committed %v", len(committed), committed))
	}
	*live = *scratch
	if req.SSO != nil {
		for _, name := range slices.Sorted(maps.Keys(pending)) {
			req.SSO.AddAttribute(name, pending[name])
		}
	}

	return &Session{
		ID:          meta.AttemptID,
		Subject:     live,
		CommittedBy: committed[0],
		Outcomes:    outcomes,
		strategies:  invoked,
	}, nil
}

// abort drives abort on every invoked strategy. It runs even after the
// attempt context is canceled.
func (c *Chain) abort(ctx context.Context, invoked []Strategy) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range invoked {
		s.Abort(ctx)
		observe.StrategyEvent(ctx, s.Name(), "abort", "aborted")
	}
}

// asFailure returns err as a *Failure, wrapping it with fallback when it
// is not one already. Context errors are returned unchanged.
func asFailure(err error, strategy string, fallback Reason) error {
	var f *Failure
	if errors.As(err, &f) || isContextError(err) {
		return err
	}
	reason := ReasonOf(err)
	if reason == ReasonUnknown {
		reason = fallback
	}
	return NewFailure(reason, strategy, err)
}
