package auth

import (
	"context"
	"slices"
	"sync"
)

// AttemptState holds the attempt-local state every strategy needs: the
// idempotent guard, the resolved marker and the temporary subject.
//
// Embed it in a Strategy implementation to inherit Commit, Abort and
// Logout. The zero value is ready to use.
type AttemptState struct {
	attempted bool
	resolved  bool
	temp      *Subject
	sso       map[string]string
	helpers   []string
	release   []func()
	mu        sync.Mutex
}

// Begin reports whether the caller may proceed with an attempt. It returns
// false if this instance was already attempted or if another strategy has
// claimed the shared state. Either way the caller must abstain.
func (a *AttemptState) Begin(state *SharedState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attempted {
		return false
	}
	a.attempted = true
	return !state.Processed()
}

// Claim marks the shared state processed by strategy and publishes creds
// for later strategies. Call it once material is present and before
// verification starts.
func (a *AttemptState) Claim(state *SharedState, strategy string, creds ...Credential) {
	state.MarkProcessed()
	Set(state, StateAuthenticatedBy, strategy)
	for _, c := range creds {
		publishCredential(state, c)
	}
}

// Publish adds creds to the shared credential bag without claiming the
// attempt.
func (a *AttemptState) Publish(state *SharedState, creds ...Credential) {
	for _, c := range creds {
		publishCredential(state, c)
	}
}

// Resolve records a verified subject. sso holds the attributes written to
// the sink at commit; helpers names attributes pruned from the live
// subject after promotion.
func (a *AttemptState) Resolve(subject *Subject, sso map[string]string, helpers ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolved = true
	a.temp = subject
	a.sso = sso
	a.helpers = helpers
}

// OnRelease registers fn to run on abort or logout.
func (a *AttemptState) OnRelease(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release = append(a.release, fn)
}

// Resolved reports whether this instance authenticated the attempt.
func (a *AttemptState) Resolved() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolved
}

// Attempted reports whether Begin was called.
func (a *AttemptState) Attempted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempted
}

// Temporary returns the subject awaiting commit, or nil.
func (a *AttemptState) Temporary() *Subject {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.temp
}

// Commit promotes the temporary subject into live and writes SSO
// attributes in name order. It returns false if this instance did not
// resolve the attempt.
func (a *AttemptState) Commit(_ context.Context, live *Subject, sso SSOSink) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.resolved || a.temp == nil || live == nil {
		return false
	}
	live.Promote(a.temp)
	live.Prune(a.helpers...)
	if sso != nil && len(a.sso) > 0 {
		names := make([]string, 0, len(a.sso))
		for name := range a.sso {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			sso.AddAttribute(name, a.sso[name])
		}
	}
	a.temp = nil
	a.sso = nil
	return true
}

// Abort clears attempt-local state and runs release hooks.
func (a *AttemptState) Abort(context.Context) bool {
	a.reset()
	return true
}

// Logout clears session state and runs release hooks.
func (a *AttemptState) Logout(context.Context) bool {
	a.reset()
	return true
}

func (a *AttemptState) reset() {
	a.mu.Lock()
	release := a.release
	a.attempted = false
	a.resolved = false
	a.temp = nil
	a.sso = nil
	a.helpers = nil
	a.release = nil
	a.mu.Unlock()

	for _, fn := range release {
		fn()
	}
}
