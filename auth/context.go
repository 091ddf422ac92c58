package auth

import (
	"context"
)

type contextKey int

const (
	subjectKey contextKey = iota
	sessionKey
)

// WithSubject returns a new context with the given subject attached.
func WithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectKey, s)
}

// SubjectFromContext retrieves the subject from the context.
// Returns nil if no subject is present.
func SubjectFromContext(ctx context.Context) *Subject {
	s, _ := ctx.Value(subjectKey).(*Subject)
	return s
}

// AccessIDFromContext retrieves the principal's access id from the context.
// Returns the zero AccessID if no subject is present.
func AccessIDFromContext(ctx context.Context) AccessID {
	return SubjectFromContext(ctx).AccessID()
}

// WithSession returns a new context with the given session attached.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext retrieves the session from the context.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}
