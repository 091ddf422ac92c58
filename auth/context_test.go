package auth

import (
	"context"
	"testing"
)

func TestSubjectContext(t *testing.T) {
	ctx := context.Background()
	if SubjectFromContext(ctx) != nil {
		t.Error("SubjectFromContext() should be nil on empty context")
	}
	if !AccessIDFromContext(ctx).IsZero() {
		t.Error("AccessIDFromContext() should be zero on empty context")
	}

	s := NewSubject()
	s.Principal = &Principal{Name: "Alice", AccessID: NewAccessID(AccessIDUser, "corp", "u-1")}
	ctx = WithSubject(ctx, s)

	if SubjectFromContext(ctx) != s {
		t.Error("SubjectFromContext() returned a different subject")
	}
	if got := AccessIDFromContext(ctx).String(); got != "user:corp/u-1" {
		t.Errorf("AccessIDFromContext() = %q", got)
	}
}

func TestSessionContext(t *testing.T) {
	ctx := context.Background()
	if SessionFromContext(ctx) != nil {
		t.Error("SessionFromContext() should be nil on empty context")
	}
	sess := &Session{ID: "attempt-1", CommittedBy: "password"}
	ctx = WithSession(ctx, sess)
	if SessionFromContext(ctx) != sess {
		t.Error("SessionFromContext() returned a different session")
	}
	if SubjectFromContext(ctx) != nil {
		t.Error("session and subject keys must not alias")
	}
}
