package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	builder := func(map[string]any, Dependencies) (StrategyFactory, error) {
		return factoryOf(script{name: "test"}), nil
	}

	t.Run("successful registration", func(t *testing.T) {
		if err := reg.Register("test", builder); err != nil {
			t.Errorf("Register() error = %v", err)
		}
	})

	t.Run("duplicate registration", func(t *testing.T) {
		if err := reg.Register("test", builder); err == nil {
			t.Error("Register() should error on duplicate")
		}
	})

	t.Run("empty name", func(t *testing.T) {
		if err := reg.Register("", builder); err == nil {
			t.Error("Register() should error on empty name")
		}
	})

	t.Run("nil builder", func(t *testing.T) {
		if err := reg.Register("nil_builder", nil); err == nil {
			t.Error("Register() should error on nil builder")
		}
	})
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register("ok", func(map[string]any, Dependencies) (StrategyFactory, error) {
		return factoryOf(script{name: "ok"}), nil
	})
	_ = reg.Register("bad", func(map[string]any, Dependencies) (StrategyFactory, error) {
		return nil, errors.New("missing option")
	})

	f, err := reg.Build("ok", nil, Dependencies{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	s, err := f()
	if err != nil || s.Name() != "ok" {
		t.Errorf("factory() = %v, %v", s, err)
	}

	_, err = reg.Build("bad", nil, Dependencies{})
	wantReason(t, err, ReasonConfiguration)
	_, err = reg.Build("missing", nil, Dependencies{})
	wantReason(t, err, ReasonConfiguration)
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry()
	builder := func(map[string]any, Dependencies) (StrategyFactory, error) { return nil, nil }
	_ = reg.Register("zebra", builder)
	_ = reg.Register("apple", builder)
	_ = reg.Register("mango", builder)

	want := []string{"apple", "mango", "zebra"}
	if got := reg.List(); !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestDefaultRegistry_Builtins(t *testing.T) {
	want := []string{"assertion", "certificate", "external", "password", "token"}
	if got := DefaultRegistry.List(); !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestDefaultRegistry_Build(t *testing.T) {
	store := newMockStore()
	mechanisms := NewMechanismRegistry()
	mechanisms.Register("kerberos", func() (ExternalMechanism, error) { return &mockMechanism{}, nil })
	full := Dependencies{Store: store, Codec: &mockCodec{}, Mechanisms: mechanisms}

	tests := []struct {
		name     string
		typ      string
		cfg      map[string]any
		deps     Dependencies
		wantErr  bool
		wantName string
	}{
		{name: "password", typ: "password", deps: full, wantName: "password"},
		{name: "password without store", typ: "password", wantErr: true},
		{name: "certificate", typ: "certificate", wantName: "certificate"},
		{name: "assertion", typ: "assertion", wantName: "assertion"},
		{name: "assertion without password", typ: "assertion", cfg: map[string]any{"allow_without_password": true}, deps: full, wantName: "assertion"},
		{name: "assertion without password or store", typ: "assertion", cfg: map[string]any{"allow_without_password": true}, wantErr: true},
		{name: "token", typ: "token", deps: full, wantName: "token"},
		{name: "token without codec", typ: "token", wantErr: true},
		{name: "token with assertions only", typ: "token", deps: Dependencies{Assertions: &mockAssertions{}}, wantName: "token"},
		{name: "external", typ: "external", cfg: map[string]any{"mechanism": "kerberos"}, deps: full, wantName: "kerberos"},
		{name: "external without mechanism", typ: "external", deps: full, wantErr: true},
		{name: "external unknown mechanism", typ: "external", cfg: map[string]any{"mechanism": "ntlm"}, deps: full, wantErr: true},
		{name: "unknown setting", typ: "password", cfg: map[string]any{"qualifer": "CORP"}, deps: full, wantErr: true},
		{name: "mistyped setting", typ: "assertion", cfg: map[string]any{"allow_without_password": "yes"}, deps: full, wantErr: true},
		{name: "setting on token", typ: "token", cfg: map[string]any{"ttl": "1h"}, deps: full, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DefaultRegistry.Build(tt.typ, tt.cfg, tt.deps)
			if tt.wantErr {
				wantReason(t, err, ReasonConfiguration)
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			s1, err := f()
			if err != nil {
				t.Fatalf("factory() error = %v", err)
			}
			s2, _ := f()
			if s1 == s2 {
				t.Error("factory should build a fresh instance per call")
			}
			if s1.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", s1.Name(), tt.wantName)
			}
		})
	}
}

func TestDefaultRegistry_Qualifier(t *testing.T) {
	f, err := DefaultRegistry.Build("password", map[string]any{"qualifier": "CORP"}, Dependencies{Store: newMockStore()})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	chain := NewChain(WithStrategy("password", f))
	sess, err := chain.Login(context.Background(), &LoginRequest{Credentials: NewStaticChannel(
		PasswordCredential{Username: "alice", Password: "secret"},
	)})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sess.Subject.Principal.Name != `CORP\Alice` {
		t.Errorf("Name = %q", sess.Subject.Principal.Name)
	}
}
