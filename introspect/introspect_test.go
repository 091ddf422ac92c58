package introspect

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/authchain/auth"
)

type fakeAS struct {
	srv   *httptest.Server
	calls atomic.Int32
}

// newFakeAS answers "good" as active for alice, "nosub" as active without
// a subject and everything else as inactive.
func newFakeAS(t *testing.T) *fakeAS {
	t.Helper()
	as := &fakeAS{}
	as.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		as.calls.Add(1)
		if id, secret, ok := r.BasicAuth(); !ok || id != "rp" || secret != "s3cret" {
			if r.FormValue("client_id") != "rp" || r.FormValue("client_secret") != "s3cret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		resp := map[string]any{"active": false}
		switch r.FormValue("token") {
		case "good":
			resp = map[string]any{
				"active":    true,
				"sub":       "alice",
				"client_id": "web",
				"scope":     "read write",
				"exp":       float64(time.Now().Add(time.Hour).Unix()),
			}
		case "nosub":
			resp = map[string]any{"active": true}
		case "revoked":
			resp = map[string]any{"active": true, "sub": "bob"}
		case "expired":
			resp = map[string]any{"active": true, "sub": "alice", "exp": float64(time.Now().Add(-time.Minute).Unix())}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(as.srv.Close)
	return as
}

func newIntrospector(t *testing.T, as *fakeAS, method string) *Introspector {
	t.Helper()
	in, err := New(Config{
		Endpoint:         as.srv.URL,
		ClientID:         "rp",
		ClientSecret:     "s3cret",
		ClientAuthMethod: method,
		Realm:            "idp",
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return in
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no endpoint", Config{Realm: "r"}},
		{"no realm", Config{Endpoint: "http://x"}},
		{"bad method", Config{Endpoint: "http://x", Realm: "r", ClientAuthMethod: "mtls"}},
		{"client credentials without token url", Config{Endpoint: "http://x", Realm: "r", ClientAuthMethod: AuthMethodClientCredentials}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, nil); !errors.Is(err, auth.ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestIntrospect(t *testing.T) {
	for _, method := range []string{AuthMethodBasic, AuthMethodPost} {
		t.Run(method, func(t *testing.T) {
			as := newFakeAS(t)
			in := newIntrospector(t, as, method)
			ctx := context.Background()

			r, err := in.Introspect(ctx, "good")
			if err != nil {
				t.Fatalf("Introspect() error = %v", err)
			}
			if !r.Active || r.Principal != "alice" || r.Scope != "read write" || r.ExpiresAt.IsZero() {
				t.Errorf("Result = %+v", r)
			}

			if _, err := in.Introspect(ctx, "good"); err != nil {
				t.Fatal(err)
			}
			if got := as.calls.Load(); got != 1 {
				t.Errorf("calls = %d, want 1 (cached)", got)
			}

			for _, tok := range []string{"other", "expired"} {
				r, err := in.Introspect(ctx, tok)
				if err != nil || r.Active {
					t.Errorf("Introspect(%q) = %+v, %v, want inactive", tok, r, err)
				}
			}
			_, _ = in.Introspect(ctx, "other")
			if got := as.calls.Load(); got != 4 {
				t.Errorf("calls = %d, want 4 (inactive not cached)", got)
			}
		})
	}
}

func TestIntrospect_ClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if id, secret, ok := r.BasicAuth(); !ok || id != "rp" || secret != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.FormValue("grant_type") != "client_credentials" || r.FormValue("scope") != "introspect" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"active": r.FormValue("token") == "good", "sub": "alice"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	in, err := New(Config{
		Endpoint:         srv.URL + "/introspect",
		TokenURL:         srv.URL + "/token",
		Scopes:           []string{"introspect"},
		ClientID:         "rp",
		ClientSecret:     "s3cret",
		ClientAuthMethod: AuthMethodClientCredentials,
		CacheTTL:         -1,
		Realm:            "idp",
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, tok := range []string{"good", "other"} {
		r, err := in.Introspect(context.Background(), tok)
		if err != nil {
			t.Fatalf("Introspect(%q) error = %v", tok, err)
		}
		if r.Active != (tok == "good") {
			t.Errorf("Introspect(%q).Active = %v", tok, r.Active)
		}
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("token calls = %d, want 1 (access token reused)", got)
	}
}

func TestIntrospect_EndpointFailure(t *testing.T) {
	as := newFakeAS(t)
	in, err := New(Config{Endpoint: as.srv.URL, ClientID: "rp", ClientSecret: "wrong", Realm: "idp"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := in.Introspect(context.Background(), "good"); !errors.Is(err, ErrIntrospectionFailed) {
		t.Errorf("Introspect() error = %v, want ErrIntrospectionFailed", err)
	}
}

func TestIntrospect_SharedRequestOutlivesCaller(t *testing.T) {
	var calls atomic.Int32
	arrived, release := make(chan struct{}, 1), make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		arrived <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"active": true, "sub": "alice"})
	}))
	var once sync.Once
	t.Cleanup(srv.Close)
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	in, err := New(Config{Endpoint: srv.URL, ClientID: "rp", ClientSecret: "s3cret", Realm: "idp"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := in.Introspect(ctxA, "tok")
		errA <- err
	}()
	<-arrived
	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller Introspect() error = %v", err)
	}

	type result struct {
		r   Result
		err error
	}
	resB := make(chan result, 1)
	go func() {
		r, err := in.Introspect(context.Background(), "tok")
		resB <- result{r, err}
	}()
	time.Sleep(20 * time.Millisecond)
	once.Do(func() { close(release) })

	res := <-resB
	if res.err != nil || !res.r.Active || res.r.Principal != "alice" {
		t.Fatalf("second caller Introspect() = %+v, %v", res.r, res.err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("endpoint called %d times, want 1", n)
	}
}

type stubStore struct{}

func (stubStore) VerifyPassword(context.Context, string, string) (string, error) {
	return "", auth.ErrNotFound
}

func (stubStore) MapCertificate(context.Context, []*x509.Certificate) (string, error) {
	return "", auth.ErrNotFound
}

func (stubStore) ResolveDisplayName(_ context.Context, id string) (string, error) {
	if id == "alice" {
		return "Alice Example", nil
	}
	return "", auth.ErrNotFound
}

func (stubStore) ResolveUniqueID(_ context.Context, name string) (string, error) {
	switch name {
	case "alice":
		return "u-1001", nil
	case "bob":
		return "", auth.ErrUserRevoked
	}
	return "", auth.ErrNotFound
}

func (stubStore) Realm() string { return "corp" }

func TestMechanism_Attempt(t *testing.T) {
	as := newFakeAS(t)
	in := newIntrospector(t, as, "")

	tests := []struct {
		name       string
		token      string
		store      auth.IdentityStore
		want       auth.Outcome
		wantReason auth.Reason
		wantID     string
		processed  bool
	}{
		{name: "active", token: "good", want: auth.Authenticated, wantID: "user:idp/alice", processed: true},
		{name: "active mapped", token: "good", store: stubStore{}, want: auth.Authenticated, wantID: "user:corp/u-1001", processed: true},
		{name: "inactive abstains", token: "other", want: auth.Abstained},
		{name: "no subject", token: "nosub", wantReason: auth.ReasonInvalidToken, processed: true},
		{name: "revoked mapped user", token: "revoked", store: stubStore{}, wantReason: auth.ReasonUserRevoked, processed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []auth.AuditEvent
			m := NewMechanism(in, Options{Store: tt.store, Audit: func(_ context.Context, ev auth.AuditEvent) {
				events = append(events, ev)
			}})
			state := auth.NewSharedState()
			ch := auth.NewStaticChannel(auth.TokenCredential{Bytes: []byte(tt.token)})

			out, err := m.Attempt(context.Background(), ch, state)
			if tt.wantReason != auth.ReasonUnknown {
				if got := auth.ReasonOf(err); got != tt.wantReason {
					t.Fatalf("ReasonOf(%v) = %v, want %v", err, got, tt.wantReason)
				}
			} else if err != nil {
				t.Fatalf("Attempt() error = %v", err)
			}
			if out != tt.want {
				t.Errorf("Attempt() = %v, want %v", out, tt.want)
			}
			if state.Processed() != tt.processed {
				t.Errorf("Processed() = %v, want %v", state.Processed(), tt.processed)
			}
			if tt.want != auth.Authenticated {
				return
			}

			live := auth.NewSubject()
			sso := auth.MapSSOSink{}
			if !m.Commit(context.Background(), live, sso) {
				t.Fatal("Commit() = false, want true")
			}
			if got := live.AccessID().String(); got != tt.wantID {
				t.Errorf("AccessID = %q, want %q", got, tt.wantID)
			}
			if live.Public[AttrScope] != "read write" || live.Public[AttrClientID] != "web" {
				t.Errorf("Public = %v", live.Public)
			}
			if len(events) != 1 || !events[0].Succeeded() || events[0].User != "alice" {
				t.Errorf("audit events = %+v", events)
			}
		})
	}
}

func TestMechanism_InactiveTokenIsPublished(t *testing.T) {
	as := newFakeAS(t)
	m := NewMechanism(newIntrospector(t, as, ""), Options{})
	state := auth.NewSharedState()

	out, err := m.Attempt(context.Background(), auth.NewStaticChannel(auth.TokenCredential{Bytes: []byte("local-jwt")}), state)
	if err != nil || out != auth.Abstained {
		t.Fatalf("Attempt() = %v, %v, want abstain", out, err)
	}
	if state.Processed() {
		t.Error("inactive token must not claim the attempt")
	}
	bag, ok := auth.Get(state, auth.StateCredentials)
	if !ok {
		t.Fatal("credential bag not published")
	}
	if c, ok := bag.Get(auth.KindToken); !ok || string(c.(auth.TokenCredential).Bytes) != "local-jwt" {
		t.Errorf("published token = %v, %v", c, ok)
	}
}

func TestRegister_DelegatingStrategy(t *testing.T) {
	as := newFakeAS(t)
	reg := auth.NewMechanismRegistry()
	Register(reg, newIntrospector(t, as, ""), Options{})

	s, err := auth.NewDelegatingStrategy(MechanismName, reg)
	if err != nil {
		t.Fatalf("NewDelegatingStrategy() error = %v", err)
	}
	out, err := s.Attempt(context.Background(), auth.NewStaticChannel(auth.TokenCredential{Bytes: []byte("good")}), auth.NewSharedState())
	if err != nil || out != auth.Authenticated {
		t.Errorf("Attempt() = %v, %v", out, err)
	}

	broken := auth.NewMechanismRegistry()
	Register(broken, nil, Options{})
	if _, err := auth.NewDelegatingStrategy(MechanismName, broken); !errors.Is(err, auth.ErrConfiguration) {
		t.Errorf("NewDelegatingStrategy(nil introspector) error = %v, want ErrConfiguration", err)
	}
}
