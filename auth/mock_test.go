package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockUser is one account held by mockStore.
type mockUser struct {
	uniqueID string
	display  string
	password string
	err      error // returned after a correct password
}

// revoked reports whether lookups outside the password path reject u.
func (u mockUser) revoked() bool { return u.err == ErrUserRevoked }

// mockStore is a map-backed IdentityStore.
type mockStore struct {
	realm string
	users map[string]mockUser
	certs map[string]string // subject DN -> user name
	err   error             // returned by every call when set

	mu    sync.Mutex
	calls []string
}

func newMockStore() *mockStore {
	return &mockStore{
		realm: "corp",
		users: map[string]mockUser{
			"alice": {uniqueID: "u-1", display: "Alice", password: "secret"},
			"bob":   {uniqueID: "u-2", display: "Bob", password: "hunter2", err: ErrUserRevoked},
			"carol": {uniqueID: "u-3", display: "Carol", password: "old", err: ErrPasswordExpired},
		},
		certs: map[string]string{},
	}
}

func (s *mockStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *mockStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *mockStore) lookup(id string) (string, mockUser, bool) {
	if u, ok := s.users[id]; ok {
		return id, u, true
	}
	for name, u := range s.users {
		if u.uniqueID == id {
			return name, u, true
		}
	}
	return "", mockUser{}, false
}

func (s *mockStore) VerifyPassword(_ context.Context, name, password string) (string, error) {
	s.record("VerifyPassword")
	if s.err != nil {
		return "", s.err
	}
	u, ok := s.users[name]
	if !ok {
		return "", ErrNotFound
	}
	if u.password != password {
		return "", ErrBadCredentials
	}
	if u.err != nil {
		return "", u.err
	}
	return name, nil
}

func (s *mockStore) MapCertificate(_ context.Context, chain []*x509.Certificate) (string, error) {
	s.record("MapCertificate")
	if s.err != nil {
		return "", s.err
	}
	name, ok := s.certs[chain[0].Subject.String()]
	if !ok {
		return "", ErrNotFound
	}
	if s.users[name].revoked() {
		return "", ErrUserRevoked
	}
	return name, nil
}

func (s *mockStore) ResolveDisplayName(_ context.Context, id string) (string, error) {
	s.record("ResolveDisplayName")
	if s.err != nil {
		return "", s.err
	}
	_, u, ok := s.lookup(id)
	if !ok {
		return "", ErrNotFound
	}
	return u.display, nil
}

func (s *mockStore) ResolveUniqueID(_ context.Context, name string) (string, error) {
	s.record("ResolveUniqueID")
	if s.err != nil {
		return "", s.err
	}
	_, u, ok := s.lookup(name)
	if !ok {
		return "", ErrNotFound
	}
	if u.revoked() {
		return "", ErrUserRevoked
	}
	return u.uniqueID, nil
}

func (s *mockStore) DisplayNameByUniqueID(_ context.Context, uniqueID string) (string, error) {
	s.record("DisplayNameByUniqueID")
	if s.err != nil {
		return "", s.err
	}
	for _, u := range s.users {
		if u.uniqueID != uniqueID {
			continue
		}
		if u.revoked() {
			return "", ErrUserRevoked
		}
		return u.display, nil
	}
	return "", ErrNotFound
}

func (s *mockStore) Realm() string { return s.realm }

// mockToken is a decoded token.
type mockToken struct {
	accessID string
	attrs    map[string]string
	exp      time.Time
}

func (t mockToken) AccessIDAttribute() string { return t.accessID }

func (t mockToken) Attribute(name string) (string, bool) {
	v, ok := t.attrs[name]
	return v, ok
}

func (t mockToken) Expiration() time.Time { return t.exp }

// mockCodec decodes tokens from a fixed table.
type mockCodec struct {
	tokens map[string]mockToken
}

func (c *mockCodec) Decode(_ context.Context, raw []byte) (Token, error) {
	switch string(raw) {
	case "expired":
		return nil, ErrExpiredToken
	}
	t, ok := c.tokens[string(raw)]
	if !ok {
		return nil, ErrInvalidToken
	}
	return t, nil
}

// mockAssertions recognizes raw values prefixed with "sa." and verifies
// them from a fixed table.
type mockAssertions struct {
	assertions map[string]SignedAssertion
}

func (m *mockAssertions) Recognizes(raw []byte) bool {
	return strings.HasPrefix(string(raw), "sa.")
}

func (m *mockAssertions) Verify(_ context.Context, raw []byte) (SignedAssertion, error) {
	if string(raw) == "sa.expired" {
		return SignedAssertion{}, ErrExpiredToken
	}
	a, ok := m.assertions[string(raw)]
	if !ok {
		return SignedAssertion{}, ErrInvalidToken
	}
	return a, nil
}

// script configures a scriptedStrategy.
type script struct {
	name         string
	outcome      Outcome
	err          error
	alwaysCommit bool
	claim        bool
	onAttempt    func()

	log *callLog
}

// scriptedStrategy returns a fixed outcome and records lifecycle calls.
// Commit succeeds only when the outcome was Authenticated, unless
// alwaysCommit is set.
type scriptedStrategy struct {
	AttemptState
	script
}

// callLog records "name.phase" entries across strategies in call order.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *callLog) count(entry string) int {
	n := 0
	for _, e := range l.list() {
		if e == entry {
			n++
		}
	}
	return n
}

func (s *scriptedStrategy) Name() string { return s.name }

func (s *scriptedStrategy) Attempt(_ context.Context, _ Channel, state *SharedState) (Outcome, error) {
	s.log.add(s.name + ".attempt")
	if s.onAttempt != nil {
		s.onAttempt()
	}
	if !s.Begin(state) {
		return Abstained, nil
	}
	if s.err != nil {
		return Abstained, s.err
	}
	if s.outcome != Authenticated {
		return Abstained, nil
	}
	if s.claim {
		s.Claim(state, s.name)
	}
	subject := NewSubject()
	subject.Principal = &Principal{
		Name:     s.name,
		AccessID: NewAccessID(AccessIDUser, "test", s.name),
		Method:   MethodExternal,
	}
	s.Resolve(subject, map[string]string{SSORealm: "test"})
	return Authenticated, nil
}

func (s *scriptedStrategy) Commit(ctx context.Context, live *Subject, sso SSOSink) bool {
	s.log.add(s.name + ".commit")
	if s.alwaysCommit {
		return true
	}
	return s.AttemptState.Commit(ctx, live, sso)
}

func (s *scriptedStrategy) Abort(ctx context.Context) bool {
	s.log.add(s.name + ".abort")
	return s.AttemptState.Abort(ctx)
}

func (s *scriptedStrategy) Logout(ctx context.Context) bool {
	s.log.add(s.name + ".logout")
	return s.AttemptState.Logout(ctx)
}

// factoryOf returns a factory building a fresh strategy per attempt.
func factoryOf(sc script) StrategyFactory {
	return func() (Strategy, error) {
		return &scriptedStrategy{script: sc}, nil
	}
}

// mockMechanism is an ExternalMechanism with a scripted result.
type mockMechanism struct {
	AttemptState
	outcome Outcome
	err     error

	attempts, commits, aborts, logouts int
}

func (m *mockMechanism) Attempt(_ context.Context, _ Channel, state *SharedState) (Outcome, error) {
	m.attempts++
	if !m.Begin(state) {
		return Abstained, nil
	}
	if m.err != nil {
		return Abstained, m.err
	}
	if m.outcome != Authenticated {
		return Abstained, nil
	}
	m.Claim(state, "mock")
	subject := NewSubject()
	subject.Principal = &Principal{
		Name:     "svc",
		AccessID: NewAccessID(AccessIDUser, "EXAMPLE.COM", "svc"),
		Method:   MethodExternal,
	}
	m.Resolve(subject, nil)
	return Authenticated, nil
}

func (m *mockMechanism) Commit(ctx context.Context, live *Subject, sso SSOSink) bool {
	m.commits++
	return m.AttemptState.Commit(ctx, live, sso)
}

func (m *mockMechanism) Abort(ctx context.Context) bool {
	m.aborts++
	return m.AttemptState.Abort(ctx)
}

func (m *mockMechanism) Logout(ctx context.Context) bool {
	m.logouts++
	return m.AttemptState.Logout(ctx)
}

// certAuthority issues test certificates.
type certAuthority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

var serial int64

func nextSerial() *big.Int {
	serial++
	return big.NewInt(serial)
}

func newCA(t *testing.T, cn string) *certAuthority {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return &certAuthority{cert: cert, key: key}
}

// issue creates a leaf for subject signed by ca.
func (ca *certAuthority) issue(t *testing.T, subject pkix.Name) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return cert
}

// wantReason fails t unless err carries reason.
func wantReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", reason)
	}
	if got := ReasonOf(err); got != reason {
		t.Fatalf("ReasonOf(%v) = %s, want %s", err, got, reason)
	}
}
