package store

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/jonwraymond/authchain/auth"
)

func testHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	return string(h)
}

func testCert(cn string) *x509.Certificate {
	return &x509.Certificate{Subject: pkix.Name{CommonName: cn, Organization: []string{"Example"}}}
}

func testUsers(t *testing.T) []User {
	return []User{
		{Name: "alice", UniqueID: "u-1", DisplayName: "Alice Liddell", PasswordHash: testHash(t, "wonderland"),
			Certificates: []string{SubjectDN(testCert("alice"))}},
		{Name: "bob", UniqueID: "u-2", PasswordHash: testHash(t, "builder"), Status: StatusRevoked,
			Certificates: []string{SubjectDN(testCert("bob"))}},
		{Name: "carol", UniqueID: "u-3", PasswordHash: testHash(t, "oldpass"), Status: StatusPasswordExpired,
			Certificates: []string{SubjectDN(testCert("carol"))}},
		{Name: "dave", UniqueID: "u-4"},
	}
}

// newStores returns every store implementation loaded with testUsers.
func newStores(t *testing.T) map[string]auth.IdentityStore {
	t.Helper()
	return newStoresWith(t, testUsers(t))
}

func newStoresWith(t *testing.T, users []User) map[string]auth.IdentityStore {
	t.Helper()

	mem := NewMemoryStore("corp")
	for _, u := range users {
		if err := mem.AddUser(u); err != nil {
			t.Fatalf("MemoryStore.AddUser(%s) error = %v", u.Name, err)
		}
	}

	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ids.db"), "corp")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	for _, u := range users {
		if err := sq.AddUser(context.Background(), u); err != nil {
			t.Fatalf("SQLiteStore.AddUser(%s) error = %v", u.Name, err)
		}
	}

	stores := map[string]auth.IdentityStore{"memory": mem, "sqlite": sq}
	if ps := newPostgresStore(t); ps != nil {
		for _, u := range users {
			if err := ps.AddUser(context.Background(), u); err != nil {
				t.Fatalf("PostgresStore.AddUser(%s) error = %v", u.Name, err)
			}
		}
		stores["postgres"] = ps
	}
	return stores
}

func TestStores_VerifyPassword(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		want     string
		wantErr  error
	}{
		{"valid", "alice", "wonderland", "alice", nil},
		{"case insensitive name", "ALICE", "wonderland", "alice", nil},
		{"wrong password", "alice", "nope", "", auth.ErrBadCredentials},
		{"unknown user", "mallory", "x", "", auth.ErrNotFound},
		{"no password set", "dave", "x", "", auth.ErrNotFound},
		{"revoked", "bob", "builder", "", auth.ErrUserRevoked},
		{"revoked wrong password", "bob", "nope", "", auth.ErrBadCredentials},
		{"expired", "carol", "oldpass", "", auth.ErrPasswordExpired},
	}

	for storeName, s := range newStores(t) {
		for _, tt := range tests {
			t.Run(storeName+"/"+tt.name, func(t *testing.T) {
				got, err := s.VerifyPassword(context.Background(), tt.user, tt.password)
				if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
					t.Fatalf("VerifyPassword() error = %v, want %v", err, tt.wantErr)
				}
				if got != tt.want {
					t.Errorf("VerifyPassword() = %q, want %q", got, tt.want)
				}
			})
		}
	}
}

func TestStores_Resolve(t *testing.T) {
	ctx := context.Background()
	for storeName, s := range newStores(t) {
		t.Run(storeName, func(t *testing.T) {
			if s.Realm() != "corp" {
				t.Errorf("Realm() = %q", s.Realm())
			}

			for _, id := range []string{"alice", "u-1"} {
				name, err := s.ResolveDisplayName(ctx, id)
				if err != nil || name != "Alice Liddell" {
					t.Errorf("ResolveDisplayName(%q) = %q, %v", id, name, err)
				}
				uid, err := s.ResolveUniqueID(ctx, id)
				if err != nil || uid != "u-1" {
					t.Errorf("ResolveUniqueID(%q) = %q, %v", id, uid, err)
				}
			}

			if name, _ := s.ResolveDisplayName(ctx, "bob"); name != "bob" {
				t.Errorf("display name default = %q, want bob", name)
			}
			if _, err := s.ResolveUniqueID(ctx, "mallory"); !errors.Is(err, auth.ErrNotFound) {
				t.Errorf("ResolveUniqueID(unknown) error = %v", err)
			}
			if _, err := s.ResolveDisplayName(ctx, "mallory"); !errors.Is(err, auth.ErrNotFound) {
				t.Errorf("ResolveDisplayName(unknown) error = %v", err)
			}
		})
	}
}

func TestStores_MapCertificate(t *testing.T) {
	ctx := context.Background()
	for storeName, s := range newStores(t) {
		t.Run(storeName, func(t *testing.T) {
			got, err := s.MapCertificate(ctx, []*x509.Certificate{testCert("alice")})
			if err != nil || got != "alice" {
				t.Fatalf("MapCertificate() = %q, %v", got, err)
			}
			if _, err := s.MapCertificate(ctx, []*x509.Certificate{testCert("eve")}); !errors.Is(err, auth.ErrNotFound) {
				t.Errorf("MapCertificate(unmapped) error = %v", err)
			}
			if _, err := s.MapCertificate(ctx, nil); !errors.Is(err, auth.ErrNotFound) {
				t.Errorf("MapCertificate(nil) error = %v", err)
			}
		})
	}
}

func TestMemoryStore_Admin(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("corp")

	if err := s.AddUser(User{}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("AddUser(empty) error = %v", err)
	}
	if err := s.AddUser(User{Name: "x", Status: "weird"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("AddUser(bad status) error = %v", err)
	}
	if err := s.AddUser(User{Name: "erin", UniqueID: "u-9"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := s.AddUser(User{Name: "frank", UniqueID: "u-9"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("AddUser(duplicate unique id) error = %v", err)
	}
	if err := s.MapCertificateSubject("CN=erin", "Erin"); err != nil {
		t.Fatalf("MapCertificateSubject() error = %v", err)
	}
	if err := s.MapCertificateSubject("CN=x", "nobody"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("MapCertificateSubject(unknown) error = %v", err)
	}
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "erin"}}
	if got, _ := s.MapCertificate(ctx, []*x509.Certificate{cert}); got != "erin" {
		t.Fatalf("MapCertificate() = %q", got)
	}

	s.RemoveUser("ERIN")
	if len(s.Users()) != 0 {
		t.Fatalf("Users() = %v, want empty", s.Users())
	}
	if _, err := s.MapCertificate(ctx, []*x509.Certificate{cert}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("mapping survived RemoveUser: %v", err)
	}
}

func TestSQLiteStore_Admin(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(":memory:", "corp")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	if err := s.AddUser(ctx, User{Name: "erin", UniqueID: "u-9", DisplayName: "Erin"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	if err := s.AddUser(ctx, User{Name: "erin", UniqueID: "u-9", DisplayName: "Erin E."}); err != nil {
		t.Fatalf("AddUser(update) error = %v", err)
	}
	if name, _ := s.ResolveDisplayName(ctx, "erin"); name != "Erin E." {
		t.Errorf("display name after update = %q", name)
	}
	if err := s.AddUser(ctx, User{Name: "frank", UniqueID: "u-9"}); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("AddUser(duplicate unique id) error = %v", err)
	}
	if err := s.MapCertificateSubject(ctx, "CN=erin", "erin"); err != nil {
		t.Fatalf("MapCertificateSubject() error = %v", err)
	}
	if err := s.MapCertificateSubject(ctx, "CN=x", "nobody"); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("MapCertificateSubject(unknown) error = %v", err)
	}
	if err := s.RemoveUser(ctx, "erin"); err != nil {
		t.Fatalf("RemoveUser() error = %v", err)
	}
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "erin"}}
	if _, err := s.MapCertificate(ctx, []*x509.Certificate{cert}); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("mapping survived RemoveUser: %v", err)
	}
}

func TestStores_RevokedLookups(t *testing.T) {
	ctx := context.Background()
	for storeName, s := range newStores(t) {
		t.Run(storeName, func(t *testing.T) {
			if _, err := s.MapCertificate(ctx, []*x509.Certificate{testCert("bob")}); !errors.Is(err, auth.ErrUserRevoked) {
				t.Errorf("MapCertificate(revoked) error = %v", err)
			}
			for _, id := range []string{"bob", "u-2"} {
				if _, err := s.ResolveUniqueID(ctx, id); !errors.Is(err, auth.ErrUserRevoked) {
					t.Errorf("ResolveUniqueID(%q) error = %v", id, err)
				}
			}
			r := s.(auth.UniqueIDResolver)
			if _, err := r.DisplayNameByUniqueID(ctx, "u-2"); !errors.Is(err, auth.ErrUserRevoked) {
				t.Errorf("DisplayNameByUniqueID(revoked) error = %v", err)
			}

			// An expired password only blocks the password path.
			if got, err := s.MapCertificate(ctx, []*x509.Certificate{testCert("carol")}); err != nil || got != "carol" {
				t.Errorf("MapCertificate(expired password) = %q, %v", got, err)
			}
			if got, err := s.ResolveUniqueID(ctx, "carol"); err != nil || got != "u-3" {
				t.Errorf("ResolveUniqueID(expired password) = %q, %v", got, err)
			}
		})
	}
}

func TestStores_DisplayNameByUniqueID(t *testing.T) {
	ctx := context.Background()
	users := []User{
		{Name: "alice", UniqueID: "u-1", DisplayName: "Alice Liddell"},
		{Name: "u-1", UniqueID: "u-5", DisplayName: "Impostor"},
	}
	for storeName, s := range newStoresWith(t, users) {
		t.Run(storeName, func(t *testing.T) {
			r := s.(auth.UniqueIDResolver)
			if got, err := r.DisplayNameByUniqueID(ctx, "u-1"); err != nil || got != "Alice Liddell" {
				t.Errorf("DisplayNameByUniqueID(u-1) = %q, %v", got, err)
			}
			if got, err := r.DisplayNameByUniqueID(ctx, "u-5"); err != nil || got != "Impostor" {
				t.Errorf("DisplayNameByUniqueID(u-5) = %q, %v", got, err)
			}
			if _, err := r.DisplayNameByUniqueID(ctx, "alice"); !errors.Is(err, auth.ErrNotFound) {
				t.Errorf("DisplayNameByUniqueID(login name) error = %v", err)
			}
		})
	}
}

func TestStores_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for storeName, s := range newStores(t) {
		t.Run(storeName, func(t *testing.T) {
			_, err := s.ResolveUniqueID(ctx, "alice")
			if !errors.Is(err, context.Canceled) || errors.Is(err, auth.ErrStoreUnavailable) {
				t.Errorf("ResolveUniqueID() error = %v, want context.Canceled only", err)
			}
			_, err = s.MapCertificate(ctx, []*x509.Certificate{testCert("alice")})
			if !errors.Is(err, context.Canceled) || errors.Is(err, auth.ErrStoreUnavailable) {
				t.Errorf("MapCertificate() error = %v, want context.Canceled only", err)
			}
		})
	}
}

func TestSQLiteStore_ClosedIsUnavailable(t *testing.T) {
	s, err := NewSQLiteStore(":memory:", "corp")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	_ = s.Close()

	if _, err := s.ResolveUniqueID(context.Background(), "alice"); !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("ResolveUniqueID() on closed db error = %v", err)
	}
	if _, err := s.VerifyPassword(context.Background(), "alice", "x"); !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("VerifyPassword() on closed db error = %v", err)
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	u := &User{Name: "x", PasswordHash: h, Status: StatusActive}
	if got, err := checkPassword(u, "s3cret"); err != nil || got != "x" {
		t.Fatalf("checkPassword() = %q, %v", got, err)
	}
}
