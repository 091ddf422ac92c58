package store

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jonwraymond/authchain/auth"
)

// DefaultBcryptCost is the cost used by HashPassword.
const DefaultBcryptCost = 10

// dummyHash is compared against when the user does not exist so unknown
// and known users take the same time.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ErrInvalidUser is returned by admin helpers for incomplete user records.
var ErrInvalidUser = errors.New("store: invalid user")

// Status is the account status of a user.
type Status string

const (
	StatusActive          Status = "active"
	StatusRevoked         Status = "revoked"
	StatusPasswordExpired Status = "password_expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusRevoked, StatusPasswordExpired:
		return true
	default:
		return false
	}
}

// err returns the auth error for a non-active status.
func (s Status) err() error {
	switch s {
	case StatusRevoked:
		return auth.ErrUserRevoked
	case StatusPasswordExpired:
		return auth.ErrPasswordExpired
	default:
		return nil
	}
}

// User is an account held by a store.
type User struct {
	// Name is the login name. Lookups by name are case-insensitive.
	Name string `yaml:"name"`

	// UniqueID is the stable identifier used in access ids.
	UniqueID string `yaml:"unique_id"`

	// DisplayName defaults to Name.
	DisplayName string `yaml:"display_name"`

	// PasswordHash is a bcrypt hash. Empty disables password login.
	PasswordHash string `yaml:"password_hash"`

	// Status defaults to StatusActive.
	Status Status `yaml:"status"`

	// Certificates lists certificate subject DNs mapped to this user.
	Certificates []string `yaml:"certificates"`
}

func (u User) normalize() (User, error) {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return u, fmt.Errorf("%w: missing name", ErrInvalidUser)
	}
	if u.UniqueID == "" {
		u.UniqueID = u.Name
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Name
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	if !u.Status.Valid() {
		return u, fmt.Errorf("%w: unknown status %q", ErrInvalidUser, u.Status)
	}
	return u, nil
}

// HashPassword creates a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultBcryptCost)
	if err != nil {
		return "", fmt.Errorf("store: hash password: %w", err)
	}
	return string(hash), nil
}

// checkPassword verifies password against u. The status is only reported
// once the password is known to be correct.
func checkPassword(u *User, password string) (string, error) {
	if u == nil || u.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return "", auth.ErrNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", auth.ErrBadCredentials
	}
	if err := u.Status.err(); err != nil {
		return "", err
	}
	return u.Name, nil
}

// checkStatus reports a revoked account on lookups outside the password
// path. An expired password does not block other credentials.
func checkStatus(s Status) error {
	if s == StatusRevoked {
		return auth.ErrUserRevoked
	}
	return nil
}

// unavailable reports a backend error as an outage. Once the caller's
// context is done the context error is reported instead.
func unavailable(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("store: %s: %w", op, ctxErr)
	}
	return fmt.Errorf("store: %s: %w: %v", op, auth.ErrStoreUnavailable, err)
}

// SubjectDN returns the certificate subject in the form used for
// certificate mappings.
func SubjectDN(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return cert.Subject.String()
}

func leafDN(chain []*x509.Certificate) string {
	if len(chain) == 0 {
		return ""
	}
	return SubjectDN(chain[0])
}

func foldKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
