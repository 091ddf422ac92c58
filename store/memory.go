package store

import (
	"context"
	"crypto/x509"
	"fmt"
	"sort"
	"sync"

	"github.com/jonwraymond/authchain/auth"
)

// MemoryStore is an in-memory identity store.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Lookups by name are case-insensitive; lookups by unique id are exact.
type MemoryStore struct {
	realm string

	mu       sync.RWMutex
	byName   map[string]*User
	byUnique map[string]*User
	byDN     map[string]string
}

// NewMemoryStore creates an empty store for realm.
func NewMemoryStore(realm string) *MemoryStore {
	return &MemoryStore{
		realm:    realm,
		byName:   make(map[string]*User),
		byUnique: make(map[string]*User),
		byDN:     make(map[string]string),
	}
}

// Realm returns the store realm.
func (s *MemoryStore) Realm() string { return s.realm }

// AddUser adds or replaces a user.
func (s *MemoryStore) AddUser(u User) error {
	u, err := u.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byUnique[u.UniqueID]; ok && foldKey(prev.Name) != foldKey(u.Name) {
		return fmt.Errorf("%w: unique id %q already used by %q", ErrInvalidUser, u.UniqueID, prev.Name)
	}
	if prev, ok := s.byName[foldKey(u.Name)]; ok {
		s.removeLocked(prev)
	}

	stored := u
	stored.Certificates = append([]string(nil), u.Certificates...)
	s.byName[foldKey(u.Name)] = &stored
	s.byUnique[u.UniqueID] = &stored
	for _, dn := range stored.Certificates {
		s.byDN[dn] = stored.Name
	}
	return nil
}

// RemoveUser removes a user and its certificate mappings.
func (s *MemoryStore) RemoveUser(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byName[foldKey(name)]; ok {
		s.removeLocked(u)
	}
}

func (s *MemoryStore) removeLocked(u *User) {
	delete(s.byName, foldKey(u.Name))
	delete(s.byUnique, u.UniqueID)
	for dn, name := range s.byDN {
		if name == u.Name {
			delete(s.byDN, dn)
		}
	}
}

// MapCertificateSubject maps a certificate subject DN to an existing user.
func (s *MemoryStore) MapCertificateSubject(dn, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byName[foldKey(name)]
	if !ok {
		return fmt.Errorf("store: map certificate to %q: %w", name, auth.ErrNotFound)
	}
	s.byDN[dn] = u.Name
	return nil
}

// Users returns the user names, sorted.
func (s *MemoryStore) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byName))
	for _, u := range s.byName {
		names = append(names, u.Name)
	}
	sort.Strings(names)
	return names
}

// lookup finds a user by name or unique id.
func (s *MemoryStore) lookup(id string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.byName[foldKey(id)]; ok {
		return u
	}
	return s.byUnique[id]
}

// VerifyPassword checks the password and returns the user name.
func (s *MemoryStore) VerifyPassword(ctx context.Context, name, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	u := s.byName[foldKey(name)]
	s.mu.RUnlock()
	return checkPassword(u, password)
}

// MapCertificate maps the leaf certificate subject DN to a user name.
// Revoked users report auth.ErrUserRevoked.
func (s *MemoryStore) MapCertificate(ctx context.Context, chain []*x509.Certificate) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dn := leafDN(chain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.byDN[dn]
	if dn == "" || !ok {
		return "", auth.ErrNotFound
	}
	u, ok := s.byName[foldKey(name)]
	if !ok {
		return "", auth.ErrNotFound
	}
	if err := checkStatus(u.Status); err != nil {
		return "", err
	}
	return u.Name, nil
}

// ResolveDisplayName returns the display name of a user given its name or
// unique id.
func (s *MemoryStore) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u := s.lookup(id)
	if u == nil {
		return "", auth.ErrNotFound
	}
	return u.DisplayName, nil
}

// ResolveUniqueID returns the unique id of a user given its name or
// unique id. Revoked users report auth.ErrUserRevoked.
func (s *MemoryStore) ResolveUniqueID(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u := s.lookup(name)
	if u == nil {
		return "", auth.ErrNotFound
	}
	if err := checkStatus(u.Status); err != nil {
		return "", err
	}
	return u.UniqueID, nil
}

// DisplayNameByUniqueID returns the display name of the user with exactly
// this unique id. Login names are not consulted.
func (s *MemoryStore) DisplayNameByUniqueID(ctx context.Context, uniqueID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	u := s.byUnique[uniqueID]
	s.mu.RUnlock()
	if u == nil {
		return "", auth.ErrNotFound
	}
	if err := checkStatus(u.Status); err != nil {
		return "", err
	}
	return u.DisplayName, nil
}

var (
	_ auth.IdentityStore    = (*MemoryStore)(nil)
	_ auth.UniqueIDResolver = (*MemoryStore)(nil)
)
