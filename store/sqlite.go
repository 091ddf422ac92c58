package store

import (
	"context"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jonwraymond/authchain/auth"
)

// SQLiteStore is an identity store backed by SQLite.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: query failures wrap auth.ErrStoreUnavailable.
type SQLiteStore struct {
	db     *sql.DB
	realm  string
	logger *slog.Logger
}

// NewSQLiteStore opens the database at path and creates the schema if it
// doesn't exist. Use ":memory:" for a private in-memory database.
func NewSQLiteStore(path, realm string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "realm", realm)

	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, realm: realm, logger: logger}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite identity store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			name          TEXT PRIMARY KEY COLLATE NOCASE,
			unique_id     TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (status IN ('active', 'revoked', 'password_expired'))
		);

		CREATE TABLE IF NOT EXISTS cert_mappings (
			subject_dn TEXT PRIMARY KEY,
			user_name  TEXT NOT NULL COLLATE NOCASE,
			created_at TEXT NOT NULL,
			FOREIGN KEY (user_name) REFERENCES users(name) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_cert_mappings_user ON cert_mappings(user_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Realm returns the store realm.
func (s *SQLiteStore) Realm() string { return s.realm }

// AddUser inserts or replaces a user and its certificate mappings.
func (s *SQLiteStore) AddUser(ctx context.Context, u User) error {
	u, err := u.normalize()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(ctx, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (name, unique_id, display_name, password_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			unique_id = excluded.unique_id,
			display_name = excluded.display_name,
			password_hash = excluded.password_hash,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		u.Name, u.UniqueID, u.DisplayName, u.PasswordHash, string(u.Status), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: unique id %q already used", ErrInvalidUser, u.UniqueID)
		}
		return unavailable(ctx, "insert user", err)
	}
	for _, dn := range u.Certificates {
		if err := mapSubject(ctx, tx, dn, u.Name, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable(ctx, "commit", err)
	}

	s.logger.Debug("user stored", "user", u.Name, "certificates", len(u.Certificates))
	return nil
}

// MapCertificateSubject maps a certificate subject DN to an existing user.
func (s *SQLiteStore) MapCertificateSubject(ctx context.Context, dn, name string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE name = ?`, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: map certificate to %q: %w", name, auth.ErrNotFound)
	}
	if err != nil {
		return unavailable(ctx, "lookup user", err)
	}
	return mapSubject(ctx, s.db, dn, name, time.Now().UTC().Format(time.RFC3339))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func mapSubject(ctx context.Context, db execer, dn, name, now string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO cert_mappings (subject_dn, user_name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(subject_dn) DO UPDATE SET user_name = excluded.user_name`,
		dn, name, now)
	if err != nil {
		return unavailable(ctx, "map certificate", err)
	}
	return nil
}

// RemoveUser deletes a user and its certificate mappings.
func (s *SQLiteStore) RemoveUser(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(ctx, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	// foreign_keys is per connection, so cascades are not relied on.
	if _, err := tx.ExecContext(ctx, `DELETE FROM cert_mappings WHERE user_name = ?`, name); err != nil {
		return unavailable(ctx, "delete certificate mappings", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE name = ?`, name); err != nil {
		return unavailable(ctx, "delete user", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(ctx, "commit", err)
	}
	return nil
}

// VerifyPassword checks the password and returns the user name.
func (s *SQLiteStore) VerifyPassword(ctx context.Context, name, password string) (string, error) {
	var u User
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, password_hash, status FROM users WHERE name = ?`, name,
	).Scan(&u.Name, &u.PasswordHash, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return checkPassword(nil, password)
	case err != nil:
		return "", unavailable(ctx, "verify password", err)
	}
	u.Status = Status(status)
	return checkPassword(&u, password)
}

// MapCertificate maps the leaf certificate subject DN to a user name.
// Revoked users report auth.ErrUserRevoked.
func (s *SQLiteStore) MapCertificate(ctx context.Context, chain []*x509.Certificate) (string, error) {
	dn := leafDN(chain)
	if dn == "" {
		return "", auth.ErrNotFound
	}
	return s.queryActive(ctx, "map certificate",
		`SELECT u.name, u.status FROM cert_mappings m JOIN users u ON u.name = m.user_name
		 WHERE m.subject_dn = ?`, dn)
}

// ResolveDisplayName returns the display name of a user given its name or
// unique id.
func (s *SQLiteStore) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	var out string
	err := s.scan(ctx, "resolve display name",
		`SELECT display_name FROM users WHERE name = ?1 OR unique_id = ?1
		 ORDER BY name = ?1 DESC LIMIT 1`, []any{id}, &out)
	return out, err
}

// ResolveUniqueID returns the unique id of a user given its name or unique
// id. Revoked users report auth.ErrUserRevoked.
func (s *SQLiteStore) ResolveUniqueID(ctx context.Context, name string) (string, error) {
	return s.queryActive(ctx, "resolve unique id",
		`SELECT unique_id, status FROM users WHERE name = ?1 OR unique_id = ?1
		 ORDER BY name = ?1 DESC LIMIT 1`, name)
}

// DisplayNameByUniqueID returns the display name of the user with exactly
// this unique id.
func (s *SQLiteStore) DisplayNameByUniqueID(ctx context.Context, uniqueID string) (string, error) {
	return s.queryActive(ctx, "resolve display name",
		`SELECT display_name, status FROM users WHERE unique_id = ?`, uniqueID)
}

// queryActive scans a value and an account status, rejecting revoked
// accounts.
func (s *SQLiteStore) queryActive(ctx context.Context, op, query string, arg any) (string, error) {
	var out, status string
	if err := s.scan(ctx, op, query, []any{arg}, &out, &status); err != nil {
		return "", err
	}
	if err := checkStatus(Status(status)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *SQLiteStore) scan(ctx context.Context, op, query string, args []any, dest ...any) error {
	err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.ErrNotFound
	case err != nil:
		err = unavailable(ctx, op, err)
		if isOutage(err) {
			s.logger.Error("identity query failed", "op", op, "error", err)
		}
		return err
	}
	return nil
}

var (
	_ auth.IdentityStore    = (*SQLiteStore)(nil)
	_ auth.UniqueIDResolver = (*SQLiteStore)(nil)
)
