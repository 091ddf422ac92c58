package store

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonwraymond/authchain/auth"
)

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	// DSN is a libpq connection string or URL.
	DSN string

	// Realm names the user registry in access ids.
	Realm string

	// MaxConns bounds the pool. Zero keeps the pgx default.
	MaxConns int32
}

// PostgresStore is an identity store backed by PostgreSQL. It keeps the
// same two tables as SQLiteStore; names are matched case-insensitively
// through a unique index on lower(name).
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: query failures wrap auth.ErrStoreUnavailable.
type PostgresStore struct {
	pool   *pgxpool.Pool
	realm  string
	logger *slog.Logger
}

// NewPostgresStore connects, checks the connection and creates the schema
// if it doesn't exist.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable(ctx, "connect", err)
	}

	s := &PostgresStore{
		pool:   pool,
		realm:  cfg.Realm,
		logger: slog.Default().With("component", "store", "realm", cfg.Realm),
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("PostgreSQL identity store initialized", "host", poolCfg.ConnConfig.Host)
	return s, nil
}

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		name          TEXT PRIMARY KEY,
		unique_id     TEXT NOT NULL UNIQUE,
		display_name  TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL CHECK (status IN ('active', 'revoked', 'password_expired')),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_name_lower ON users (lower(name));

	CREATE TABLE IF NOT EXISTS cert_mappings (
		subject_dn TEXT PRIMARY KEY,
		user_name  TEXT NOT NULL REFERENCES users(name) ON DELETE CASCADE ON UPDATE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_cert_mappings_user ON cert_mappings(user_name);
`

// Close closes the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Realm returns the store realm.
func (s *PostgresStore) Realm() string { return s.realm }

// AddUser inserts or replaces a user and its certificate mappings.
func (s *PostgresStore) AddUser(ctx context.Context, u User) error {
	u, err := u.normalize()
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var name string
		err := tx.QueryRow(ctx, `
			INSERT INTO users (name, unique_id, display_name, password_hash, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT ((lower(name))) DO UPDATE SET
				unique_id = excluded.unique_id,
				display_name = excluded.display_name,
				password_hash = excluded.password_hash,
				status = excluded.status,
				updated_at = now()
			RETURNING name`,
			u.Name, u.UniqueID, u.DisplayName, u.PasswordHash, string(u.Status),
		).Scan(&name)
		if err != nil {
			return err
		}
		for _, dn := range u.Certificates {
			if err := s.mapSubject(ctx, tx, dn, name); err != nil {
				return err
			}
		}
		return nil
	})
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		s.logger.Debug("user stored", "user", u.Name, "certificates", len(u.Certificates))
		return nil
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return fmt.Errorf("%w: unique id %q already used", ErrInvalidUser, u.UniqueID)
	case errors.Is(err, auth.ErrStoreUnavailable) || isContextError(err):
		return err
	default:
		return unavailable(ctx, "insert user", err)
	}
}

// MapCertificateSubject maps a certificate subject DN to an existing user.
func (s *PostgresStore) MapCertificateSubject(ctx context.Context, dn, name string) error {
	var stored string
	err := s.pool.QueryRow(ctx, `SELECT name FROM users WHERE lower(name) = lower($1)`, name).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("store: map certificate to %q: %w", name, auth.ErrNotFound)
	}
	if err != nil {
		return unavailable(ctx, "lookup user", err)
	}
	return s.mapSubject(ctx, s.pool, dn, stored)
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) mapSubject(ctx context.Context, db pgExecer, dn, name string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO cert_mappings (subject_dn, user_name) VALUES ($1, $2)
		ON CONFLICT (subject_dn) DO UPDATE SET user_name = excluded.user_name`,
		dn, name)
	if err != nil {
		return unavailable(ctx, "map certificate", err)
	}
	return nil
}

// RemoveUser deletes a user. Its certificate mappings cascade.
func (s *PostgresStore) RemoveUser(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM users WHERE lower(name) = lower($1)`, name); err != nil {
		return unavailable(ctx, "delete user", err)
	}
	return nil
}

// VerifyPassword checks the password and returns the user name.
func (s *PostgresStore) VerifyPassword(ctx context.Context, name, password string) (string, error) {
	var u User
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT name, password_hash, status FROM users WHERE lower(name) = lower($1)`, name,
	).Scan(&u.Name, &u.PasswordHash, &status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return checkPassword(nil, password)
	case err != nil:
		return "", unavailable(ctx, "verify password", err)
	}
	u.Status = Status(status)
	return checkPassword(&u, password)
}

// MapCertificate maps the leaf certificate subject DN to a user name.
// Revoked users report auth.ErrUserRevoked.
func (s *PostgresStore) MapCertificate(ctx context.Context, chain []*x509.Certificate) (string, error) {
	dn := leafDN(chain)
	if dn == "" {
		return "", auth.ErrNotFound
	}
	return s.queryActive(ctx, "map certificate",
		`SELECT u.name, u.status FROM cert_mappings m JOIN users u ON u.name = m.user_name
		 WHERE m.subject_dn = $1`, dn)
}

// ResolveDisplayName returns the display name of a user given its name or
// unique id. A name match wins over a unique id match.
func (s *PostgresStore) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	var out string
	err := s.scan(ctx, "resolve display name",
		`SELECT display_name FROM users WHERE lower(name) = lower($1) OR unique_id = $1
		 ORDER BY lower(name) = lower($1) DESC LIMIT 1`, []any{id}, &out)
	return out, err
}

// ResolveUniqueID returns the unique id of a user given its name or unique
// id. Revoked users report auth.ErrUserRevoked.
func (s *PostgresStore) ResolveUniqueID(ctx context.Context, name string) (string, error) {
	return s.queryActive(ctx, "resolve unique id",
		`SELECT unique_id, status FROM users WHERE lower(name) = lower($1) OR unique_id = $1
		 ORDER BY lower(name) = lower($1) DESC LIMIT 1`, name)
}

// DisplayNameByUniqueID returns the display name of the user with exactly
// this unique id.
func (s *PostgresStore) DisplayNameByUniqueID(ctx context.Context, uniqueID string) (string, error) {
	return s.queryActive(ctx, "resolve display name",
		`SELECT display_name, status FROM users WHERE unique_id = $1`, uniqueID)
}

func (s *PostgresStore) queryActive(ctx context.Context, op, query string, arg any) (string, error) {
	var out, status string
	if err := s.scan(ctx, op, query, []any{arg}, &out, &status); err != nil {
		return "", err
	}
	if err := checkStatus(Status(status)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *PostgresStore) scan(ctx context.Context, op, query string, args []any, dest ...any) error {
	err := s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
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
	_ auth.IdentityStore    = (*PostgresStore)(nil)
	_ auth.UniqueIDResolver = (*PostgresStore)(nil)
)

