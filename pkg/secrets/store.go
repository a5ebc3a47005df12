// Package secrets implements the Secrets Pipeline (spec.md §4.4): detection
// of secret-shaped substrings on ingress, AES-256-GCM encryption into a
// StoredSecret, decapsulation of allowed references on egress, and the
// recall_secret/update_filter/list_secrets tool surface. Grounded on
// pkg/masking/service.go's pattern-compilation and code-masker split,
// adapted here for reversible detection rather than irreversible redaction
// (SPEC_FULL.md §4.4).
package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/store/query"
)

// Config holds the Secrets Store's database configuration. Spec.md §6.3
// requires the secrets database live in a separate file/DSN from the
// Thought/Task store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MigrationsPath string // defaults to "pkg/secrets/migrations"
}

func (c Config) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Store is the repository over the stored_secrets and secret_access_log
// tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool and applies pending migrations.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("secrets: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("secrets: ping: %w", err)
	}
	if err := runMigrations(cfg); err != nil {
		pool.Close()
		return nil, fmt.Errorf("secrets: run migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an already-open pool, for tests provisioning one
// via testcontainers.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func runMigrations(cfg Config) error {
	path := cfg.MigrationsPath
	if path == "" {
		path = "pkg/secrets/migrations"
	}
	m, err := migrate.New("file://"+path, cfg.dsn())
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Put persists a new StoredSecret row.
func (s *Store) Put(ctx context.Context, secret *models.StoredSecret) error {
	sqlStr, args := query.InsertInto("stored_secrets").
		Set("uuid", secret.UUID).
		Set("ciphertext", secret.Ciphertext).
		Set("salt", secret.Salt).
		Set("nonce", secret.Nonce).
		Set("key_version", secret.KeyVersion).
		Set("description", secret.Description).
		Set("sensitivity", string(secret.Sensitivity)).
		Set("detecting_pattern", secret.DetectingPattern).
		Set("context_hint", secret.ContextHint).
		Set("manual_only", secret.ManualOnly).
		Set("created_at", secret.CreatedAt).
		Build()
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return apperrors.Transient("secrets.store", "insert secret", err)
	}
	return nil
}

// Get fetches a StoredSecret by uuid.
func (s *Store) Get(ctx context.Context, uuid string) (*models.StoredSecret, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT uuid, ciphertext, salt, nonce, key_version, description, sensitivity,
		       detecting_pattern, context_hint, manual_only, created_at, last_accessed_at,
		       access_count
		FROM stored_secrets WHERE uuid = $1`, uuid)
	return scanSecret(row)
}

// List returns every stored secret, optionally filtered to non-sensitive
// ones only (spec.md §4.4 "list_secrets(include_sensitive?)").
func (s *Store) List(ctx context.Context, includeSensitive bool) ([]*models.StoredSecret, error) {
	b := query.From("stored_secrets")
	if !includeSensitive {
		b = b.Where("sensitivity = ANY($%d)", []string{
			string(models.SensitivityLow), string(models.SensitivityMedium),
		})
	}
	sqlStr, args := b.OrderBy("created_at ASC").BuildSelect()
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperrors.Transient("secrets.store", "list", err)
	}
	defer rows.Close()

	var out []*models.StoredSecret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// RecordAccess bumps access_count/last_accessed_at and appends an access
// log row (spec.md §3 "every access produces an access-log row").
func (s *Store) RecordAccess(ctx context.Context, uuid, accessorID, purpose string, decrypted bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Transient("secrets.store", "begin access tx", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE stored_secrets SET access_count = access_count + 1, last_accessed_at = $1 WHERE uuid = $2`,
		now, uuid); err != nil {
		return apperrors.Transient("secrets.store", "bump access count", err)
	}

	sqlStr, args := query.InsertInto("secret_access_log").
		Set("secret_uuid", uuid).
		Set("accessor_id", accessorID).
		Set("purpose", purpose).
		Set("decrypted", decrypted).
		Set("accessed_at", now).
		Build()
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return apperrors.Transient("secrets.store", "insert access log", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Transient("secrets.store", "commit access tx", err)
	}
	return nil
}

// ReplaceAll atomically overwrites the ciphertext/salt/nonce/key_version of
// every stored secret, or commits nothing on any failure (spec.md §4.4 key
// rotation: "failure on any record aborts the whole rotation with no changes
// committed").
func (s *Store) ReplaceAll(ctx context.Context, updates []ReencryptedSecret) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Transient("secrets.store", "begin rotation tx", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			`UPDATE stored_secrets SET ciphertext = $1, salt = $2, nonce = $3, key_version = $4 WHERE uuid = $5`,
			u.Ciphertext, u.Salt, u.Nonce, u.KeyVersion, u.UUID); err != nil {
			return apperrors.Transient("secrets.store", fmt.Sprintf("rotate %s", u.UUID), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Transient("secrets.store", "commit rotation tx", err)
	}
	return nil
}

// ReencryptedSecret is one row's new ciphertext material after a key
// rotation pass (spec.md §4.4).
type ReencryptedSecret struct {
	UUID       string
	Ciphertext []byte
	Salt       []byte
	Nonce      []byte
	KeyVersion int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSecret(row rowScanner) (*models.StoredSecret, error) {
	var sec models.StoredSecret
	var sensitivity string
	err := row.Scan(
		&sec.UUID, &sec.Ciphertext, &sec.Salt, &sec.Nonce, &sec.KeyVersion,
		&sec.Description, &sensitivity, &sec.DetectingPattern, &sec.ContextHint,
		&sec.ManualOnly, &sec.CreatedAt, &sec.LastAccessedAt, &sec.AccessCount,
	)
	if err != nil {
		return nil, apperrors.Transient("secrets.store", "scan secret", err)
	}
	sec.Sensitivity = models.Sensitivity(sensitivity)
	return &sec, nil
}
