package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/store/query"
)

// Config holds the Audit Chain's database configuration (spec.md §6.3:
// "separate file; append-only").
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MigrationsPath string
}

func (c Config) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// PostgresStore implements Store and KeyStore over pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool and applies pending migrations.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("audit: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	path := cfg.MigrationsPath
	if path == "" {
		path = "pkg/audit/migrations"
	}
	m, err := migrate.New("file://"+path, cfg.dsn())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		pool.Close()
		return nil, fmt.Errorf("audit: apply migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an already-open pool, for tests.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// LastEntry returns the highest-sequence row, or nil if the chain is empty.
func (s *PostgresStore) LastEntry(ctx context.Context) (*models.AuditEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT event_id, sequence_number, event_timestamp, event_type, originator_id,
		       payload, previous_hash, entry_hash, signature, signing_key_id
		FROM audit_entries ORDER BY sequence_number DESC LIMIT 1`)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// Append inserts a new row. Sequence uniqueness is enforced by a unique
// constraint on sequence_number in the migration; the sequence value itself
// is assigned by Chain.Append as the last row's sequence plus one.
func (s *PostgresStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return apperrors.Validation("audit.store", "marshal payload: "+err.Error())
	}
	sqlStr, args := query.InsertInto("audit_entries").
		Set("event_id", entry.EventID).
		Set("sequence_number", entry.SequenceNumber).
		Set("event_timestamp", entry.EventTimestamp).
		Set("event_type", string(entry.EventType)).
		Set("originator_id", entry.OriginatorID).
		Set("payload", payload).
		Set("previous_hash", entry.PreviousHash).
		Set("entry_hash", entry.EntryHash).
		Set("signature", entry.Signature).
		Set("signing_key_id", entry.SigningKeyID).
		Build()
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return apperrors.Transient("audit.store", "append entry", err)
	}
	return nil
}

// EntryAt returns the row at the given sequence number.
func (s *PostgresStore) EntryAt(ctx context.Context, sequence int64) (*models.AuditEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT event_id, sequence_number, event_timestamp, event_type, originator_id,
		       payload, previous_hash, entry_hash, signature, signing_key_id
		FROM audit_entries WHERE sequence_number = $1`, sequence)
	return scanEntry(row)
}

// Tail returns the last n rows in ascending sequence order.
func (s *PostgresStore) Tail(ctx context.Context, n int) ([]*models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, sequence_number, event_timestamp, event_type, originator_id,
		       payload, previous_hash, entry_hash, signature, signing_key_id
		FROM (
			SELECT * FROM audit_entries ORDER BY sequence_number DESC LIMIT $1
		) recent ORDER BY sequence_number ASC`, n)
	if err != nil {
		return nil, apperrors.Transient("audit.store", "tail", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// All returns every row in ascending sequence order.
func (s *PostgresStore) All(ctx context.Context) ([]*models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, sequence_number, event_timestamp, event_type, originator_id,
		       payload, previous_hash, entry_hash, signature, signing_key_id
		FROM audit_entries ORDER BY sequence_number ASC`)
	if err != nil {
		return nil, apperrors.Transient("audit.store", "select all", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var eventType, signingKeyID string
	var payload []byte
	err := row.Scan(&e.EventID, &e.SequenceNumber, &e.EventTimestamp, &eventType, &e.OriginatorID,
		&payload, &e.PreviousHash, &e.EntryHash, &e.Signature, &signingKeyID)
	if err != nil {
		return nil, apperrors.Transient("audit.store", "scan entry", err)
	}
	e.EventType = models.AuditEventType(eventType)
	e.SigningKeyID = signingKeyID
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, apperrors.Transient("audit.store", "unmarshal payload", err)
		}
	}
	return &e, nil
}

// ActiveSigningKey returns the currently active signing key, or nil if none
// is configured (an unsigned row is an integrity warning, not a failure).
func (s *PostgresStore) ActiveSigningKey(ctx context.Context) (*models.SigningKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, public_key, private_key, created_at, revoked_at, active
		FROM signing_keys WHERE active = true ORDER BY created_at DESC LIMIT 1`)
	key, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return key, err
}

// SigningKeyByID returns a key by id, including revoked keys, so historic
// entries continue to verify.
func (s *PostgresStore) SigningKeyByID(ctx context.Context, id string) (*models.SigningKey, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, public_key, private_key, created_at, revoked_at, active
		FROM signing_keys WHERE id = $1`, id)
	key, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return key, err
}

// PutKey inserts a new signing key row.
func (s *PostgresStore) PutKey(ctx context.Context, key *models.SigningKey) error {
	sqlStr, args := query.InsertInto("signing_keys").
		Set("id", key.ID).
		Set("public_key", key.PublicKey).
		Set("private_key", key.PrivateKey).
		Set("created_at", key.CreatedAt).
		Set("active", key.Active).
		Build()
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return apperrors.Transient("audit.store", "put signing key", err)
	}
	return nil
}

// ActiveKey implements KeyStore.
func (s *PostgresStore) ActiveKey(ctx context.Context) (*models.SigningKey, error) {
	return s.ActiveSigningKey(ctx)
}

// KeyByID implements KeyStore.
func (s *PostgresStore) KeyByID(ctx context.Context, id string) (*models.SigningKey, error) {
	return s.SigningKeyByID(ctx, id)
}

// RevokeActive marks every currently-active key inactive, retaining the
// row so it can still verify historic entries (spec.md §4.7).
func (s *PostgresStore) RevokeActive(ctx context.Context, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE signing_keys SET active = false, revoked_at = $1 WHERE active = true`, at)
	if err != nil {
		return apperrors.Transient("audit.store", "revoke active key", err)
	}
	return nil
}

func scanKey(row rowScanner) (*models.SigningKey, error) {
	var k models.SigningKey
	err := row.Scan(&k.ID, &k.PublicKey, &k.PrivateKey, &k.CreatedAt, &k.RevokedAt, &k.Active)
	if err != nil {
		return nil, apperrors.Transient("audit.store", "scan signing key", err)
	}
	return &k, nil
}
