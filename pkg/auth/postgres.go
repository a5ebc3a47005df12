package auth

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
)

// Config holds the WA certificate store's database configuration, matching
// the separate-database-per-store philosophy of pkg/store, pkg/audit, and
// pkg/secrets (spec.md §6.3: "separate file").
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

// PostgresRepository is the pgx-backed auth.Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a connection pool and applies all pending
// migrations before returning.
func NewPostgresRepository(ctx context.Context, cfg Config) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("auth: connect: %w", err)
	}

	migrationsPath := cfg.MigrationsPath
	if migrationsPath == "" {
		migrationsPath = "pkg/auth/migrations"
	}
	m, err := migrate.New("file://"+migrationsPath, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("auth: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("auth: apply migrations: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

func (r *PostgresRepository) Put(ctx context.Context, cert *models.WACertificate) error {
	scopes, err := json.Marshal(cert.Scopes)
	if err != nil {
		return apperrors.Validation("auth.postgres", "marshal scopes: "+err.Error())
	}
	var oauthProvider, oauthSubject *string
	if cert.OAuth != nil {
		oauthProvider = &cert.OAuth.Provider
		oauthSubject = &cert.OAuth.Subject
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO wa_certificates (
			id, role, public_key, jwt_kid, scopes, parent_id, parent_sig,
			oauth_provider, oauth_subject, channel_binding, token_type,
			active, token_hash, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active`,
		cert.ID, string(cert.Role), cert.PublicKey, cert.JWTKid, scopes,
		cert.ParentID, cert.ParentSig, oauthProvider, oauthSubject,
		cert.ChannelBinding, string(cert.TokenType), cert.Active, cert.TokenHash, cert.CreatedAt)
	if err != nil {
		return apperrors.Transient("auth.postgres", "put certificate", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.WACertificate, error) {
	row := r.pool.QueryRow(ctx, selectCertSQL+" WHERE id = $1", id)
	return scanCert(row)
}

// GetByTokenHash looks up a certificate by its indexed token_hash column.
// The comparison runs inside Postgres rather than through
// MatchTokenHash: there is no Go-side byte comparison here for a timing
// side channel to attack.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, hash []byte) (*models.WACertificate, error) {
	row := r.pool.QueryRow(ctx, selectCertSQL+" WHERE token_hash = $1", hash)
	return scanCert(row)
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE wa_certificates SET active = false WHERE id = $1`, id)
	if err != nil {
		return apperrors.Transient("auth.postgres", "deactivate certificate", err)
	}
	return nil
}

const selectCertSQL = `
	SELECT id, role, public_key, jwt_kid, scopes, parent_id, parent_sig,
	       oauth_provider, oauth_subject, channel_binding, token_type,
	       active, token_hash, created_at
	FROM wa_certificates`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCert(row rowScanner) (*models.WACertificate, error) {
	var cert models.WACertificate
	var role, tokenType string
	var scopesJSON []byte
	var oauthProvider, oauthSubject *string
	var createdAt time.Time

	err := row.Scan(
		&cert.ID, &role, &cert.PublicKey, &cert.JWTKid, &scopesJSON,
		&cert.ParentID, &cert.ParentSig, &oauthProvider, &oauthSubject,
		&cert.ChannelBinding, &tokenType, &cert.Active, &cert.TokenHash, &createdAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient("auth.postgres", "scan certificate", err)
	}

	cert.Role = models.WARole(role)
	cert.TokenType = models.WATokenType(tokenType)
	cert.CreatedAt = createdAt
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &cert.Scopes); err != nil {
			return nil, apperrors.Transient("auth.postgres", "unmarshal scopes", err)
		}
	}
	if oauthProvider != nil && oauthSubject != nil {
		cert.OAuth = &models.WAOAuthLinkage{Provider: *oauthProvider, Subject: *oauthSubject}
	}
	return &cert, nil
}
