package adaptation

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

// Config holds the adaptation store's database configuration, matching the
// separate-database-per-store philosophy of pkg/store, pkg/audit,
// pkg/secrets, and pkg/auth (spec.md §6.3: "separate file").
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

// PostgresRepository is the pgx-backed adaptation.Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a connection pool and applies all pending
// migrations before returning.
func NewPostgresRepository(ctx context.Context, cfg Config) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("adaptation: connect: %w", err)
	}

	migrationsPath := cfg.MigrationsPath
	if migrationsPath == "" {
		migrationsPath = "pkg/adaptation/migrations"
	}
	m, err := migrate.New("file://"+migrationsPath, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("adaptation: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("adaptation: apply migrations: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

// Baseline implements Repository.
func (r *PostgresRepository) Baseline(ctx context.Context) (Vector, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT vector FROM adaptation_baseline WHERE id = 1`)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperrors.Transient("adaptation.postgres", "read baseline", err)
	}
	var v Vector
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, apperrors.Transient("adaptation.postgres", "unmarshal baseline", err)
	}
	return v, true, nil
}

// SetBaseline implements Repository.
func (r *PostgresRepository) SetBaseline(ctx context.Context, v Vector) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apperrors.Validation("adaptation.postgres", "marshal baseline: "+err.Error())
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO adaptation_baseline (id, vector, created_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET vector = EXCLUDED.vector`, raw)
	if err != nil {
		return apperrors.Transient("adaptation.postgres", "set baseline", err)
	}
	return nil
}

// Put implements Repository.
func (r *PostgresRepository) Put(ctx context.Context, change *models.ConfigurationChange) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO configuration_changes (
			id, scope, target_path, old_value, new_value, estimated_variance,
			confidence, status, proposed_at, applied_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, applied_at = EXCLUDED.applied_at`,
		change.ID, string(change.Scope), change.TargetPath,
		fmt.Sprintf("%v", change.OldValue), fmt.Sprintf("%v", change.NewValue),
		change.EstimatedVariance, change.Confidence, string(change.Status),
		change.ProposedAt, change.AppliedAt)
	if err != nil {
		return apperrors.Transient("adaptation.postgres", "put configuration change", err)
	}
	return nil
}

// GetByID implements Repository.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.ConfigurationChange, error) {
	row := r.pool.QueryRow(ctx, selectChangeSQL+` WHERE id = $1`, id)
	return scanChange(row)
}

// ListByStatus implements Repository.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status models.ChangeStatus) ([]*models.ConfigurationChange, error) {
	rows, err := r.pool.Query(ctx, selectChangeSQL+` WHERE status = $1 ORDER BY proposed_at`, string(status))
	if err != nil {
		return nil, apperrors.Transient("adaptation.postgres", "list configuration changes", err)
	}
	defer rows.Close()

	var out []*models.ConfigurationChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, change)
	}
	return out, rows.Err()
}

// UpdateStatus implements Repository.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.ChangeStatus, appliedAt *time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE configuration_changes SET status = $1, applied_at = $2 WHERE id = $3`,
		string(status), appliedAt, id)
	if err != nil {
		return apperrors.Transient("adaptation.postgres", "update configuration change status", err)
	}
	return nil
}

// CumulativeAppliedVariance implements Repository.
func (r *PostgresRepository) CumulativeAppliedVariance(ctx context.Context) (float64, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(estimated_variance), 0) FROM configuration_changes WHERE status = $1`, string(models.ChangeApplied))
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, apperrors.Transient("adaptation.postgres", "sum applied variance", err)
	}
	return total, nil
}

const selectChangeSQL = `
	SELECT id, scope, target_path, old_value, new_value, estimated_variance,
	       confidence, status, proposed_at, applied_at
	FROM configuration_changes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(row rowScanner) (*models.ConfigurationChange, error) {
	var change models.ConfigurationChange
	var scope, status string
	var oldValue, newValue string

	err := row.Scan(
		&change.ID, &scope, &change.TargetPath, &oldValue, &newValue,
		&change.EstimatedVariance, &change.Confidence, &status,
		&change.ProposedAt, &change.AppliedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient("adaptation.postgres", "scan configuration change", err)
	}

	change.Scope = models.ConfigScope(scope)
	change.Status = models.ChangeStatus(status)
	change.OldValue = oldValue
	change.NewValue = newValue
	return &change, nil
}
