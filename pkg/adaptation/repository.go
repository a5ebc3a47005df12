package adaptation

import (
	"context"
	"time"

	"github.com/wisebound/sentinel/pkg/models"
)

// Repository is the persistence contract the Controller writes through,
// kept narrow so postgres.go and an in-memory fake both satisfy it
// (the same per-package pattern as pkg/store, pkg/audit, pkg/secrets,
// pkg/auth).
type Repository interface {
	Baseline(ctx context.Context) (Vector, bool, error)
	SetBaseline(ctx context.Context, v Vector) error
	Put(ctx context.Context, change *models.ConfigurationChange) error
	GetByID(ctx context.Context, id string) (*models.ConfigurationChange, error)
	ListByStatus(ctx context.Context, status models.ChangeStatus) ([]*models.ConfigurationChange, error)
	UpdateStatus(ctx context.Context, id string, status models.ChangeStatus, appliedAt *time.Time) error
	CumulativeAppliedVariance(ctx context.Context) (float64, error)
}
