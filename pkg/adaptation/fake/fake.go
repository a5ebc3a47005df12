// Package fake is an in-memory adaptation.Repository for tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/wisebound/sentinel/pkg/adaptation"
	"github.com/wisebound/sentinel/pkg/models"
)

// Repository is an in-memory adaptation.Repository.
type Repository struct {
	mu         sync.Mutex
	baseline   adaptation.Vector
	hasBaseline bool
	changes    map[string]*models.ConfigurationChange
}

// New builds an empty Repository.
func New() *Repository {
	return &Repository{changes: make(map[string]*models.ConfigurationChange)}
}

// Baseline implements adaptation.Repository.
func (r *Repository) Baseline(ctx context.Context) (adaptation.Vector, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseline, r.hasBaseline, nil
}

// SetBaseline implements adaptation.Repository.
func (r *Repository) SetBaseline(ctx context.Context, v adaptation.Vector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseline = v
	r.hasBaseline = true
	return nil
}

// Put implements adaptation.Repository.
func (r *Repository) Put(ctx context.Context, change *models.ConfigurationChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *change
	r.changes[change.ID] = &cp
	return nil
}

// GetByID implements adaptation.Repository.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.ConfigurationChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.changes[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// ListByStatus implements adaptation.Repository.
func (r *Repository) ListByStatus(ctx context.Context, status models.ChangeStatus) ([]*models.ConfigurationChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ConfigurationChange
	for _, c := range r.changes {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateStatus implements adaptation.Repository.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.ChangeStatus, appliedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.changes[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.AppliedAt = appliedAt
	return nil
}

// CumulativeAppliedVariance implements adaptation.Repository.
func (r *Repository) CumulativeAppliedVariance(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for _, c := range r.changes {
		if c.Status == models.ChangeApplied {
			total += c.EstimatedVariance
		}
	}
	return total, nil
}
