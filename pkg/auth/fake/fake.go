// Package fake provides an in-memory auth.Repository for tests.
package fake

import (
	"context"
	"sync"

	"github.com/wisebound/sentinel/pkg/auth"
	"github.com/wisebound/sentinel/pkg/models"
)

// Repository is an in-memory auth.Repository.
type Repository struct {
	mu   sync.Mutex
	byID map[string]*models.WACertificate
}

// New builds an empty Repository.
func New() *Repository {
	return &Repository{byID: make(map[string]*models.WACertificate)}
}

func (r *Repository) Put(_ context.Context, cert *models.WACertificate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cert
	r.byID[cert.ID] = &cp
	return nil
}

func (r *Repository) GetByID(_ context.Context, id string) (*models.WACertificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cert, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *cert
	return &cp, nil
}

func (r *Repository) GetByTokenHash(_ context.Context, hash []byte) (*models.WACertificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cert := range r.byID {
		if auth.MatchTokenHash(cert.TokenHash, hash) {
			cp := *cert
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Repository) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cert, ok := r.byID[id]; ok {
		cert.Active = false
	}
	return nil
}
