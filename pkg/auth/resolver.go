package auth

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// Repository is the persistence contract for WA certificates, narrow enough
// for pkg/auth/postgres.go and pkg/auth/fake to both satisfy it.
type Repository interface {
	Put(ctx context.Context, cert *models.WACertificate) error
	GetByID(ctx context.Context, id string) (*models.WACertificate, error)
	GetByTokenHash(ctx context.Context, hash []byte) (*models.WACertificate, error)
	Deactivate(ctx context.Context, id string) error
}

// Resolver resolves a bearer token to an AuthorizationContext (spec.md
// §6.4: "Every runtime-control endpoint checks a bearer token. A valid
// token resolves to an AuthorizationContext carrying (wa_id, role,
// scopes)").
type Resolver struct {
	repo Repository
}

// NewResolver builds a Resolver over a Repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve looks up the certificate owning token and, if active, returns its
// AuthorizationContext. Authorization failures never reveal more than
// "forbidden" to the caller (spec.md §7); the detailed reason is only
// returned to server-side logging/audit callers.
func (r *Resolver) Resolve(ctx context.Context, token string) (models.AuthorizationContext, error) {
	if token == "" {
		return models.AuthorizationContext{}, apperrors.Authorization("auth.resolver", "missing bearer token")
	}
	cert, err := r.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		return models.AuthorizationContext{}, err
	}
	if cert == nil || !cert.Active {
		return models.AuthorizationContext{}, apperrors.Authorization("auth.resolver", "token does not resolve to an active certificate")
	}
	return models.AuthorizationContext{WAID: cert.ID, Role: cert.Role, Scopes: cert.Scopes}, nil
}

// IssueObserverToken mints a channel-scoped observer certificate carrying
// only read:any and write:message, issued per transport adapter at startup
// (spec.md §6.4). It is signed by root's private key, one level below root
// in the default deployment topology.
func IssueObserverToken(ctx context.Context, repo Repository, root *models.WACertificate, rootPriv ed25519.PrivateKey, channelID string) (*models.WACertificate, string, error) {
	cert, token, err := Mint(root, rootPriv, models.WARoleObserver,
		[]string{models.ScopeReadAny, models.ScopeWriteMessage}, models.WATokenChannel, time.Now().UTC())
	if err != nil {
		return nil, "", err
	}
	if channelID != "" {
		cert.ChannelBinding = &channelID
	}
	if err := repo.Put(ctx, cert); err != nil {
		return nil, "", err
	}
	return cert, token, nil
}
