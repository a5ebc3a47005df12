package audit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// Keyring manages the signing-key rotation table (spec.md §4.7: "Signing
// keys rotate; revoked keys remain in a key table so historic entries
// verify"). Grounded on tarsy's versioned-migration approach
// (pkg/database/migrations.go), generalized here to a signing-key table
// rather than a schema-version table (SPEC_FULL.md §4.7).
type Keyring struct {
	store KeyStore
}

// KeyStore is the persistence contract for signing keys.
type KeyStore interface {
	PutKey(ctx context.Context, key *models.SigningKey) error
	ActiveKey(ctx context.Context) (*models.SigningKey, error)
	KeyByID(ctx context.Context, id string) (*models.SigningKey, error)
	RevokeActive(ctx context.Context, at time.Time) error
}

// NewKeyring builds a Keyring over a KeyStore.
func NewKeyring(store KeyStore) *Keyring {
	return &Keyring{store: store}
}

// Rotate generates a fresh Ed25519 keypair, revokes the currently active
// key (if any), and activates the new one. Revoked keys are never deleted
// so historic entries they signed continue to verify.
func (k *Keyring) Rotate(ctx context.Context) (*models.SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIntegrity, "audit.keyring", "generate ed25519 key", err)
	}

	now := time.Now().UTC()
	if err := k.store.RevokeActive(ctx, now); err != nil {
		return nil, err
	}

	key := &models.SigningKey{
		ID:         fmt.Sprintf("key-%s", uuid.NewString()),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  now,
		Active:     true,
	}
	if err := k.store.PutKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}
