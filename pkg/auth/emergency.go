package auth

import (
	"context"
	"crypto/ed25519"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// SignedCommand is a payload plus an Ed25519 signature over it, presented
// to emergency_shutdown (spec.md §4.10: "Emergency shutdown must verify
// the command's Ed25519 signature against an active root/authority key
// before acting").
type SignedCommand struct {
	Payload   []byte
	Signature []byte
	SignerID  string
}

// VerifyEmergencyCommand checks cmd's signature against the named signer's
// certificate, requiring it to be active and role root or authority.
func VerifyEmergencyCommand(ctx context.Context, repo Repository, cmd SignedCommand) error {
	cert, err := repo.GetByID(ctx, cmd.SignerID)
	if err != nil {
		return err
	}
	if cert == nil || !cert.Active {
		return apperrors.Authorization("auth.emergency", "signer certificate is not active")
	}
	if cert.Role != models.WARoleRoot && cert.Role != models.WARoleAuthority {
		return apperrors.Authorization("auth.emergency", "signer is not root or authority")
	}
	if !ed25519.Verify(ed25519.PublicKey(cert.PublicKey), cmd.Payload, cmd.Signature) {
		return apperrors.Authorization("auth.emergency", "signature verification failed")
	}
	return nil
}
