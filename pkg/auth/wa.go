// Package auth resolves bearer tokens to AuthorizationContext values and
// implements the Wise-Authority certificate hierarchy: minting, parent-
// signature verification, and the "wa-YYYY-MM-DD-XXXXXX" id format
// (spec.md §3, §6.4; SPEC_FULL.md §9 supplemented feature, grounded on
// ciris_engine/logic/services/infrastructure/authentication and generalized
// to pkg/api/middleware.go's single header-derived auth path). This is the
// one authoritative auth module chosen to resolve SPEC_FULL.md §9's "two
// parallel authentication modules" open question.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// idAlphabet is the character set for the random suffix of a WA id.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewCertificateID mints a "wa-YYYY-MM-DD-XXXXXX" identifier (spec.md §3).
func NewCertificateID(now time.Time) (string, error) {
	suffix, err := randomSuffix(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("wa-%s-%s", now.UTC().Format("2006-01-02"), suffix), nil
}

func randomSuffix(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindIntegrity, "auth.wa", "generate id suffix", err)
		}
		out[i] = idAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// MintRoot self-signs a new root WA certificate, minting the hierarchy's
// trust anchor. Root certificates are the only ones permitted the wildcard
// scope "*" (spec.md §3: "wildcard scope * is exclusive to root").
func MintRoot(now time.Time) (*models.WACertificate, ed25519.PrivateKey, string, error) {
	id, err := NewCertificateID(now)
	if err != nil {
		return nil, nil, "", err
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, "", apperrors.Wrap(apperrors.KindIntegrity, "auth.wa", "generate root keypair", err)
	}
	token, hash, err := newBearerToken()
	if err != nil {
		return nil, nil, "", err
	}

	cert := &models.WACertificate{
		ID:        id,
		Role:      models.WARoleRoot,
		PublicKey: pub,
		JWTKid:    id,
		Scopes:    []string{"*"},
		TokenType: models.WATokenStandard,
		Active:    true,
		TokenHash: hash,
		CreatedAt: now.UTC(),
	}
	return cert, priv, token, nil
}

// Mint issues a non-root certificate signed by parent's private key. The
// child's scopes must be a subset of the parent's, and "*" is rejected
// outright (spec.md §3).
func Mint(parent *models.WACertificate, parentPriv ed25519.PrivateKey, role models.WARole, scopes []string, tokenType models.WATokenType, now time.Time) (*models.WACertificate, string, error) {
	if parent == nil || !parent.Active {
		return nil, "", apperrors.Authorization("auth.wa", "parent certificate is not active")
	}
	if role == models.WARoleRoot {
		return nil, "", apperrors.Validation("auth.wa", "only MintRoot may produce a root certificate")
	}
	for _, sc := range scopes {
		if sc == "*" {
			return nil, "", apperrors.Validation("auth.wa", "wildcard scope is exclusive to root")
		}
		if !parent.HasScope(sc) {
			return nil, "", apperrors.Authorization("auth.wa", fmt.Sprintf("parent lacks scope %q to delegate", sc))
		}
	}

	id, err := NewCertificateID(now)
	if err != nil {
		return nil, "", err
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.KindIntegrity, "auth.wa", "generate keypair", err)
	}
	_ = priv // the child's private key is discarded: Mint neither returns nor stores it; only pub is certified here

	parentID := parent.ID
	sig := ed25519.Sign(parentPriv, pub)

	token, hash, err := newBearerToken()
	if err != nil {
		return nil, "", err
	}

	cert := &models.WACertificate{
		ID:        id,
		Role:      role,
		PublicKey: pub,
		JWTKid:    id,
		Scopes:    append([]string(nil), scopes...),
		ParentID:  &parentID,
		ParentSig: sig,
		TokenType: tokenType,
		Active:    true,
		TokenHash: hash,
		CreatedAt: now.UTC(),
	}
	return cert, token, nil
}

// VerifyParentSignature checks that cert.ParentSig verifies over cert's
// public key under parent's public key (spec.md §3: "non-root certificates
// must carry a parent signature verifiable under the parent's public key").
func VerifyParentSignature(cert, parent *models.WACertificate) bool {
	if cert == nil || parent == nil || len(cert.ParentSig) == 0 {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(parent.PublicKey), cert.PublicKey, cert.ParentSig)
}

// VerifyHierarchy walks the parent chain up to a root, verifying every
// parent signature along the way. lookup resolves a certificate id to its
// certificate.
func VerifyHierarchy(cert *models.WACertificate, lookup func(id string) (*models.WACertificate, bool)) bool {
	cur := cert
	for cur.Role != models.WARoleRoot {
		if cur.ParentID == nil {
			return false
		}
		parent, ok := lookup(*cur.ParentID)
		if !ok {
			return false
		}
		if !VerifyParentSignature(cur, parent) {
			return false
		}
		cur = parent
	}
	return true
}

// newBearerToken mints a random bearer secret and returns it alongside the
// SHA-256 hash that is the only form persisted (spec.md §6.4 pairs with
// the secrets pipeline's "plaintext never persisted" discipline).
func newBearerToken() (token string, hash []byte, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, apperrors.Wrap(apperrors.KindIntegrity, "auth.wa", "generate bearer token", err)
	}
	token = fmt.Sprintf("wa_sk_%x", raw)
	sum := sha256.Sum256([]byte(token))
	return token, sum[:], nil
}

// HashToken returns the lookup key Resolve and the repository use for a
// presented bearer token. Repositories that compare hashes in Go rather than
// through an indexed SQL equality (e.g. pkg/auth/fake) must go through
// MatchTokenHash rather than bytes.Equal.
func HashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// MatchTokenHash reports whether a and b are the same token hash, in
// constant time so an in-memory repository scan can't leak timing
// information about how much of a presented token's hash matched.
func MatchTokenHash(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
