package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// Service is the Secrets Pipeline: ingress detection (Filter), egress
// decapsulation (Decapsulate), and the recall_secret/update_filter/
// list_secrets tool surface. Created once at application startup, analogous
// to masking.NewMaskingService's singleton pattern, but stateful where the
// masking service was not: the active pattern set can grow at runtime via
// UpdateFilter and the master key can be swapped via ReencryptAll.
type Service struct {
	store     *Store
	masterKey []byte
	keyVersion int

	mu       sync.RWMutex
	builtin  []*Pattern
	custom   map[string]*Pattern // name -> pattern, agent-configured

	limiter *rateLimiter
}

// Options configures NewService beyond the required store and master key.
type Options struct {
	// KeyVersion identifies the master key's generation; stored alongside
	// each secret so a later rotation knows which rows still need
	// re-encryption.
	KeyVersion int
	// PerMinute and PerHour default to 10 and 100 (spec.md §4.4, §5) when
	// zero.
	PerMinute int
	PerHour   int
}

// NewService builds a Service with the default built-in pattern set active.
func NewService(store *Store, masterKey []byte, opts Options) *Service {
	perMin := opts.PerMinute
	if perMin == 0 {
		perMin = 10
	}
	perHour := opts.PerHour
	if perHour == 0 {
		perHour = 100
	}

	s := &Service{
		store:      store,
		masterKey:  masterKey,
		keyVersion: opts.KeyVersion,
		builtin:    BuiltinPatterns(),
		custom:     make(map[string]*Pattern),
		limiter:    newRateLimiter(perMin, perHour),
	}

	slog.Info("secrets service initialized",
		"builtin_patterns", len(s.builtin), "key_version", s.keyVersion,
		"rate_limit_per_min", perMin, "rate_limit_per_hour", perHour)

	return s
}

// activePatterns returns the union of built-in and agent-configured
// patterns, custom patterns last so an agent-added name cannot shadow a
// built-in one silently.
func (s *Service) activePatterns() []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Pattern, 0, len(s.builtin)+len(s.custom))
	out = append(out, s.builtin...)
	for _, p := range s.custom {
		out = append(out, p)
	}
	return out
}

// UpdateFilter adds or removes an agent-configured pattern (spec.md §4.4
// "update_filter(op)"). Built-in patterns cannot be removed this way.
func (s *Service) UpdateFilter(op FilterOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.Add != nil {
		s.custom[op.Add.Name] = op.Add
	}
	if op.Remove != "" {
		if _, ok := s.custom[op.Remove]; !ok {
			return apperrors.Validation("secrets.service", fmt.Sprintf("no custom pattern named %q", op.Remove))
		}
		delete(s.custom, op.Remove)
	}
	return nil
}

// ListSecrets returns stored secrets, their plaintext never included
// (spec.md §4.4 "list_secrets(include_sensitive?)").
func (s *Service) ListSecrets(ctx context.Context, includeSensitive bool) ([]*models.StoredSecret, error) {
	return s.store.List(ctx, includeSensitive)
}

// RecallSecret looks up a stored secret by uuid, optionally decrypting it,
// and logs the access (spec.md §4.4 "recall_secret(uuid, purpose,
// decrypt?)"). Subject to the per-accessor rate limiter.
func (s *Service) RecallSecret(ctx context.Context, uuid, accessorID, purpose string, decrypt bool) (*models.StoredSecret, string, error) {
	if !s.limiter.Allow(accessorID) {
		return nil, "", apperrors.New(apperrors.KindCapacity, "secrets.service", "rate limit exceeded for "+accessorID)
	}

	sec, err := s.store.Get(ctx, uuid)
	if err != nil {
		return nil, "", err
	}

	var plaintext string
	if decrypt {
		if sec.ManualOnly && purpose == "" {
			return nil, "", apperrors.Authorization("secrets.service", "manual-only secret requires an explicit purpose")
		}
		plaintext, err = decryptStoredSecret(s.masterKey, sec)
		if err != nil {
			return nil, "", err
		}
	}

	if err := s.store.RecordAccess(ctx, uuid, accessorID, purpose, decrypt); err != nil {
		return nil, "", err
	}
	return sec, plaintext, nil
}

func decryptStoredSecret(masterKey []byte, sec *models.StoredSecret) (string, error) {
	plaintext, err := decrypt(masterKey, sealed{Ciphertext: sec.Ciphertext, Salt: sec.Salt, Nonce: sec.Nonce})
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindIntegrity, "secrets.service", "decrypt stored secret", err)
	}
	return plaintext, nil
}

// ReencryptAll rotates the master key: every stored secret is decrypted
// under the current key and re-encrypted under newKey, committed
// all-or-nothing (spec.md §4.4, §5 "failure on any record aborts the whole
// rotation with no changes committed" and "the previous key is zeroized
// after the final re-encryption row commits").
func (s *Service) ReencryptAll(ctx context.Context, newKey []byte, newVersion int) error {
	secrets, err := s.store.List(ctx, true)
	if err != nil {
		return err
	}

	updates := make([]ReencryptedSecret, 0, len(secrets))
	for _, sec := range secrets {
		plaintext, err := decryptStoredSecret(s.masterKey, sec)
		if err != nil {
			return err
		}
		resealed, err := encrypt(newKey, plaintext)
		if err != nil {
			return apperrors.Wrap(apperrors.KindIntegrity, "secrets.service", "reencrypt "+sec.UUID, err)
		}
		updates = append(updates, ReencryptedSecret{
			UUID:       sec.UUID,
			Ciphertext: resealed.Ciphertext,
			Salt:       resealed.Salt,
			Nonce:      resealed.Nonce,
			KeyVersion: newVersion,
		})
	}

	if err := s.store.ReplaceAll(ctx, updates); err != nil {
		return err
	}

	oldKey := s.masterKey
	s.masterKey = newKey
	s.keyVersion = newVersion
	Zeroize(oldKey)

	slog.Info("secrets master key rotated", "rows", len(updates), "key_version", newVersion)
	return nil
}
