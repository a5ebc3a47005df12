package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wisebound/sentinel/pkg/models"
)

// Filter scans text with the union of built-in and agent-configured
// patterns (spec.md §4.4 entry point 1). For each match it mints a uuid,
// encrypts the plaintext, persists a StoredSecret, and substitutes the
// literal replacement token `{SECRET:<uuid>:<description>}` into the
// returned text.
func (s *Service) Filter(ctx context.Context, text string) (string, []models.DetectedSecret, error) {
	if text == "" {
		return text, nil, nil
	}

	patterns := s.activePatterns()
	filtered := text
	var detected []models.DetectedSecret
	var firstErr error

	for _, p := range patterns {
		filtered = p.Regex.ReplaceAllStringFunc(filtered, func(match string) string {
			if firstErr != nil {
				return match
			}

			value := match
			if loc := p.Regex.FindStringSubmatchIndex(match); len(loc) >= 4 && loc[2] >= 0 {
				value = match[loc[2]:loc[3]]
			}

			id := uuid.NewString()
			token := fmt.Sprintf("{SECRET:%s:%s}", id, p.Description)

			sealedVal, err := encrypt(s.masterKey, value)
			if err != nil {
				// Fail closed: leave the literal match in place rather than
				// silently dropping detection; caller sees the error below.
				firstErr = err
				return match
			}

			stored := &models.StoredSecret{
				UUID:             id,
				Ciphertext:       sealedVal.Ciphertext,
				Salt:             sealedVal.Salt,
				Nonce:            sealedVal.Nonce,
				KeyVersion:       s.keyVersion,
				Description:      p.Description,
				Sensitivity:      p.Sensitivity,
				DetectingPattern: p.Name,
				ContextHint:      safeContextHint(p.Name),
				CreatedAt:        time.Now().UTC(),
			}
			if err := s.store.Put(ctx, stored); err != nil {
				firstErr = err
				return match
			}

			detected = append(detected, models.DetectedSecret{
				UUID:            id,
				PatternName:     p.Name,
				Description:     p.Description,
				Sensitivity:     p.Sensitivity,
				SafeContextHint: stored.ContextHint,
				Replacement:     token,
			})
			return token
		})
		if firstErr != nil {
			return text, nil, firstErr
		}
	}

	return filtered, detected, nil
}

// safeContextHint gives a short, non-sensitive description of where a
// pattern typically appears, echoed back to DMAs in place of the plaintext
// (spec.md §3 "safe context hint").
func safeContextHint(patternName string) string {
	return "redacted " + patternName + " reference"
}
