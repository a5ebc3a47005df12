package secrets

import (
	"context"
	"regexp"

	"github.com/wisebound/sentinel/pkg/models"
)

// tokenPattern matches the literal substitution token Filter emits:
// "{SECRET:<uuid>:<description>}".
var tokenPattern = regexp.MustCompile(`\{SECRET:([0-9a-fA-F-]{36}):[^}]*\}`)

// Decapsulate walks an action's typed parameters and replaces every
// {SECRET:uuid:description} reference with its plaintext, but only where
// Sensitivity.AutoDecapsulateAllowed permits it for this action's variant
// (spec.md §4.4 entry point 2). References that are not allowed are left as
// the literal token; the handler forwards them untouched rather than ever
// emitting plaintext outside policy.
//
// Every successful decapsulation records an access-log row via
// RecordAccess, same as an explicit recall_secret call, so the audit trail
// shows automatic and manual recalls uniformly.
func (s *Service) Decapsulate(ctx context.Context, params models.ActionParams, accessorID string) (models.ActionParams, error) {
	resolve := func(text string) (string, error) {
		return s.resolveTokens(ctx, text, params.Variant, accessorID)
	}
	resolveMap := func(m map[string]any) (map[string]any, error) {
		return s.resolveTokensInMap(ctx, m, params.Variant, accessorID)
	}
	resolveSlice := func(ss []string) ([]string, error) {
		out := make([]string, len(ss))
		for i, v := range ss {
			r, err := resolve(v)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}

	var err error
	switch params.Variant {
	case models.ActionSpeak:
		if params.Speak != nil {
			cp := *params.Speak
			if cp.Content, err = resolve(cp.Content); err != nil {
				return params, err
			}
			params.Speak = &cp
		}
	case models.ActionTool:
		if params.Tool != nil {
			cp := *params.Tool
			if cp.Arguments, err = resolveMap(cp.Arguments); err != nil {
				return params, err
			}
			params.Tool = &cp
		}
	case models.ActionMemorize:
		if params.Memorize != nil {
			cp := *params.Memorize
			if cp.Attributes, err = resolveMap(cp.Attributes); err != nil {
				return params, err
			}
			params.Memorize = &cp
		}
	case models.ActionRecall:
		if params.Recall != nil {
			cp := *params.Recall
			if cp.Query, err = resolve(cp.Query); err != nil {
				return params, err
			}
			params.Recall = &cp
		}
	case models.ActionPonder:
		if params.Ponder != nil {
			cp := *params.Ponder
			if cp.Questions, err = resolveSlice(cp.Questions); err != nil {
				return params, err
			}
			params.Ponder = &cp
		}
	case models.ActionDefer:
		if params.Defer != nil {
			cp := *params.Defer
			if cp.Payload, err = resolveMap(cp.Payload); err != nil {
				return params, err
			}
			params.Defer = &cp
		}
	case models.ActionReject:
		if params.Reject != nil {
			cp := *params.Reject
			if cp.Rationale, err = resolve(cp.Rationale); err != nil {
				return params, err
			}
			params.Reject = &cp
		}
	}
	return params, nil
}

func (s *Service) resolveTokensInMap(ctx context.Context, m map[string]any, variant models.ActionVariant, accessorID string) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		rv, err := s.resolveTokensInValue(ctx, v, variant, accessorID)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func (s *Service) resolveTokensInValue(ctx context.Context, v any, variant models.ActionVariant, accessorID string) (any, error) {
	switch val := v.(type) {
	case string:
		return s.resolveTokens(ctx, val, variant, accessorID)
	case map[string]any:
		return s.resolveTokensInMap(ctx, val, variant, accessorID)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rv, err := s.resolveTokensInValue(ctx, item, variant, accessorID)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveTokens replaces every {SECRET:uuid:description} reference in text
// that AutoDecapsulateAllowed permits for variant, decrypting in place and
// recording an access-log row per resolved reference.
func (s *Service) resolveTokens(ctx context.Context, text string, variant models.ActionVariant, accessorID string) (string, error) {
	if text == "" || !tokenPattern.MatchString(text) {
		return text, nil
	}

	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		if firstErr != nil {
			return token
		}
		m := tokenPattern.FindStringSubmatch(token)
		if len(m) != 2 {
			return token
		}
		uuid := m[1]

		sec, err := s.store.Get(ctx, uuid)
		if err != nil {
			firstErr = err
			return token
		}
		if !sec.Sensitivity.AutoDecapsulateAllowed(variant) {
			return token
		}

		plaintext, err := decryptStoredSecret(s.masterKey, sec)
		if err != nil {
			firstErr = err
			return token
		}
		if err := s.store.RecordAccess(ctx, uuid, accessorID, "auto-decapsulate:"+string(variant), true); err != nil {
			firstErr = err
			return token
		}
		return plaintext
	})

	if firstErr != nil {
		return text, firstErr
	}
	return out, nil
}
