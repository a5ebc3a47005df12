package adaptation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/models"
)

type stubAuditStore struct {
	entries []*models.AuditEntry
}

func (s *stubAuditStore) LastEntry(ctx context.Context) (*models.AuditEntry, error) { return nil, nil }
func (s *stubAuditStore) Append(ctx context.Context, entry *models.AuditEntry) error { return nil }
func (s *stubAuditStore) EntryAt(ctx context.Context, sequence int64) (*models.AuditEntry, error) {
	return nil, nil
}
func (s *stubAuditStore) Tail(ctx context.Context, n int) ([]*models.AuditEntry, error) {
	if n >= len(s.entries) {
		return s.entries, nil
	}
	return s.entries[len(s.entries)-n:], nil
}
func (s *stubAuditStore) All(ctx context.Context) ([]*models.AuditEntry, error) { return s.entries, nil }
func (s *stubAuditStore) ActiveSigningKey(ctx context.Context) (*models.SigningKey, error) {
	return nil, nil
}
func (s *stubAuditStore) SigningKeyByID(ctx context.Context, id string) (*models.SigningKey, error) {
	return nil, nil
}

func TestObserveAggregatesGuardrailAndHandlerSignals(t *testing.T) {
	store := &stubAuditStore{entries: []*models.AuditEntry{
		{EventType: models.EventGuardrailDecision, Payload: map[string]any{"vetoed": true}, EventTimestamp: time.Now()},
		{EventType: models.EventGuardrailDecision, Payload: map[string]any{"vetoed": false}, EventTimestamp: time.Now()},
		{EventType: models.EventHandlerOutcome, Payload: map[string]any{"failed": true}, EventTimestamp: time.Now()},
		{EventType: models.EventSecretAccess, Payload: map[string]any{}, EventTimestamp: time.Now()},
	}}

	signals, err := Observe(context.Background(), store, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, signals.GuardrailDecisions)
	assert.Equal(t, 1, signals.GuardrailVetoes)
	assert.Equal(t, 1, signals.HandlerFailures)
	assert.Equal(t, 1, signals.SecretAccesses)
	assert.Equal(t, 4, signals.WindowEntries)
	assert.InDelta(t, 0.5, signals.VetoRate(), 0.001)
}

func TestObserveHandlesEmptyWindow(t *testing.T) {
	store := &stubAuditStore{}
	signals, err := Observe(context.Background(), store, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, signals.WindowEntries)
	assert.Equal(t, 0.0, signals.VetoRate())
}
