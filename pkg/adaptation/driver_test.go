package adaptation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/adaptation/fake"
	"github.com/wisebound/sentinel/pkg/models"
)

type recordingAuditor struct {
	mu      sync.Mutex
	entries []models.AuditEventType
}

func (a *recordingAuditor) Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, eventType)
	return &models.AuditEntry{EventType: eventType}, nil
}

func (a *recordingAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func TestDriverEnsuresBaselineOnStart(t *testing.T) {
	repo := fake.New()
	c := NewController(repo, 0.20, nil)
	store := &stubAuditStore{}
	driver := NewDriver(c, store, nil, nil, Vector{"guardrails.entropy_threshold": 0.40}, time.Hour, time.Millisecond, 10)

	driver.Start(context.Background())
	defer driver.Stop()

	baseline, ok, err := repo.Baseline(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.40, baseline["guardrails.entropy_threshold"])
}

func TestDriverRunsFullCycleWithinCeiling(t *testing.T) {
	repo := fake.New()
	c := NewController(repo, 1.0, nil)
	store := &stubAuditStore{entries: []*models.AuditEntry{
		{EventType: models.EventGuardrailDecision, Payload: map[string]any{"vetoed": true}},
		{EventType: models.EventGuardrailDecision, Payload: map[string]any{"vetoed": true}},
		{EventType: models.EventGuardrailDecision, Payload: map[string]any{"vetoed": true}},
		{EventType: models.EventGuardrailDecision, Payload: map[string]any{"vetoed": true}},
		{EventType: models.EventGuardrailDecision, Payload: map[string]any{"vetoed": true}},
	}}
	auditor := &recordingAuditor{}
	driver := NewDriver(c, store, nil, auditor,
		Vector{"guardrails.optimization_veto_ratio": 10.0, "guardrails.coherence_threshold": 0.80},
		10*time.Millisecond, time.Millisecond, 10)

	driver.Start(context.Background())
	defer driver.Stop()

	require.Eventually(t, func() bool {
		return auditor.count() > 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return c.State() == models.AdaptationLearning
	}, time.Second, 5*time.Millisecond)

	changes, err := repo.ListByStatus(context.Background(), models.ChangeApplied)
	require.NoError(t, err)
	assert.NotEmpty(t, changes)
}

func TestDriverSkipsReviewingAndHaltedStates(t *testing.T) {
	repo := fake.New()
	c := NewController(repo, 0.20, nil)
	c.EmergencyStop("operator abort")

	store := &stubAuditStore{}
	driver := NewDriver(c, store, nil, nil, Vector{}, time.Hour, time.Millisecond, 10)

	driver.runCycle(context.Background())
	assert.Equal(t, models.AdaptationHalted, c.State())

	reviewing := NewController(fake.New(), 0.01, nil)
	require.NoError(t, reviewing.Observe(context.Background(), Signals{}))
	_, err := reviewing.Propose(context.Background(), []Proposal{
		{Scope: models.ScopeChangeLocal, TargetPath: "x", FieldWeight: 1.0, OldValue: 0, NewValue: 1, Confidence: 0.5},
	})
	require.NoError(t, err)
	require.Equal(t, models.AdaptationReviewing, reviewing.State())

	reviewingDriver := NewDriver(reviewing, store, nil, nil, Vector{}, time.Hour, time.Millisecond, 10)
	reviewingDriver.runCycle(context.Background())
	assert.Equal(t, models.AdaptationReviewing, reviewing.State())
}

func TestProposeFromSignalsNudgesVetoRatioOnSustainedVetoes(t *testing.T) {
	driver := NewDriver(NewController(fake.New(), 1.0, nil), &stubAuditStore{}, nil, nil,
		Vector{"guardrails.optimization_veto_ratio": 10.0}, time.Hour, time.Minute, 10)

	proposals := driver.proposeFromSignals(Signals{GuardrailDecisions: 10, GuardrailVetoes: 8})
	require.Len(t, proposals, 1)
	assert.Equal(t, "guardrails.optimization_veto_ratio", proposals[0].TargetPath)
	assert.Greater(t, proposals[0].NewValue, proposals[0].OldValue)
}

func TestProposeFromSignalsIsEmptyBelowSampleThreshold(t *testing.T) {
	driver := NewDriver(NewController(fake.New(), 1.0, nil), &stubAuditStore{}, nil, nil,
		Vector{"guardrails.optimization_veto_ratio": 10.0}, time.Hour, time.Minute, 10)

	proposals := driver.proposeFromSignals(Signals{GuardrailDecisions: 2, GuardrailVetoes: 2})
	assert.Empty(t, proposals)
}
