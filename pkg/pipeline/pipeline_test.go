package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/config"
	"github.com/wisebound/sentinel/pkg/dma"
	"github.com/wisebound/sentinel/pkg/guardrail"
	"github.com/wisebound/sentinel/pkg/handler"
	"github.com/wisebound/sentinel/pkg/llm/fake"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/selector"
	transportfake "github.com/wisebound/sentinel/pkg/transport/fake"
	"github.com/wisebound/sentinel/pkg/tool"
)

// fakeThoughtRepo is an in-memory ThoughtRepo for tests.
type fakeThoughtRepo struct {
	mu       sync.Mutex
	thoughts map[string]*models.Thought
}

func newFakeThoughtRepo(th *models.Thought) *fakeThoughtRepo {
	return &fakeThoughtRepo{thoughts: map[string]*models.Thought{th.ID: th}}
}

func (r *fakeThoughtRepo) Get(ctx context.Context, id string) (*models.Thought, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.thoughts[id]
	if !ok {
		return nil, apperrors.Validation("fake.thoughts", "not found")
	}
	cp := *th
	return &cp, nil
}

func (r *fakeThoughtRepo) UpdateStatus(ctx context.Context, id string, newStatus models.ThoughtStatus, outcome *models.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.thoughts[id]
	if !ok {
		return apperrors.Validation("fake.thoughts", "not found")
	}
	th.Status = newStatus
	if outcome != nil {
		th.FinalAction = outcome
	}
	if newStatus == models.ThoughtPending {
		th.PonderCount++
	}
	return nil
}

func (r *fakeThoughtRepo) AppendPonderNotes(ctx context.Context, id string, notes []models.PonderNote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.thoughts[id]
	if !ok {
		return apperrors.Validation("fake.thoughts", "not found")
	}
	th.PonderNotes = append(th.PonderNotes, notes...)
	return nil
}

// fakeTaskRepo is an in-memory TaskRepo for tests.
type fakeTaskRepo struct {
	mu      sync.Mutex
	outcome *models.TaskOutcome
	status  models.TaskStatus
}

func (r *fakeTaskRepo) UpdateStatus(ctx context.Context, id string, newStatus models.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = newStatus
	return nil
}

func (r *fakeTaskRepo) RecordOutcome(ctx context.Context, id string, outcome *models.TaskOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
	return nil
}

// fakeAuditor records every append for assertions.
type fakeAuditor struct {
	mu      sync.Mutex
	entries []struct {
		eventType models.AuditEventType
		payload   map[string]any
	}
}

func (a *fakeAuditor) Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, struct {
		eventType models.AuditEventType
		payload   map[string]any
	}{eventType, payload})
	return &models.AuditEntry{EventType: eventType, Payload: payload}, nil
}

func (a *fakeAuditor) count(t models.AuditEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.eventType == t {
			n++
		}
	}
	return n
}

// noopSecrets passes text through unchanged, for scenarios not exercising
// the detection/decapsulation path directly.
type noopSecrets struct{}

func (noopSecrets) Filter(ctx context.Context, text string) (string, []models.DetectedSecret, error) {
	return text, nil, nil
}

func (noopSecrets) Decapsulate(ctx context.Context, params models.ActionParams, accessorID string) (models.ActionParams, error) {
	return params, nil
}

// stubTools is a no-op tool.Service for handler wiring.
type stubTools struct{}

func (stubTools) Invoke(ctx context.Context, call tool.Call) (tool.Result, error) {
	return tool.Result{Name: call.Name, Content: "ok"}, nil
}
func (stubTools) ListTools(ctx context.Context) ([]tool.Definition, error) { return nil, nil }

// stubMemory is an unused Memory for scenarios that never select a graph
// action.
type stubMemory struct{}

func (stubMemory) Memorize(ctx context.Context, key models.NodeKey, nodeType string, attrs map[string]any, updatedBy string) (*models.Node, error) {
	return nil, nil
}
func (stubMemory) RecallByKey(ctx context.Context, key models.NodeKey) (*models.Node, error) {
	return nil, nil
}
func (stubMemory) RecallByType(ctx context.Context, scope models.Scope, nodeType string) ([]*models.Node, error) {
	return nil, nil
}
func (stubMemory) RecallSearch(ctx context.Context, scope models.Scope, text string) ([]*models.Node, error) {
	return nil, nil
}
func (stubMemory) Forget(ctx context.Context, key models.NodeKey) error { return nil }

func newTestPipeline(thoughts *fakeThoughtRepo, tasks *fakeTaskRepo, audit *fakeAuditor, transportAdapter *transportfake.Adapter,
	ethicalProvider, commonProvider, domainProvider, selectorProvider, guardrailProvider *fake.Provider) *Pipeline {

	runner := dma.NewRunner(
		&dma.EthicalLLM{Provider: ethicalProvider},
		&dma.CommonSenseLLM{Provider: commonProvider},
		&dma.GenericDomainLLM{KindName: "test_domain", Provider: domainProvider},
	)
	sel := selector.New(selectorProvider)
	guard := guardrail.New(guardrailProvider, config.GuardrailThresholds{
		EntropyThreshold: 0.40, CoherenceThreshold: 0.80, OptimizationVetoRatio: 10.0,
	})
	dispatch := handler.New(transportAdapter, stubTools{}, stubMemory{}, thoughts, tasks, audit, "wa-channel")

	return New(thoughts, noopSecrets{}, runner, sel, guard, dispatch, audit, 7)
}

func enqueueHappyPathDMAandSelection(ethical, common, domain, sel *fake.Provider, channelID string) {
	ethical.Enqueue(map[string]any{"aligned": true, "conflicts": []any{}, "rationale": "no conflicts"})
	common.Enqueue(map[string]any{"plausible": true, "rationale": "reasonable"})
	domain.Enqueue(map[string]any{"fit": 0.9, "rationale": "fits domain"})
	sel.Enqueue(map[string]any{
		"action": "speak", "rationale": "answering the question",
		"speak_content": "here is the answer", "observe_channel": channelID,
	})
}

func TestProcessOneHappyPathSpeak(t *testing.T) {
	th := &models.Thought{ID: "th-1", TaskID: "task-1", Type: models.ThoughtSeed, Status: models.ThoughtPending,
		Content: "what is the weather", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	thoughts := newFakeThoughtRepo(th)
	tasks := &fakeTaskRepo{}
	audit := &fakeAuditor{}
	transportAdapter := transportfake.New("chan-1")

	ethical, common, domain, sel, guard := fake.New(), fake.New(), fake.New(), fake.New(), fake.New()
	enqueueHappyPathDMAandSelection(ethical, common, domain, sel, "chan-1")
	guard.Enqueue(map[string]any{"entropy": 0.1, "coherence": 0.95})
	guard.Enqueue(map[string]any{"decision": "proceed", "entropy_reduction_ratio": 1.0, "justification": "fine", "confidence": 0.9})
	guard.Enqueue(map[string]any{"certainty": 0.9, "justification": "confident", "recommended_action": "proceed"})

	p := newTestPipeline(thoughts, tasks, audit, transportAdapter, ethical, common, domain, sel, guard)

	result, err := p.ProcessOne(context.Background(), "th-1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionSpeak, result.FinalAction)
	assert.False(t, result.GuardrailFail)
	assert.True(t, result.Outcome.Delivered)

	got, err := thoughts.Get(context.Background(), "th-1")
	require.NoError(t, err)
	assert.Equal(t, models.ThoughtCompleted, got.Status)

	assert.Equal(t, 1, audit.count(models.EventDMAAccepted))
	assert.Equal(t, 1, audit.count(models.EventActionSelected))
	assert.Equal(t, 1, audit.count(models.EventGuardrailDecision))
	assert.Equal(t, 1, audit.count(models.EventHandlerOutcome))
}

func TestProcessOneGuardrailFailureConvertsToDefer(t *testing.T) {
	th := &models.Thought{ID: "th-2", TaskID: "task-2", Type: models.ThoughtSeed, Status: models.ThoughtPending,
		Content: "say something extreme", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	thoughts := newFakeThoughtRepo(th)
	tasks := &fakeTaskRepo{}
	audit := &fakeAuditor{}
	transportAdapter := transportfake.New("chan-1")

	ethical, common, domain, sel, guard := fake.New(), fake.New(), fake.New(), fake.New(), fake.New()
	enqueueHappyPathDMAandSelection(ethical, common, domain, sel, "chan-1")
	// high entropy fails the epistemic check before the other two checks run.
	guard.Enqueue(map[string]any{"entropy": 0.9, "coherence": 0.5})
	guard.Enqueue(map[string]any{"decision": "proceed", "entropy_reduction_ratio": 1.0, "justification": "fine", "confidence": 0.9})
	guard.Enqueue(map[string]any{"certainty": 0.9, "justification": "confident", "recommended_action": "proceed"})

	p := newTestPipeline(thoughts, tasks, audit, transportAdapter, ethical, common, domain, sel, guard)

	result, err := p.ProcessOne(context.Background(), "th-2")
	require.NoError(t, err)
	assert.Equal(t, models.ActionDefer, result.FinalAction)
	assert.True(t, result.GuardrailFail)

	got, err := thoughts.Get(context.Background(), "th-2")
	require.NoError(t, err)
	assert.Equal(t, models.ThoughtDeferred, got.Status)
	assert.Equal(t, models.TaskDeferred, tasks.status)
}

func TestProcessOneDMAFailureFailsThought(t *testing.T) {
	th := &models.Thought{ID: "th-3", TaskID: "task-3", Type: models.ThoughtSeed, Status: models.ThoughtPending,
		Content: "broken", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	thoughts := newFakeThoughtRepo(th)
	tasks := &fakeTaskRepo{}
	audit := &fakeAuditor{}
	transportAdapter := transportfake.New("chan-1")

	ethical, common, domain, sel, guard := fake.New(), fake.New(), fake.New(), fake.New(), fake.New()
	ethical.EnqueueError(assert.AnError)
	common.Enqueue(map[string]any{"plausible": true, "rationale": "ok"})
	domain.Enqueue(map[string]any{"fit": 0.5, "rationale": "ok"})

	p := newTestPipeline(thoughts, tasks, audit, transportAdapter, ethical, common, domain, sel, guard)

	_, err := p.ProcessOne(context.Background(), "th-3")
	require.Error(t, err)

	got, err := thoughts.Get(context.Background(), "th-3")
	require.NoError(t, err)
	assert.Equal(t, models.ThoughtFailed, got.Status)
}
