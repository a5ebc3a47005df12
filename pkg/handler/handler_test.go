package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/tool"
	"github.com/wisebound/sentinel/pkg/transport"
)

type fakeTransport struct {
	sent     []string
	channels []string
	fail     bool
}

func (f *fakeTransport) SendMessage(ctx context.Context, channelID, content string) (bool, error) {
	if f.fail {
		return false, assert.AnError
	}
	f.channels = append(f.channels, channelID)
	f.sent = append(f.sent, content)
	return true, nil
}

func (f *fakeTransport) FetchMessages(ctx context.Context, channelID string, limit int, before *time.Time) ([]transport.Message, error) {
	return []transport.Message{{Content: "hi"}}, nil
}

func (f *fakeTransport) HomeChannelID() (string, bool) { return "", false }

type fakeTools struct {
	result tool.Result
	err    error
}

func (f *fakeTools) Invoke(ctx context.Context, call tool.Call) (tool.Result, error) {
	return f.result, f.err
}

func (f *fakeTools) ListTools(ctx context.Context) ([]tool.Definition, error) { return nil, nil }

type fakeMemory struct {
	memorized *models.Node
	recalled  *models.Node
	byType    []*models.Node
	searched  []*models.Node
	forgotten []models.NodeKey
	err       error
}

func (f *fakeMemory) Memorize(ctx context.Context, key models.NodeKey, nodeType string, attrs map[string]any, updatedBy string) (*models.Node, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := &models.Node{NodeKey: key, Version: 1}
	f.memorized = n
	return n, nil
}

func (f *fakeMemory) RecallByKey(ctx context.Context, key models.NodeKey) (*models.Node, error) {
	return f.recalled, f.err
}

func (f *fakeMemory) RecallByType(ctx context.Context, scope models.Scope, nodeType string) ([]*models.Node, error) {
	return f.byType, f.err
}

func (f *fakeMemory) RecallSearch(ctx context.Context, scope models.Scope, text string) ([]*models.Node, error) {
	return f.searched, f.err
}

func (f *fakeMemory) Forget(ctx context.Context, key models.NodeKey) error {
	if f.err != nil {
		return f.err
	}
	f.forgotten = append(f.forgotten, key)
	return nil
}

type fakeThoughts struct {
	statusCalls []models.ThoughtStatus
	notes       []models.PonderNote
	err         error
}

func (f *fakeThoughts) UpdateStatus(ctx context.Context, id string, newStatus models.ThoughtStatus, outcome *models.ActionRecord) error {
	if f.err != nil {
		return f.err
	}
	f.statusCalls = append(f.statusCalls, newStatus)
	return nil
}

func (f *fakeThoughts) AppendPonderNotes(ctx context.Context, id string, notes []models.PonderNote) error {
	f.notes = append(f.notes, notes...)
	return nil
}

type fakeTasks struct {
	statusCalls []models.TaskStatus
	outcome     *models.TaskOutcome
}

func (f *fakeTasks) UpdateStatus(ctx context.Context, id string, newStatus models.TaskStatus) error {
	f.statusCalls = append(f.statusCalls, newStatus)
	return nil
}

func (f *fakeTasks) RecordOutcome(ctx context.Context, id string, outcome *models.TaskOutcome) error {
	f.outcome = outcome
	return nil
}

type fakeAudit struct {
	events []models.AuditEventType
}

func (f *fakeAudit) Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error) {
	f.events = append(f.events, eventType)
	return &models.AuditEntry{}, nil
}

func testThought() *models.Thought {
	return &models.Thought{ID: "th-1", TaskID: "task-1", Status: models.ThoughtProcessing}
}

func TestDispatchSpeakSendsAndCompletes(t *testing.T) {
	th := &fakeThoughts{}
	au := &fakeAudit{}
	d := &Dispatcher{Thoughts: th, Audit: au, now: time.Now}
	_, err := d.handleSpeak(context.Background(), testThought(), nil, "rationale", "corr")
	require.Error(t, err) // nil params rejected

	ft := &fakeTransport{}
	d.Transport = ft
	out, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{
		Action: models.ActionSpeak,
		Params: models.ActionParams{Speak: &models.SpeakParams{ChannelID: "c1", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	assert.Equal(t, []string{"hello"}, ft.sent)
	assert.Contains(t, th.statusCalls, models.ThoughtCompleted)
	assert.Contains(t, au.events, models.EventHandlerOutcome)
}

func TestDispatchToolReportsContentErrorWithoutGoError(t *testing.T) {
	th := &fakeThoughts{}
	au := &fakeAudit{}
	tools := &fakeTools{result: tool.Result{IsError: true, Content: "boom"}}
	d := &Dispatcher{Tools: tools, Thoughts: th, Audit: au, now: time.Now}
	out, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{
		Action: models.ActionTool,
		Params: models.ActionParams{Tool: &models.ToolParams{Name: "srv.op"}},
	})
	require.NoError(t, err)
	assert.False(t, out.Delivered)
	assert.Equal(t, "boom", out.Detail)
}

func TestDispatchMemorizeCallsMemory(t *testing.T) {
	th := &fakeThoughts{}
	au := &fakeAudit{}
	mem := &fakeMemory{}
	d := &Dispatcher{Memory: mem, Thoughts: th, Audit: au, now: time.Now}
	out, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{
		Action: models.ActionMemorize,
		Params: models.ActionParams{Memorize: &models.MemorizeParams{NodeID: "n1", Scope: "local", NodeType: "observation"}},
	})
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	require.NotNil(t, mem.memorized)
	assert.Equal(t, "n1", mem.memorized.NodeID)
}

func TestDispatchForgetRejectsLiveEdges(t *testing.T) {
	th := &fakeThoughts{}
	au := &fakeAudit{}
	mem := &fakeMemory{err: assert.AnError}
	d := &Dispatcher{Memory: mem, Thoughts: th, Audit: au, now: time.Now}
	_, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{
		Action: models.ActionForget,
		Params: models.ActionParams{Forget: &models.ForgetParams{NodeID: "n1", Scope: "local"}},
	})
	require.Error(t, err)
	assert.Empty(t, th.statusCalls)
}

func TestDispatchPonderRecordsQuestionsAndReenqueues(t *testing.T) {
	th := &fakeThoughts{}
	au := &fakeAudit{}
	d := &Dispatcher{Thoughts: th, Audit: au, now: time.Now}
	out, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{
		Action: models.ActionPonder,
		Params: models.ActionParams{Ponder: &models.PonderParams{Questions: []string{"why?"}}},
	})
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	require.Len(t, th.notes, 1)
	assert.Equal(t, "why?", th.notes[0].Question)
	assert.Contains(t, th.statusCalls, models.ThoughtPending)
}

func TestDispatchDeferEscalatesAndRecordsOutcome(t *testing.T) {
	th := &fakeThoughts{}
	tasks := &fakeTasks{}
	au := &fakeAudit{}
	ft := &fakeTransport{}
	d := &Dispatcher{Transport: ft, Thoughts: th, Tasks: tasks, Audit: au, WAChannelID: "wa-1", now: time.Now}
	out, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{
		Action: models.ActionDefer,
		Params: models.ActionParams{Defer: &models.DeferParams{Reason: "needs human review"}},
	})
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	assert.Equal(t, []string{"wa-1"}, ft.channels)
	assert.Contains(t, tasks.statusCalls, models.TaskDeferred)
	require.NotNil(t, tasks.outcome)
	assert.Equal(t, "needs human review", tasks.outcome.Summary)
	assert.Contains(t, th.statusCalls, models.ThoughtDeferred)
}

func TestDispatchRejectClosesWithRationaleNoSideEffect(t *testing.T) {
	th := &fakeThoughts{}
	au := &fakeAudit{}
	d := &Dispatcher{Thoughts: th, Audit: au, now: time.Now}
	out, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{
		Action: models.ActionReject,
		Params: models.ActionParams{Reject: &models.RejectParams{Rationale: "out of scope"}},
	})
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	assert.Contains(t, th.statusCalls, models.ThoughtFailed)
}

func TestDispatchNoActionClosesSilently(t *testing.T) {
	th := &fakeThoughts{}
	au := &fakeAudit{}
	d := &Dispatcher{Thoughts: th, Audit: au, now: time.Now}
	out, err := d.Dispatch(context.Background(), testThought(), models.ActionSelectionResult{Action: models.ActionNoAction})
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	assert.Contains(t, th.statusCalls, models.ThoughtCompleted)
}
