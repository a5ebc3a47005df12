// Package handler implements Handler Dispatch (spec.md §4.6): it maps a
// selected action variant onto the collaborator call that carries it out.
// Grounded on codeready-toolchain-tarsy's pkg/queue/chat_executor.go
// (collaborator dispatch keyed by message type, side-effectful calls
// tracked for idempotent cancellation) and pkg/mcp/executor.go (tool
// invocation with a correlation/idempotency key), generalized from a
// chat-specific executor to the ten-variant action dispatch table of
// spec.md §4.6.
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/tool"
	"github.com/wisebound/sentinel/pkg/transport"
)

// ThoughtRepo is the narrow thought-store contract Dispatch writes
// through.
type ThoughtRepo interface {
	UpdateStatus(ctx context.Context, id string, newStatus models.ThoughtStatus, outcome *models.ActionRecord) error
	AppendPonderNotes(ctx context.Context, id string, notes []models.PonderNote) error
}

// TaskRepo is the narrow task-store contract Dispatch writes through.
type TaskRepo interface {
	UpdateStatus(ctx context.Context, id string, newStatus models.TaskStatus) error
	RecordOutcome(ctx context.Context, id string, outcome *models.TaskOutcome) error
}

// Memory is the narrow graph-memory contract the Memorize/Recall/Forget
// actions dispatch through.
type Memory interface {
	Memorize(ctx context.Context, key models.NodeKey, nodeType string, attrs map[string]any, updatedBy string) (*models.Node, error)
	RecallByKey(ctx context.Context, key models.NodeKey) (*models.Node, error)
	RecallByType(ctx context.Context, scope models.Scope, nodeType string) ([]*models.Node, error)
	RecallSearch(ctx context.Context, scope models.Scope, text string) ([]*models.Node, error)
	Forget(ctx context.Context, key models.NodeKey) error
}

// AuditAppender is the narrow audit-chain contract Dispatch writes
// through on every handler outcome (spec.md §4.7: "handler outcome" is
// one of the significant transitions the chain records).
type AuditAppender interface {
	Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error)
}

// Outcome is the result of dispatching one action.
type Outcome struct {
	Variant       models.ActionVariant
	Delivered     bool
	CorrelationID string
	Detail        string
}

// Dispatcher maps an ActionVariant to its collaborator call (spec.md
// §4.6).
type Dispatcher struct {
	Transport transport.Adapter
	Tools     tool.Service
	Memory    Memory
	Thoughts  ThoughtRepo
	Tasks     TaskRepo
	Audit     AuditAppender

	// WAChannelID is the Wise-Authority escalation channel Defer posts to.
	WAChannelID string

	now func() time.Time
}

// New builds a Dispatcher.
func New(transportAdapter transport.Adapter, tools tool.Service, mem Memory, thoughts ThoughtRepo, tasks TaskRepo, auditChain AuditAppender, waChannelID string) *Dispatcher {
	return &Dispatcher{
		Transport:   transportAdapter,
		Tools:       tools,
		Memory:      mem,
		Thoughts:    thoughts,
		Tasks:       tasks,
		Audit:       auditChain,
		WAChannelID: waChannelID,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch carries out the selected action for a thought and records the
// handler outcome to the audit chain (spec.md §4.6). All side-effectful
// calls are idempotency-keyed by the thought id where the collaborator
// supports it; where not, correlationID disambiguates replay (spec.md
// §4.6: "relies on the audit chain for disambiguation on replay").
func (d *Dispatcher) Dispatch(ctx context.Context, th *models.Thought, result models.ActionSelectionResult) (Outcome, error) {
	correlationID := fmt.Sprintf("thought-%s", th.ID)

	outcome, err := d.dispatchVariant(ctx, th, result, correlationID)
	if err != nil {
		return Outcome{}, err
	}

	if _, auditErr := d.Audit.Append(ctx, models.EventHandlerOutcome, th.ID, map[string]any{
		"action":         string(result.Action),
		"correlation_id": correlationID,
		"delivered":      outcome.Delivered,
		"detail":         outcome.Detail,
	}); auditErr != nil {
		return outcome, auditErr
	}
	return outcome, nil
}

func (d *Dispatcher) dispatchVariant(ctx context.Context, th *models.Thought, result models.ActionSelectionResult, correlationID string) (Outcome, error) {
	params := result.Params
	switch result.Action {
	case models.ActionSpeak:
		return d.handleSpeak(ctx, th, params.Speak, result.Rationale, correlationID)
	case models.ActionObserve:
		return d.handleObserve(ctx, th, params.Observe, result.Rationale, correlationID)
	case models.ActionTool:
		return d.handleTool(ctx, th, params.Tool, result.Rationale, correlationID)
	case models.ActionMemorize:
		return d.handleMemorize(ctx, th, params.Memorize, result.Rationale)
	case models.ActionRecall:
		return d.handleRecall(ctx, th, params.Recall, result.Rationale)
	case models.ActionForget:
		return d.handleForget(ctx, th, params.Forget, result.Rationale)
	case models.ActionPonder:
		return d.handlePonder(ctx, th, params.Ponder, result.Rationale)
	case models.ActionDefer:
		return d.handleDefer(ctx, th, params.Defer, result.Rationale, correlationID)
	case models.ActionReject:
		return d.handleReject(ctx, th, params.Reject, result.Rationale)
	case models.ActionNoAction:
		return d.handleNoAction(ctx, th, result.Rationale)
	default:
		return Outcome{}, apperrors.Validation("handler.dispatch", "unknown action variant "+string(result.Action))
	}
}

func (d *Dispatcher) completeThought(ctx context.Context, th *models.Thought, variant models.ActionVariant, rationale string) error {
	return d.Thoughts.UpdateStatus(ctx, th.ID, models.ThoughtCompleted, &models.ActionRecord{
		Variant: variant, Rationale: rationale, RecordedAt: d.now(),
	})
}

func (d *Dispatcher) handleSpeak(ctx context.Context, th *models.Thought, p *models.SpeakParams, rationale, correlationID string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.speak", "missing speak params")
	}
	delivered, err := d.Transport.SendMessage(ctx, p.ChannelID, p.Content)
	if err != nil {
		return Outcome{}, apperrors.Transient("handler.speak", "send message", err)
	}
	if err := d.completeThought(ctx, th, models.ActionSpeak, rationale); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionSpeak, Delivered: delivered, CorrelationID: correlationID, Detail: p.ChannelID}, nil
}

func (d *Dispatcher) handleObserve(ctx context.Context, th *models.Thought, p *models.ObserveParams, rationale, correlationID string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.observe", "missing observe params")
	}
	messages, err := d.Transport.FetchMessages(ctx, p.ChannelID, p.Limit, p.Before)
	if err != nil {
		return Outcome{}, apperrors.Transient("handler.observe", "fetch messages", err)
	}
	if err := d.completeThought(ctx, th, models.ActionObserve, rationale); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Variant: models.ActionObserve, Delivered: true, CorrelationID: correlationID,
		Detail: fmt.Sprintf("%d messages", len(messages)),
	}, nil
}

func (d *Dispatcher) handleTool(ctx context.Context, th *models.Thought, p *models.ToolParams, rationale, correlationID string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.tool", "missing tool params")
	}
	result, err := d.Tools.Invoke(ctx, tool.Call{Name: p.Name, Arguments: p.Arguments})
	if err != nil {
		return Outcome{}, apperrors.Transient("handler.tool", "invoke "+p.Name, err)
	}
	if err := d.completeThought(ctx, th, models.ActionTool, rationale); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Variant: models.ActionTool, Delivered: !result.IsError, CorrelationID: correlationID, Detail: result.Content,
	}, nil
}

func (d *Dispatcher) handleMemorize(ctx context.Context, th *models.Thought, p *models.MemorizeParams, rationale string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.memorize", "missing memorize params")
	}
	key := models.NodeKey{NodeID: p.NodeID, Scope: models.Scope(p.Scope)}
	node, err := d.Memory.Memorize(ctx, key, p.NodeType, p.Attributes, th.ID)
	if err != nil {
		return Outcome{}, err
	}
	if err := d.completeThought(ctx, th, models.ActionMemorize, rationale); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionMemorize, Delivered: true, Detail: fmt.Sprintf("version %d", node.Version)}, nil
}

func (d *Dispatcher) handleRecall(ctx context.Context, th *models.Thought, p *models.RecallParams, rationale string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.recall", "missing recall params")
	}
	var count int
	switch {
	case p.Query != "":
		nodes, err := d.Memory.RecallSearch(ctx, models.Scope(p.Scope), p.Query)
		if err != nil {
			return Outcome{}, err
		}
		count = len(nodes)
	case p.NodeID != "":
		node, err := d.Memory.RecallByKey(ctx, models.NodeKey{NodeID: p.NodeID, Scope: models.Scope(p.Scope)})
		if err != nil {
			return Outcome{}, err
		}
		if node != nil {
			count = 1
		}
	default:
		nodes, err := d.Memory.RecallByType(ctx, models.Scope(p.Scope), p.Type)
		if err != nil {
			return Outcome{}, err
		}
		count = len(nodes)
	}
	if err := d.completeThought(ctx, th, models.ActionRecall, rationale); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionRecall, Delivered: true, Detail: fmt.Sprintf("%d nodes", count)}, nil
}

func (d *Dispatcher) handleForget(ctx context.Context, th *models.Thought, p *models.ForgetParams, rationale string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.forget", "missing forget params")
	}
	if err := d.Memory.Forget(ctx, models.NodeKey{NodeID: p.NodeID, Scope: models.Scope(p.Scope)}); err != nil {
		return Outcome{}, err
	}
	if err := d.completeThought(ctx, th, models.ActionForget, rationale); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionForget, Delivered: true, Detail: p.NodeID}, nil
}

// handlePonder re-enqueues the thought with its ponder counter
// incremented and the questions recorded (spec.md §4.6). The ponder cap
// is enforced upstream by the Action Selector (spec.md §4.3); by the time
// a Ponder reaches here it is known to be below the cap.
func (d *Dispatcher) handlePonder(ctx context.Context, th *models.Thought, p *models.PonderParams, rationale string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.ponder", "missing ponder params")
	}
	notes := make([]models.PonderNote, len(p.Questions))
	askedAt := d.now()
	for i, q := range p.Questions {
		notes[i] = models.PonderNote{Question: q, AskedAt: askedAt}
	}
	if err := d.Thoughts.AppendPonderNotes(ctx, th.ID, notes); err != nil {
		return Outcome{}, err
	}
	if err := d.Thoughts.UpdateStatus(ctx, th.ID, models.ThoughtPending, nil); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionPonder, Delivered: true, Detail: fmt.Sprintf("%d questions", len(p.Questions))}, nil
}

// handleDefer escalates to the Wise-Authority channel with a structured
// reason payload and marks the owning task deferred (spec.md §4.6).
func (d *Dispatcher) handleDefer(ctx context.Context, th *models.Thought, p *models.DeferParams, rationale, correlationID string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.defer", "missing defer params")
	}
	delivered := true
	if d.Transport != nil && d.WAChannelID != "" {
		content := fmt.Sprintf("deferral: %s", p.Reason)
		var err error
		delivered, err = d.Transport.SendMessage(ctx, d.WAChannelID, content)
		if err != nil {
			return Outcome{}, apperrors.Transient("handler.defer", "escalate to wise authority", err)
		}
	}
	if err := d.Tasks.RecordOutcome(ctx, th.TaskID, &models.TaskOutcome{
		Summary: p.Reason, Detail: p.Payload,
	}); err != nil {
		return Outcome{}, err
	}
	if err := d.Tasks.UpdateStatus(ctx, th.TaskID, models.TaskDeferred); err != nil {
		return Outcome{}, err
	}
	if err := d.Thoughts.UpdateStatus(ctx, th.ID, models.ThoughtDeferred, &models.ActionRecord{
		Variant: models.ActionDefer, Rationale: rationale, RecordedAt: d.now(),
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionDefer, Delivered: delivered, CorrelationID: correlationID, Detail: p.Reason}, nil
}

// handleReject closes the thought with a rationale and no outbound side
// effect (spec.md §4.6).
func (d *Dispatcher) handleReject(ctx context.Context, th *models.Thought, p *models.RejectParams, rationale string) (Outcome, error) {
	if p == nil {
		return Outcome{}, apperrors.Validation("handler.reject", "missing reject params")
	}
	if err := d.Thoughts.UpdateStatus(ctx, th.ID, models.ThoughtFailed, &models.ActionRecord{
		Variant: models.ActionReject, Rationale: p.Rationale, RecordedAt: d.now(),
	}); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionReject, Delivered: true, Detail: p.Rationale}, nil
}

// handleNoAction closes the thought silently (spec.md §4.6).
func (d *Dispatcher) handleNoAction(ctx context.Context, th *models.Thought, rationale string) (Outcome, error) {
	if err := d.completeThought(ctx, th, models.ActionNoAction, rationale); err != nil {
		return Outcome{}, err
	}
	return Outcome{Variant: models.ActionNoAction, Delivered: true}, nil
}
