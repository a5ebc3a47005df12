// Package pipeline wires the Thought Store, Secrets Pipeline, DMA Runner,
// Action Selector, Guardrail Stack, Handler Dispatch, and Audit Chain into
// the one-thought-per-round pipeline described by spec.md §4: Thought
// Store -> Secrets Pipeline -> DMA Runner -> Action Selector -> Guardrail
// Stack -> Handler Dispatch -> Audit Chain. Each stage package already
// implements its own piece in isolation; this package is the composition
// root a pkg/scheduler.Round drives once per processing round.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/dma"
	"github.com/wisebound/sentinel/pkg/guardrail"
	"github.com/wisebound/sentinel/pkg/handler"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/selector"
)

// ThoughtRepo is the narrow thought-store contract the pipeline reads and
// writes through.
type ThoughtRepo interface {
	Get(ctx context.Context, id string) (*models.Thought, error)
	UpdateStatus(ctx context.Context, id string, newStatus models.ThoughtStatus, outcome *models.ActionRecord) error
	AppendPonderNotes(ctx context.Context, id string, notes []models.PonderNote) error
}

// Auditor is the narrow audit-chain contract the pipeline appends through
// at every significant transition (spec.md §4.7).
type Auditor interface {
	Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error)
}

// SecretsPipeline is the narrow ingress/egress contract *secrets.Service
// satisfies; kept as an interface here so tests can substitute a fake
// without a postgres-backed Store (spec.md §4.4).
type SecretsPipeline interface {
	Filter(ctx context.Context, text string) (string, []models.DetectedSecret, error)
	Decapsulate(ctx context.Context, params models.ActionParams, accessorID string) (models.ActionParams, error)
}

// Pipeline assembles one processing round for a single thought.
type Pipeline struct {
	Thoughts  ThoughtRepo
	Secrets   SecretsPipeline
	DMA       *dma.Runner
	Selector  *selector.Selector
	Guardrail *guardrail.Stack
	Dispatch  *handler.Dispatcher
	Audit     Auditor
	PonderCap int

	now func() time.Time
}

// New builds a Pipeline from its constituent stages.
func New(thoughts ThoughtRepo, secretsSvc SecretsPipeline, runner *dma.Runner, sel *selector.Selector, guard *guardrail.Stack, dispatch *handler.Dispatcher, audit Auditor, ponderCap int) *Pipeline {
	return &Pipeline{
		Thoughts: thoughts, Secrets: secretsSvc, DMA: runner, Selector: sel,
		Guardrail: guard, Dispatch: dispatch, Audit: audit, PonderCap: ponderCap,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Result summarizes how one thought's round concluded, for the scheduler's
// queue_status() reporting.
type Result struct {
	ThoughtID     string
	FinalAction   models.ActionVariant
	GuardrailFail bool
	Outcome       handler.Outcome
}

// ProcessOne runs a single thought through the full pipeline: ingress
// secrets filtering, DMA fan-out, action selection, guardrail evaluation
// (with Defer conversion on failure), egress secret decapsulation, and
// handler dispatch, auditing every significant transition along the way
// (spec.md §4, §4.7).
func (p *Pipeline) ProcessOne(ctx context.Context, thoughtID string) (Result, error) {
	th, err := p.Thoughts.Get(ctx, thoughtID)
	if err != nil {
		return Result{}, err
	}

	if err := p.Thoughts.UpdateStatus(ctx, th.ID, models.ThoughtProcessing, nil); err != nil {
		return Result{}, err
	}
	if _, err := p.Audit.Append(ctx, models.EventThoughtStatus, th.ID, map[string]any{
		"from": string(models.ThoughtPending), "to": string(models.ThoughtProcessing),
	}); err != nil {
		return Result{}, err
	}

	filteredContent, detected, err := p.Secrets.Filter(ctx, th.Content)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindTransient, "pipeline", "ingress secrets filter", err)
	}
	th.Content = filteredContent
	if len(detected) > 0 {
		if _, err := p.Audit.Append(ctx, models.EventSecretAccess, th.ID, map[string]any{
			"phase": "ingress", "count": len(detected),
		}); err != nil {
			return Result{}, err
		}
	}

	triple, err := p.DMA.Run(ctx, dma.Thought{ID: th.ID, Content: th.Content, Context: th.Context})
	if err != nil {
		// A capacity trip returns the thought to pending rather than
		// failing it outright (spec.md §7: back-pressure, not rejection);
		// it re-enters the round queue at its usual task-priority position,
		// not at the tail. The scheduler is responsible for actually
		// suspending the round.
		nextStatus := models.ThoughtFailed
		if apperrors.Is(err, apperrors.KindCapacity) {
			nextStatus = models.ThoughtPending
		}
		if failErr := p.Thoughts.UpdateStatus(ctx, th.ID, nextStatus, nil); failErr != nil {
			return Result{}, failErr
		}
		return Result{}, err
	}
	if _, err := p.Audit.Append(ctx, models.EventDMAAccepted, th.ID, map[string]any{
		"aligned": triple.Ethical.Alignment.Aligned, "plausible": triple.Common.Plausible, "domain_fit": triple.Domain.Fit,
	}); err != nil {
		return Result{}, err
	}

	selection, err := p.Selector.Select(ctx, selector.Thought{
		ID: th.ID, Content: th.Content, Context: th.Context,
		PonderCount: th.PonderCount, PonderCap: p.PonderCap,
	}, triple)
	if err != nil {
		return Result{}, err
	}
	if _, err := p.Audit.Append(ctx, models.EventActionSelected, th.ID, map[string]any{
		"action": string(selection.Action), "rationale": selection.Rationale,
	}); err != nil {
		return Result{}, err
	}

	check, err := p.Guardrail.Evaluate(ctx, th.Content, selection.Action)
	if err != nil {
		return Result{}, err
	}
	if _, err := p.Audit.Append(ctx, models.EventGuardrailDecision, th.ID, map[string]any{
		"ran": check.Ran, "vetoed": check.Failed, "reason": check.FailureReason,
	}); err != nil {
		return Result{}, err
	}
	if check.Failed {
		selection = convertToDefer(selection, check.FailureReason)
	}

	decapsulated, err := p.Secrets.Decapsulate(ctx, selection.Params, th.ID)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.KindTransient, "pipeline", "egress secrets decapsulate", err)
	}
	selection.Params = decapsulated

	outcome, err := p.Dispatch.Dispatch(ctx, th, selection)
	if err != nil {
		return Result{}, err
	}

	return Result{ThoughtID: th.ID, FinalAction: selection.Action, GuardrailFail: check.Failed, Outcome: outcome}, nil
}

// convertToDefer replaces a guardrail-failed selection with a Defer action
// naming the failing check (spec.md §7: "Guardrail failures are not
// errors; they are first-class outcomes that convert the action to
// Defer").
func convertToDefer(selection models.ActionSelectionResult, reason string) models.ActionSelectionResult {
	originalAction := selection.Action
	selection.Action = models.ActionDefer
	selection.Params = models.ActionParams{
		Variant: models.ActionDefer,
		Defer: &models.DeferParams{
			Reason:  fmt.Sprintf("guardrail: %s", reason),
			Payload: map[string]any{"original_action": string(originalAction)},
		},
	}
	return selection
}
