// Package selector implements the Action Selector (spec.md §4.3): the
// second-stage decision consuming a DmaTriple and producing one
// ActionSelectionResult. Grounded on pkg/agent/controller's sequential,
// structured-call stage pattern, applied here as a single consuming stage
// rather than a ReAct loop (SPEC_FULL.md §4.3).
package selector

import (
	"context"
	"encoding/json"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/llm"
	"github.com/wisebound/sentinel/pkg/models"
)

// Thought is the minimal view of a models.Thought the selector reasons over.
type Thought struct {
	ID          string
	Content     string
	Context     map[string]any
	PonderCount int
	PonderCap   int
}

type structuredCaller interface {
	CallStructured(ctx context.Context, messages []llm.Message, schema json.RawMessage, maxTokens int, temperature float64) (json.RawMessage, llm.ResourceUsage, error)
}

// Selector consumes a DmaTriple and selects one handler action.
type Selector struct {
	Provider structuredCaller
}

// New builds a Selector over an llm.Provider.
func New(provider structuredCaller) *Selector {
	return &Selector{Provider: provider}
}

var selectionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["speak","observe","tool","memorize","recall","forget","ponder","defer","reject","no_action"]},
    "rationale": {"type": "string"},
    "speak_content": {"type": "string"},
    "observe_channel": {"type": "string"},
    "tool_name": {"type": "string"},
    "tool_arguments": {"type": "object"},
    "memorize_node_id": {"type": "string"},
    "memorize_scope": {"type": "string"},
    "memorize_type": {"type": "string"},
    "memorize_attributes": {"type": "object"},
    "recall_node_id": {"type": "string"},
    "recall_scope": {"type": "string"},
    "recall_type": {"type": "string"},
    "recall_query": {"type": "string"},
    "forget_node_id": {"type": "string"},
    "forget_scope": {"type": "string"},
    "ponder_questions": {"type": "array", "items": {"type": "string"}},
    "defer_reason": {"type": "string"},
    "reject_rationale": {"type": "string"},
    "monitoring_metric": {"type": "string"}
  },
  "required": ["action", "rationale"]
}`)

type selectionWire struct {
	Action             string         `json:"action"`
	Rationale          string         `json:"rationale"`
	SpeakContent       string         `json:"speak_content"`
	ObserveChannel     string         `json:"observe_channel"`
	ToolName           string         `json:"tool_name"`
	ToolArguments      map[string]any `json:"tool_arguments"`
	MemorizeNodeID     string         `json:"memorize_node_id"`
	MemorizeScope      string         `json:"memorize_scope"`
	MemorizeType       string         `json:"memorize_type"`
	MemorizeAttributes map[string]any `json:"memorize_attributes"`
	RecallNodeID       string         `json:"recall_node_id"`
	RecallScope        string         `json:"recall_scope"`
	RecallType         string         `json:"recall_type"`
	RecallQuery        string         `json:"recall_query"`
	ForgetNodeID       string         `json:"forget_node_id"`
	ForgetScope        string         `json:"forget_scope"`
	PonderQuestions    []string       `json:"ponder_questions"`
	DeferReason        string         `json:"defer_reason"`
	RejectRationale    string         `json:"reject_rationale"`
	MonitoringMetric   string         `json:"monitoring_metric"`
}

// Select consumes the DmaTriple plus the thought and produces an
// ActionSelectionResult, applying the tie-break rules of spec.md §4.3
// after the structured call returns.
func (s *Selector) Select(ctx context.Context, th Thought, triple models.DmaTriple) (models.ActionSelectionResult, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the Action Selector (PDMA). Choose exactly one handler action given the three DMA evaluations and the thought."},
		{Role: llm.RoleUser, Content: th.Content},
	}
	raw, _, err := s.Provider.CallStructured(ctx, messages, selectionSchema, 1024, 0.0)
	if err != nil {
		return models.ActionSelectionResult{}, apperrors.Transient("selector", "call_structured", err)
	}

	var wire selectionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.ActionSelectionResult{}, apperrors.Wrap(apperrors.KindValidation, "selector", "unmarshal response", err)
	}

	result := models.ActionSelectionResult{
		ThoughtID: th.ID,
		Action:    models.ActionVariant(wire.Action),
		Rationale: wire.Rationale,
		Alignment: triple.Ethical.Alignment,
		Monitoring: models.MonitoringPlan{
			Metric: wire.MonitoringMetric,
		},
	}
	result.Params = buildParams(result.Action, wire)

	return applyTieBreak(result, th, triple), nil
}

func buildParams(action models.ActionVariant, w selectionWire) models.ActionParams {
	p := models.ActionParams{Variant: action}
	switch action {
	case models.ActionSpeak:
		p.Speak = &models.SpeakParams{ChannelID: w.ObserveChannel, Content: w.SpeakContent}
	case models.ActionObserve:
		p.Observe = &models.ObserveParams{ChannelID: w.ObserveChannel, Limit: 20}
	case models.ActionTool:
		p.Tool = &models.ToolParams{Name: w.ToolName, Arguments: w.ToolArguments}
	case models.ActionMemorize:
		p.Memorize = &models.MemorizeParams{NodeID: w.MemorizeNodeID, Scope: w.MemorizeScope, NodeType: w.MemorizeType, Attributes: w.MemorizeAttributes}
	case models.ActionRecall:
		p.Recall = &models.RecallParams{NodeID: w.RecallNodeID, Scope: w.RecallScope, Type: w.RecallType, Query: w.RecallQuery}
	case models.ActionForget:
		p.Forget = &models.ForgetParams{NodeID: w.ForgetNodeID, Scope: w.ForgetScope}
	case models.ActionPonder:
		p.Ponder = &models.PonderParams{Questions: w.PonderQuestions}
	case models.ActionDefer:
		p.Defer = &models.DeferParams{Reason: w.DeferReason}
	case models.ActionReject:
		p.Reject = &models.RejectParams{Rationale: w.RejectRationale}
	}
	return p
}

// applyTieBreak enforces spec.md §4.3's tie-break rules after the
// structured selection:
//
//   - an unresolved ethical conflict of severity >= high forces Defer or
//     Reject;
//   - Ponder is only legal while the thought's ponder counter is strictly
//     below its cap; at the cap it is rewritten to Defer with reason
//     "ponder cap" (also spec.md §8 invariant 7).
func applyTieBreak(result models.ActionSelectionResult, th Thought, triple models.DmaTriple) models.ActionSelectionResult {
	hasHighConflict := false
	for _, c := range triple.Ethical.Alignment.Conflicts {
		if c.Severity.AtLeast(models.SeverityHigh) {
			hasHighConflict = true
			break
		}
	}

	if hasHighConflict && result.Action != models.ActionDefer && result.Action != models.ActionReject {
		result.Action = models.ActionDefer
		result.Params = models.ActionParams{
			Variant: models.ActionDefer,
			Defer:   &models.DeferParams{Reason: "unresolved ethical conflict of severity >= high"},
		}
		return result
	}

	if result.Action == models.ActionPonder && th.PonderCount >= th.PonderCap {
		result.Action = models.ActionDefer
		result.Params = models.ActionParams{
			Variant: models.ActionDefer,
			Defer:   &models.DeferParams{Reason: "ponder cap"},
		}
	}

	return result
}
