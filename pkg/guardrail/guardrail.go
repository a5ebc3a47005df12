// Package guardrail implements the Guardrail Stack (spec.md §4.5): three
// epistemic checks applied after action selection and before dispatch.
// Grounded on the controller-stage pattern of pkg/agent/controller/*.go
// (sequential, named-stage LLM calls each producing a structured result)
// but applied as three independent post-selection checks rather than
// ReAct iterations (SPEC_FULL.md §4.5).
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/config"
	"github.com/wisebound/sentinel/pkg/llm"
	"github.com/wisebound/sentinel/pkg/models"
)

type structuredCaller interface {
	CallStructured(ctx context.Context, messages []llm.Message, schema json.RawMessage, maxTokens int, temperature float64) (json.RawMessage, llm.ResourceUsage, error)
}

// EpistemicValues is the output of the first check (spec.md §4.5.1).
type EpistemicValues struct {
	Entropy   float64
	Coherence float64
}

// OptimizationVetoDecision is the output of the second check (spec.md §4.5.2).
type OptimizationVetoDecision string

const (
	OptProceed OptimizationVetoDecision = "proceed"
	OptAbort   OptimizationVetoDecision = "abort"
	OptDefer   OptimizationVetoDecision = "defer"
)

// OptimizationVeto is the structured result of the optimization-veto check.
type OptimizationVeto struct {
	Decision            OptimizationVetoDecision
	EntropyReductionRatio float64
	AffectedValues      []string
	Justification       string
	Confidence          float64
}

// HumilityRecommendation is the output of the third check (spec.md §4.5.3).
type HumilityRecommendation string

const (
	HumilityProceed HumilityRecommendation = "proceed"
	HumilityDefer   HumilityRecommendation = "defer"
	HumilityAbort   HumilityRecommendation = "abort"
)

// Humility is the structured result of the epistemic humility check.
type Humility struct {
	Certainty       float64
	Uncertainties   []string
	Justification   string
	Recommended     HumilityRecommendation
}

// CheckResult is the full set of results attached to the audit entry for
// one guardrail pass (spec.md §4.5: "Each check's LLM result is attached to
// the audit entry").
type CheckResult struct {
	Ran              bool // false for steps skipped on non-communicative actions
	Epistemic        *EpistemicValues
	Veto             *OptimizationVeto
	Humility         *Humility
	Failed           bool
	FailureReason    string
}

// Stack runs the three epistemic checks.
type Stack struct {
	Provider   structuredCaller
	Thresholds config.GuardrailThresholds
}

// New builds a Stack over an llm.Provider and resolved thresholds.
func New(provider structuredCaller, thresholds config.GuardrailThresholds) *Stack {
	return &Stack{Provider: provider, Thresholds: thresholds}
}

// Evaluate runs the guardrail stack against a selected action (spec.md
// §4.5). For a communicative action (spec.md: "principally Speak") all
// three checks run; for non-communicative actions the epistemic-values
// check (step 1) is skipped. Any failing check converts the outcome to a
// Defer naming the failing check (spec.md §7: "Guardrail failures are not
// errors; they are first-class outcomes that convert the action to
// Defer").
func (st *Stack) Evaluate(ctx context.Context, content string, variant models.ActionVariant) (CheckResult, error) {
	var result CheckResult

	if variant.Communicative() {
		ev, err := st.checkEpistemicValues(ctx, content)
		if err != nil {
			return result, err
		}
		result.Ran = true
		result.Epistemic = &ev
		if ev.Entropy > st.Thresholds.EntropyThreshold {
			result.Failed = true
			result.FailureReason = fmt.Sprintf("entropy %.2f > %.2f", ev.Entropy, st.Thresholds.EntropyThreshold)
		} else if ev.Coherence < st.Thresholds.CoherenceThreshold {
			result.Failed = true
			result.FailureReason = fmt.Sprintf("coherence %.2f < %.2f", ev.Coherence, st.Thresholds.CoherenceThreshold)
		}
	}

	veto, err := st.checkOptimizationVeto(ctx, content)
	if err != nil {
		return result, err
	}
	result.Veto = &veto
	if !result.Failed && (veto.Decision == OptAbort || veto.Decision == OptDefer || veto.EntropyReductionRatio >= st.Thresholds.OptimizationVetoRatio) {
		result.Failed = true
		result.FailureReason = fmt.Sprintf("optimization veto: decision=%s ratio=%.2f", veto.Decision, veto.EntropyReductionRatio)
	}

	humility, err := st.checkHumility(ctx, content)
	if err != nil {
		return result, err
	}
	result.Humility = &humility
	if !result.Failed && (humility.Recommended == HumilityDefer || humility.Recommended == HumilityAbort) {
		result.Failed = true
		result.FailureReason = fmt.Sprintf("epistemic humility recommends %s", humility.Recommended)
	}

	return result, nil
}

var epistemicSchema = json.RawMessage(`{"type":"object","properties":{"entropy":{"type":"number"},"coherence":{"type":"number"}},"required":["entropy","coherence"]}`)

func (st *Stack) checkEpistemicValues(ctx context.Context, content string) (EpistemicValues, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "Score the entropy (0=low uncertainty,1=high) and coherence (0=incoherent,1=coherent) of this outgoing message."},
		{Role: llm.RoleUser, Content: content},
	}
	raw, _, err := st.Provider.CallStructured(ctx, messages, epistemicSchema, 256, 0.0)
	if err != nil {
		return EpistemicValues{}, apperrors.Transient("guardrail.epistemic", "call_structured", err)
	}
	var ev EpistemicValues
	if err := json.Unmarshal(raw, &ev); err != nil {
		return EpistemicValues{}, apperrors.Wrap(apperrors.KindValidation, "guardrail.epistemic", "unmarshal response", err)
	}
	return ev, nil
}

var vetoSchema = json.RawMessage(`{"type":"object","properties":{"decision":{"type":"string","enum":["proceed","abort","defer"]},"entropy_reduction_ratio":{"type":"number"},"affected_values":{"type":"array","items":{"type":"string"}},"justification":{"type":"string"},"confidence":{"type":"number"}},"required":["decision","entropy_reduction_ratio","justification","confidence"]}`)

type vetoWire struct {
	Decision              string   `json:"decision"`
	EntropyReductionRatio float64  `json:"entropy_reduction_ratio"`
	AffectedValues        []string `json:"affected_values"`
	Justification         string   `json:"justification"`
	Confidence            float64  `json:"confidence"`
}

func (st *Stack) checkOptimizationVeto(ctx context.Context, content string) (OptimizationVeto, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "Evaluate whether taking this action over-optimizes at the expense of other values. Decide proceed, abort, or defer."},
		{Role: llm.RoleUser, Content: content},
	}
	raw, _, err := st.Provider.CallStructured(ctx, messages, vetoSchema, 512, 0.0)
	if err != nil {
		return OptimizationVeto{}, apperrors.Transient("guardrail.optimization_veto", "call_structured", err)
	}
	var wire vetoWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return OptimizationVeto{}, apperrors.Wrap(apperrors.KindValidation, "guardrail.optimization_veto", "unmarshal response", err)
	}
	return OptimizationVeto{
		Decision:              OptimizationVetoDecision(wire.Decision),
		EntropyReductionRatio: wire.EntropyReductionRatio,
		AffectedValues:        wire.AffectedValues,
		Justification:         wire.Justification,
		Confidence:            wire.Confidence,
	}, nil
}

var humilitySchema = json.RawMessage(`{"type":"object","properties":{"certainty":{"type":"number"},"uncertainties":{"type":"array","items":{"type":"string"}},"justification":{"type":"string"},"recommended_action":{"type":"string","enum":["proceed","defer","abort"]}},"required":["certainty","justification","recommended_action"]}`)

type humilityWire struct {
	Certainty       float64  `json:"certainty"`
	Uncertainties   []string `json:"uncertainties"`
	Justification   string   `json:"justification"`
	RecommendedAction string `json:"recommended_action"`
}

func (st *Stack) checkHumility(ctx context.Context, content string) (Humility, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "Assess your certainty in this action and name open uncertainties. Recommend proceed, defer, or abort."},
		{Role: llm.RoleUser, Content: content},
	}
	raw, _, err := st.Provider.CallStructured(ctx, messages, humilitySchema, 512, 0.0)
	if err != nil {
		return Humility{}, apperrors.Transient("guardrail.humility", "call_structured", err)
	}
	var wire humilityWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Humility{}, apperrors.Wrap(apperrors.KindValidation, "guardrail.humility", "unmarshal response", err)
	}
	return Humility{
		Certainty:     wire.Certainty,
		Uncertainties: wire.Uncertainties,
		Justification: wire.Justification,
		Recommended:   HumilityRecommendation(wire.RecommendedAction),
	}, nil
}
