package models

import "time"

// ActionVariant is one of the ten handler actions the selector may choose
// (spec.md §4.3).
type ActionVariant string

const (
	ActionSpeak    ActionVariant = "speak"
	ActionObserve  ActionVariant = "observe"
	ActionTool     ActionVariant = "tool"
	ActionMemorize ActionVariant = "memorize"
	ActionRecall   ActionVariant = "recall"
	ActionForget   ActionVariant = "forget"
	ActionPonder   ActionVariant = "ponder"
	ActionDefer    ActionVariant = "defer"
	ActionReject   ActionVariant = "reject"
	ActionNoAction ActionVariant = "no_action"
)

// Communicative reports whether the variant carries outgoing content and is
// therefore subject to the full epistemic guardrail pass (spec.md §4.5:
// "communicative action ... principally Speak").
func (v ActionVariant) Communicative() bool {
	return v == ActionSpeak
}

// ActionParams is a discriminated union of the typed parameters for each
// action variant, replacing the Dict[str, Any] parameter bag of the
// original implementation (spec.md §9). Exactly one of the pointer fields
// is populated, matching ActionVariant.
type ActionParams struct {
	Variant  ActionVariant
	Speak    *SpeakParams
	Observe  *ObserveParams
	Tool     *ToolParams
	Memorize *MemorizeParams
	Recall   *RecallParams
	Forget   *ForgetParams
	Ponder   *PonderParams
	Defer    *DeferParams
	Reject   *RejectParams
}

type SpeakParams struct {
	ChannelID string
	Content   string
}

type ObserveParams struct {
	ChannelID string
	Limit     int
	Before    *time.Time
}

type ToolParams struct {
	Name      string
	Arguments map[string]any
}

type MemorizeParams struct {
	NodeID     string
	Scope      string
	NodeType   string
	Attributes map[string]any
}

type RecallParams struct {
	NodeID string
	Scope  string
	Type   string
	Query  string
}

type ForgetParams struct {
	NodeID string
	Scope  string
}

type PonderParams struct {
	Questions []string
}

type DeferParams struct {
	Reason  string
	Payload map[string]any
}

type RejectParams struct {
	Rationale string
}

// AlignmentCheck is the structured rationale produced by the Ethical DMA and
// echoed by the Action Selector (spec.md §4.2, §4.3).
type AlignmentCheck struct {
	Aligned         bool
	Conflicts       []EthicalConflict
	Rationale       string
}

// ConflictSeverity ranks an unresolved ethical conflict (spec.md §4.3:
// "severity ≥ high").
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// AtLeast reports whether the severity is at least as severe as min.
func (s ConflictSeverity) AtLeast(min ConflictSeverity) bool {
	rank := map[ConflictSeverity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3}
	return rank[s] >= rank[min]
}

type EthicalConflict struct {
	Principle string
	Severity  ConflictSeverity
	Detail    string
}

// MonitoringPlan is the action selector's plan for observing the effect of
// the chosen action (spec.md §4.3).
type MonitoringPlan struct {
	Metric       string
	ExpectedWithin time.Duration
}

// ActionSelectionResult is the Action Selector's output (spec.md §4.3).
type ActionSelectionResult struct {
	ThoughtID string
	Action    ActionVariant
	Params    ActionParams
	Rationale string
	Alignment AlignmentCheck
	Monitoring MonitoringPlan
}
