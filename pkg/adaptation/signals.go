package adaptation

import (
	"context"

	"github.com/wisebound/sentinel/pkg/audit"
	"github.com/wisebound/sentinel/pkg/graph"
	"github.com/wisebound/sentinel/pkg/models"
)

// Signals is the analysis window the Observe step aggregates from the
// audit chain and graph memory (spec.md §4.9 step 1: "aggregate signals
// from audit, telemetry, incidents, traces into an analysis window").
// Telemetry and incidents are folded out of audit event counts and graph
// nodes of type "incident" in the COMMUNITY scope rather than a bespoke
// telemetry store (SPEC_FULL.md §10).
type Signals struct {
	GuardrailDecisions int
	GuardrailVetoes    int
	HandlerFailures    int
	SecretAccesses     int
	IncidentNodes      int
	WindowEntries      int
}

// VetoRate is the fraction of guardrail decisions in the window that were
// vetoes, one of the inputs a Propose step weighs against the guardrail
// optimization-veto-ratio configuration field.
func (s Signals) VetoRate() float64 {
	if s.GuardrailDecisions == 0 {
		return 0
	}
	return float64(s.GuardrailVetoes) / float64(s.GuardrailDecisions)
}

// Observe aggregates the trailing n audit entries and any graph nodes of
// type "incident" in the COMMUNITY scope into a Signals window.
func Observe(ctx context.Context, store audit.Store, mem *graph.Memory, n int) (Signals, error) {
	entries, err := store.Tail(ctx, n)
	if err != nil {
		return Signals{}, err
	}

	var s Signals
	s.WindowEntries = len(entries)
	for _, e := range entries {
		switch e.EventType {
		case models.EventGuardrailDecision:
			s.GuardrailDecisions++
			if vetoed, ok := e.Payload["vetoed"].(bool); ok && vetoed {
				s.GuardrailVetoes++
			}
		case models.EventHandlerOutcome:
			if failed, ok := e.Payload["failed"].(bool); ok && failed {
				s.HandlerFailures++
			}
		case models.EventSecretAccess:
			s.SecretAccesses++
		}
	}

	if mem != nil {
		incidents, err := mem.RecallByType(ctx, models.ScopeCommunity, "incident")
		if err != nil {
			return Signals{}, err
		}
		s.IncidentNodes = len(incidents)
	}

	return s, nil
}
