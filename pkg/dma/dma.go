// Package dma implements the DMA Runner (spec.md §4.2): it fans out the
// Ethical, Common-Sense, and Domain-Specific DMAs concurrently against one
// thought, joins their results into a DmaTriple, and propagates
// cancellation and bounded retry. Grounded directly on
// pkg/agent/orchestrator/runner.go's SubAgentRunner.Dispatch/results-channel
// pattern, adapted from N arbitrary sub-agents to exactly three fixed
// first-stage evaluators (SPEC_FULL.md §4.2).
package dma

import (
	"context"
	"encoding/json"

	"github.com/wisebound/sentinel/pkg/llm"
	"github.com/wisebound/sentinel/pkg/models"
)

// Thought is the minimal view of a models.Thought the DMAs reason over.
type Thought struct {
	ID      string
	Content string
	Context map[string]any
}

// Ethical evaluates a thought for alignment conflicts (spec.md §4.2).
type Ethical interface {
	Evaluate(ctx context.Context, th Thought) (models.EthicalDMAResult, llm.ResourceUsage, error)
}

// CommonSense evaluates a thought for basic plausibility (spec.md §4.2).
type CommonSense interface {
	Evaluate(ctx context.Context, th Thought) (models.CommonSenseDMAResult, llm.ResourceUsage, error)
}

// Domain evaluates a thought for domain fitness; one implementation is
// loaded per agent profile (spec.md §4.2, §9 "dynamic dispatch of DMAs").
type Domain interface {
	Kind() string
	Evaluate(ctx context.Context, th Thought) (models.DomainDMAResult, llm.ResourceUsage, error)
}

// structuredCaller is satisfied by an llm.Provider; DMA implementations
// compose over it rather than embedding provider wiring themselves.
type structuredCaller interface {
	CallStructured(ctx context.Context, messages []llm.Message, schema json.RawMessage, maxTokens int, temperature float64) (json.RawMessage, llm.ResourceUsage, error)
}
