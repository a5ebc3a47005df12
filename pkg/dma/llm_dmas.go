package dma

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/llm"
	"github.com/wisebound/sentinel/pkg/models"
)

// ethicalSchema is the JSON Schema the Ethical DMA's structured call must
// conform to (spec.md §4.2: "produces alignment check structure and
// rationale").
var ethicalSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "aligned": {"type": "boolean"},
    "conflicts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "principle": {"type": "string"},
          "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
          "detail": {"type": "string"}
        },
        "required": ["principle", "severity", "detail"]
      }
    },
    "rationale": {"type": "string"}
  },
  "required": ["aligned", "conflicts", "rationale"]
}`)

// EthicalLLM is the default structured-LLM-backed Ethical DMA.
type EthicalLLM struct {
	Provider structuredCaller
}

type ethicalWire struct {
	Aligned   bool   `json:"aligned"`
	Conflicts []struct {
		Principle string `json:"principle"`
		Severity  string `json:"severity"`
		Detail    string `json:"detail"`
	} `json:"conflicts"`
	Rationale string `json:"rationale"`
}

// Evaluate implements Ethical.
func (e *EthicalLLM) Evaluate(ctx context.Context, th Thought) (models.EthicalDMAResult, llm.ResourceUsage, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the Ethical DMA. Evaluate the thought for alignment conflicts and produce a structured rationale."},
		{Role: llm.RoleUser, Content: th.Content},
	}
	raw, usage, err := e.Provider.CallStructured(ctx, messages, ethicalSchema, 1024, 0.0)
	if err != nil {
		return models.EthicalDMAResult{}, usage, apperrors.Transient("dma.ethical", "call_structured", err)
	}

	var wire ethicalWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.EthicalDMAResult{}, usage, apperrors.Wrap(apperrors.KindValidation, "dma.ethical", "unmarshal response", err)
	}

	conflicts := make([]models.EthicalConflict, len(wire.Conflicts))
	for i, c := range wire.Conflicts {
		conflicts[i] = models.EthicalConflict{
			Principle: c.Principle,
			Severity:  models.ConflictSeverity(c.Severity),
			Detail:    c.Detail,
		}
	}

	return models.EthicalDMAResult{
		Alignment: models.AlignmentCheck{
			Aligned:   wire.Aligned,
			Conflicts: conflicts,
			Rationale: wire.Rationale,
		},
		Rationale: wire.Rationale,
	}, usage, nil
}

// commonSenseSchema backs the Common-Sense DMA (spec.md §4.2: "produces
// plausibility verdict").
var commonSenseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "plausible": {"type": "boolean"},
    "rationale": {"type": "string"}
  },
  "required": ["plausible", "rationale"]
}`)

// CommonSenseLLM is the default structured-LLM-backed Common-Sense DMA.
type CommonSenseLLM struct {
	Provider structuredCaller
}

// Evaluate implements CommonSense.
func (c *CommonSenseLLM) Evaluate(ctx context.Context, th Thought) (models.CommonSenseDMAResult, llm.ResourceUsage, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the Common-Sense DMA. Judge whether the thought's proposed reasoning is plausible given ordinary real-world expectations."},
		{Role: llm.RoleUser, Content: th.Content},
	}
	raw, usage, err := c.Provider.CallStructured(ctx, messages, commonSenseSchema, 512, 0.0)
	if err != nil {
		return models.CommonSenseDMAResult{}, usage, apperrors.Transient("dma.common_sense", "call_structured", err)
	}

	var wire models.CommonSenseDMAResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.CommonSenseDMAResult{}, usage, apperrors.Wrap(apperrors.KindValidation, "dma.common_sense", "unmarshal response", err)
	}
	return wire, usage, nil
}

// GenericDomainLLM is a structured-LLM-backed Domain-Specific DMA whose
// evaluation prompt is supplied per profile (spec.md §4.2: "the specific
// DMA is chosen by an agent profile loaded at startup"). It implements
// Domain and is registered by NewRegistry under the "generic" kind;
// Registry.Build returns an error for a kind with no registered
// constructor rather than falling back to this one.
type GenericDomainLLM struct {
	KindName     string
	SystemPrompt string
	Provider     structuredCaller
}

func (g *GenericDomainLLM) Kind() string { return g.KindName }

var domainSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "fit": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale": {"type": "string"}
  },
  "required": ["fit", "rationale"]
}`)

type domainWire struct {
	Fit       float64 `json:"fit"`
	Rationale string  `json:"rationale"`
}

// Evaluate implements Domain.
func (g *GenericDomainLLM) Evaluate(ctx context.Context, th Thought) (models.DomainDMAResult, llm.ResourceUsage, error) {
	prompt := g.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are the %s Domain-Specific DMA. Score the thought's fit for this domain from 0 to 1.", g.KindName)
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompt},
		{Role: llm.RoleUser, Content: th.Content},
	}
	raw, usage, err := g.Provider.CallStructured(ctx, messages, domainSchema, 512, 0.0)
	if err != nil {
		return models.DomainDMAResult{}, usage, apperrors.Transient("dma.domain."+g.KindName, "call_structured", err)
	}

	var wire domainWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.DomainDMAResult{}, usage, apperrors.Wrap(apperrors.KindValidation, "dma.domain."+g.KindName, "unmarshal response", err)
	}
	return models.DomainDMAResult{Kind: g.KindName, Fit: wire.Fit, Rationale: wire.Rationale}, usage, nil
}
