package resource

import (
	"context"
	"encoding/json"

	"github.com/wisebound/sentinel/pkg/llm"
)

// InstrumentedProvider wraps an llm.Provider so every call's token usage
// is folded into a Monitor, without DMA/selector/guardrail callers having
// to thread usage back out themselves.
type InstrumentedProvider struct {
	Provider llm.Provider
	Monitor  *Monitor
}

// CallStructured implements llm.Provider.
func (p InstrumentedProvider) CallStructured(ctx context.Context, messages []llm.Message, schema json.RawMessage, maxTokens int, temperature float64) (json.RawMessage, llm.ResourceUsage, error) {
	raw, usage, err := p.Provider.CallStructured(ctx, messages, schema, maxTokens, temperature)
	if recordErr := p.Monitor.RecordTokens(usage.TokensIn, usage.TokensOut); recordErr != nil {
		if err == nil {
			err = recordErr
		}
	}
	return raw, usage, err
}
