package resource

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/llm"
)

type stubProvider struct {
	usage llm.ResourceUsage
	err   error
}

func (s stubProvider) CallStructured(ctx context.Context, messages []llm.Message, schema json.RawMessage, maxTokens int, temperature float64) (json.RawMessage, llm.ResourceUsage, error) {
	return json.RawMessage(`{}`), s.usage, s.err
}

func TestInstrumentedProviderRecordsUsage(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerRound: 10000, MaxTokensPerHour: 10000})
	m.StartRound()
	p := InstrumentedProvider{Provider: stubProvider{usage: llm.ResourceUsage{TokensIn: 50, TokensOut: 25}}, Monitor: m}

	_, usage, err := p.CallStructured(context.Background(), nil, nil, 100, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 75, usage.TokensIn+usage.TokensOut)
	assert.Equal(t, 75, m.Snapshot().TokensThisRound)
}

func TestInstrumentedProviderSurfacesBudgetTrip(t *testing.T) {
	m := NewMonitor(Limits{MaxTokensPerRound: 10})
	m.StartRound()
	p := InstrumentedProvider{Provider: stubProvider{usage: llm.ResourceUsage{TokensIn: 100, TokensOut: 0}}, Monitor: m}

	_, _, err := p.CallStructured(context.Background(), nil, nil, 100, 0.5)
	require.Error(t, err)
}
