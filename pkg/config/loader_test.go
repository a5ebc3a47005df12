package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.yaml"), []byte(content), 0o644))
}

func TestInitialize_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
agent_name: test-agent
domain_dma:
  kind: generic
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "test-agent", cfg.Profile.AgentName)
	require.Equal(t, "generic", cfg.Profile.DomainDMA.Kind)
	require.Equal(t, 0.40, cfg.Runtime.Guardrails.EntropyThreshold)
	require.Equal(t, 0.80, cfg.Runtime.Guardrails.CoherenceThreshold)
	require.Equal(t, 10.0, cfg.Runtime.Guardrails.OptimizationVetoRatio)
	require.Equal(t, 7, cfg.Runtime.PonderCap)
	require.InDelta(t, 0.20, cfg.Runtime.AdaptationCeiling, 1e-9)
}

func TestInitialize_OverridesApply(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
agent_name: test-agent
domain_dma:
  kind: generic
guardrails:
  entropy_threshold: 0.25
ponder:
  cap: 3
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 0.25, cfg.Runtime.Guardrails.EntropyThreshold)
	require.Equal(t, 3, cfg.Runtime.PonderCap)
}

func TestInitialize_MissingAgentName(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, `
domain_dma:
  kind: generic
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_MissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(context.Background(), dir)
	require.ErrorIs(t, err, ErrConfigNotFound)
}
