// Package config loads and resolves process-wide configuration: the agent
// profile (display name, Domain-Specific DMA selection, prompt overrides),
// guardrail thresholds, the adaptation ceiling, and the ponder cap.
package config

// ProfileYAMLConfig represents the complete profile.yaml file structure —
// the file that selects the Domain-Specific DMA class and its construction
// arguments, the agent display name, and action prompt overrides
// (spec.md §6.5).
type ProfileYAMLConfig struct {
	AgentName     string            `yaml:"agent_name"`
	DomainDMA     DomainDMAConfig   `yaml:"domain_dma"`
	PromptOverrides map[string]string `yaml:"prompt_overrides,omitempty"`
	Guardrails    *GuardrailYAML    `yaml:"guardrails,omitempty"`
	Adaptation    *AdaptationYAML   `yaml:"adaptation,omitempty"`
	Ponder        *PonderYAML       `yaml:"ponder,omitempty"`
}

// DomainDMAConfig names the registered Domain-Specific DMA constructor and
// the arguments passed to it. Kind must match a name registered in
// pkg/dma.Registry (spec.md §9 "dynamic dispatch of DMAs").
type DomainDMAConfig struct {
	Kind string         `yaml:"kind"`
	Args map[string]any `yaml:"args,omitempty"`
}

// GuardrailYAML overrides the default epistemic thresholds (spec.md §4.5, §6.5).
type GuardrailYAML struct {
	EntropyThreshold    *float64 `yaml:"entropy_threshold,omitempty"`
	CoherenceThreshold  *float64 `yaml:"coherence_threshold,omitempty"`
	OptimizationVetoRatio *float64 `yaml:"optimization_veto_ratio,omitempty"`
}

// AdaptationYAML overrides the adaptation controller ceiling and cadence
// (spec.md §4.9, §6.5).
type AdaptationYAML struct {
	CeilingFraction *float64 `yaml:"ceiling_fraction,omitempty"`
	CadenceHours    *int     `yaml:"cadence_hours,omitempty"`
}

// PonderYAML overrides the ponder cap (spec.md §4.1, §6.5).
type PonderYAML struct {
	Cap *int `yaml:"cap,omitempty"`
}

// GuardrailThresholds is the resolved, process-wide set of guardrail
// configuration values (spec.md §4.5, defaults in §6.5).
type GuardrailThresholds struct {
	EntropyThreshold      float64 // fails if entropy > this
	CoherenceThreshold    float64 // fails if coherence < this
	OptimizationVetoRatio float64 // fails if entropy_reduction_ratio >= this
}

// RuntimeDefaults is the resolved, process-wide configuration used by the
// scheduler, DMA runner, and adaptation controller (spec.md §6.5).
type RuntimeDefaults struct {
	Guardrails            GuardrailThresholds
	PonderCap             int
	AdaptationCeiling     float64 // weighted variance fraction, e.g. 0.20
	AdaptationCadenceHours int
}

// DefaultRuntimeDefaults returns the spec-mandated defaults (spec.md §6.5):
// entropy 0.40, coherence 0.80, optimization-veto ratio 10x, ponder cap 7,
// adaptation ceiling 20%.
func DefaultRuntimeDefaults() RuntimeDefaults {
	return RuntimeDefaults{
		Guardrails: GuardrailThresholds{
			EntropyThreshold:      0.40,
			CoherenceThreshold:    0.80,
			OptimizationVetoRatio: 10.0,
		},
		PonderCap:              7,
		AdaptationCeiling:      0.20,
		AdaptationCadenceHours: 6,
	}
}

// Profile is the resolved, in-memory agent profile.
type Profile struct {
	AgentName       string
	DomainDMA       DomainDMAConfig
	PromptOverrides map[string]string
}

// Config is the fully resolved, process-wide configuration returned by
// Initialize.
type Config struct {
	configDir string
	Profile   Profile
	Runtime   RuntimeDefaults
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }
