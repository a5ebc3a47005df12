package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load profile.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in defaults + user overrides
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized successfully",
		"agent_name", cfg.Profile.AgentName,
		"domain_dma", cfg.Profile.DomainDMA.Kind,
		"ponder_cap", cfg.Runtime.PonderCap,
		"adaptation_ceiling", cfg.Runtime.AdaptationCeiling)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadProfileYAML()
	if err != nil {
		return nil, NewLoadError("profile.yaml", err)
	}

	runtime := DefaultRuntimeDefaults()
	if g := yamlCfg.Guardrails; g != nil {
		if g.EntropyThreshold != nil {
			runtime.Guardrails.EntropyThreshold = *g.EntropyThreshold
		}
		if g.CoherenceThreshold != nil {
			runtime.Guardrails.CoherenceThreshold = *g.CoherenceThreshold
		}
		if g.OptimizationVetoRatio != nil {
			runtime.Guardrails.OptimizationVetoRatio = *g.OptimizationVetoRatio
		}
	}
	if a := yamlCfg.Adaptation; a != nil {
		if a.CeilingFraction != nil {
			runtime.AdaptationCeiling = *a.CeilingFraction
		}
		if a.CadenceHours != nil {
			runtime.AdaptationCadenceHours = *a.CadenceHours
		}
	}
	if p := yamlCfg.Ponder; p != nil && p.Cap != nil {
		runtime.PonderCap = *p.Cap
	}

	profile := Profile{
		AgentName:       yamlCfg.AgentName,
		DomainDMA:       yamlCfg.DomainDMA,
		PromptOverrides: yamlCfg.PromptOverrides,
	}
	if profile.PromptOverrides == nil {
		profile.PromptOverrides = map[string]string{}
	}

	return &Config{
		configDir: configDir,
		Profile:   profile,
		Runtime:   runtime,
	}, nil
}

// validate performs structural validation on the loaded configuration.
func validate(cfg *Config) error {
	if cfg.Profile.AgentName == "" {
		return NewValidationError("profile", "profile.yaml", "agent_name", ErrMissingRequiredField)
	}
	if cfg.Profile.DomainDMA.Kind == "" {
		return NewValidationError("profile", "profile.yaml", "domain_dma.kind", ErrMissingRequiredField)
	}
	if cfg.Runtime.Guardrails.EntropyThreshold < 0 || cfg.Runtime.Guardrails.EntropyThreshold > 1 {
		return NewValidationError("guardrails", "profile.yaml", "entropy_threshold", ErrInvalidValue)
	}
	if cfg.Runtime.Guardrails.CoherenceThreshold < 0 || cfg.Runtime.Guardrails.CoherenceThreshold > 1 {
		return NewValidationError("guardrails", "profile.yaml", "coherence_threshold", ErrInvalidValue)
	}
	if cfg.Runtime.PonderCap < 1 {
		return NewValidationError("ponder", "profile.yaml", "cap", ErrInvalidValue)
	}
	if cfg.Runtime.AdaptationCeiling <= 0 || cfg.Runtime.AdaptationCeiling > 1 {
		return NewValidationError("adaptation", "profile.yaml", "ceiling_fraction", ErrInvalidValue)
	}
	return nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables before parsing, mirroring the
	// shell-style ${VAR} substitution used across the profile file.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadProfileYAML() (*ProfileYAMLConfig, error) {
	var cfg ProfileYAMLConfig
	cfg.PromptOverrides = make(map[string]string)
	if err := l.loadYAML("profile.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MergeProfile overlays a partial profile override onto a base profile,
// non-zero fields in override win.
func MergeProfile(base Profile, override Profile) (Profile, error) {
	merged := base
	if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
		return Profile{}, fmt.Errorf("failed to merge profile: %w", err)
	}
	return merged, nil
}
