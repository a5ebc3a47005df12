package dma

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wisebound/sentinel/pkg/llm"
)

// Constructor builds a Domain-Specific DMA from profile-supplied
// construction arguments. Grounded on pkg/config/sub_agent_registry.go's
// name→constructor map, generalized here from a lookup table of static
// entries to a registry of closures so a profile's `args` can parameterize
// construction (spec.md §9 "closed tagged union of known DMA kinds plus a
// registration table keyed by profile name to a constructor closure").
type Constructor func(provider llm.Provider, args map[string]any) (Domain, error)

// Registry maps a profile's domain_dma.kind name to a Constructor.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry builds a Registry seeded with the built-in generic
// structured-LLM domain DMA under the "generic" key.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register("generic", func(provider llm.Provider, args map[string]any) (Domain, error) {
		prompt, _ := args["system_prompt"].(string)
		kind, _ := args["display_name"].(string)
		if kind == "" {
			kind = "generic"
		}
		return &GenericDomainLLM{KindName: kind, SystemPrompt: prompt, Provider: provider}, nil
	})
	return r
}

// Register adds or replaces the constructor for a kind name.
func (r *Registry) Register(kind string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[kind] = ctor
}

// Build resolves and constructs the Domain-Specific DMA named by kind.
func (r *Registry) Build(kind string, provider llm.Provider, args map[string]any) (Domain, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dma: no domain-specific DMA registered for kind %q", kind)
	}
	return ctor(provider, args)
}

// Kinds returns every registered kind name, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for k := range r.ctors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
