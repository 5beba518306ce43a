package steps

import (
	"sort"
	"sync"
)

// Registry maps step names to their definitions.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

// NewDefaultRegistry returns a registry holding DefaultDefinitions.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range DefaultDefinitions() {
		// the built-in table is valid
		_ = r.Register(def)
	}
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions[def.StepName] = def
	return nil
}

// Apply registers every override, keyed by step name.
func (r *Registry) Apply(overrides map[string]Definition) error {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := overrides[name]
		def.StepName = name
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Get(stepName string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[stepName]
	return def, ok
}

func (r *Registry) Has(stepName string) bool {
	_, ok := r.Get(stepName)
	return ok
}

// Names returns the registered step names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
