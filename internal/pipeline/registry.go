package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bft-labs/visionflow/internal/domain"
)

// Params are the free-form descriptor parameters of a stage.
type Params map[string]any

// Factory builds an invoker from descriptor params.
type Factory func(params Params) (Invoker, error)

// Descriptor is the declarative form of a stage.
type Descriptor struct {
	Name       string  `toml:"name"`
	Kind       string  `toml:"kind"`
	CostWeight float64 `toml:"cost_weight"`
	Params     Params  `toml:"params"`
}

// Spec is the declarative form of a pipeline.
type Spec struct {
	ID     string       `toml:"id"`
	Stages []Descriptor `toml:"stages"`
}

// Registry maps stage kinds to factories.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]Factory)}
	r.kinds[KindDetectionsFilter] = newFilterStage
	r.kinds[KindDetectionsOffset] = newOffsetStage
	r.kinds[KindDetectionsShift] = newShiftStage
	r.kinds[KindDetectionsConsensus] = newConsensusStage
	r.kinds[KindSimulatedDetector] = newSimulatedDetector
	return r
}

// Register adds or replaces a stage kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = f
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build resolves every descriptor of spec and returns the pipeline.
func (r *Registry) Build(spec Spec) (*Pipeline, error) {
	stages := make([]Stage, 0, len(spec.Stages))
	for _, d := range spec.Stages {
		r.mu.RLock()
		f, ok := r.kinds[d.Kind]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: pipeline %s stage %s: unknown kind %q",
				domain.ErrInvalidConfig, spec.ID, d.Name, d.Kind)
		}
		inv, err := f(d.Params)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s stage %s: %w", spec.ID, d.Name, err)
		}
		stages = append(stages, Stage{Name: d.Name, CostWeight: d.CostWeight, Invoker: inv})
	}
	return New(spec.ID, stages...)
}

// BuildSet builds every spec into a Set. The first spec is the default.
func (r *Registry) BuildSet(specs []Spec) (*Set, error) {
	out := make([]*Pipeline, 0, len(specs))
	for _, s := range specs {
		p, err := r.Build(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return NewSet(out...)
}
