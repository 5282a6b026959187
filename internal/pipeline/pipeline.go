package pipeline

import (
	"fmt"
	"sort"

	"github.com/bft-labs/visionflow/internal/domain"
)

// Pipeline is an ordered, immutable list of stages.
type Pipeline struct {
	id     string
	stages []Stage
	cost   float64
}

// New builds a pipeline. Stage names must be unique and non-empty, and every
// stage needs an invoker. Non-positive cost weights default to 1.
func New(id string, stages ...Stage) (*Pipeline, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: pipeline id is required", domain.ErrInvalidConfig)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: pipeline %s has no stages", domain.ErrInvalidConfig, id)
	}

	seen := make(map[string]bool, len(stages))
	cp := make([]Stage, len(stages))
	var cost float64
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: pipeline %s stage %d has no name", domain.ErrInvalidConfig, id, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: pipeline %s has duplicate stage %s", domain.ErrInvalidConfig, id, s.Name)
		}
		if s.Invoker == nil {
			return nil, fmt.Errorf("%w: pipeline %s stage %s has no invoker", domain.ErrInvalidConfig, id, s.Name)
		}
		if s.CostWeight <= 0 {
			s.CostWeight = 1
		}
		seen[s.Name] = true
		cp[i] = s
		cost += s.CostWeight
	}

	return &Pipeline{id: id, stages: cp, cost: cost}, nil
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string { return p.id }

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Stage returns the i-th stage.
func (p *Pipeline) Stage(i int) Stage { return p.stages[i] }

// Cost returns the sum of the stage cost weights.
func (p *Pipeline) Cost() float64 { return p.cost }

// StageNames returns the stage names in order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Set is an immutable collection of pipelines keyed by id.
type Set struct {
	byID      map[string]*Pipeline
	defaultID string
}

// NewSet builds a set. The first pipeline is the default.
func NewSet(pipelines ...*Pipeline) (*Set, error) {
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("%w: at least one pipeline is required", domain.ErrInvalidConfig)
	}
	s := &Set{byID: make(map[string]*Pipeline, len(pipelines)), defaultID: pipelines[0].ID()}
	for _, p := range pipelines {
		if _, dup := s.byID[p.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate pipeline %s", domain.ErrInvalidConfig, p.ID())
		}
		s.byID[p.ID()] = p
	}
	return s, nil
}

// Get returns the pipeline with the given id. An empty id selects the default.
func (s *Set) Get(id string) (*Pipeline, error) {
	if id == "" {
		id = s.defaultID
	}
	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPipeline, id)
	}
	return p, nil
}

// Default returns the id of the default pipeline.
func (s *Set) Default() string { return s.defaultID }

// IDs returns the pipeline ids, sorted.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
