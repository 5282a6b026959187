package pipeline

import (
	"context"

	"github.com/bft-labs/visionflow/internal/domain"
)

// Input is what a stage sees: the frame plus the outputs of earlier stages.
// Both are read-only for the invoker.
type Input struct {
	Frame    domain.Frame
	Previous []domain.StageOutput
}

// Last returns the most recent stage output, or nil for the first stage.
func (in Input) Last() any {
	if len(in.Previous) == 0 {
		return nil
	}
	return in.Previous[len(in.Previous)-1].Value
}

// Output returns the value of the named earlier stage.
func (in Input) Output(stage string) (any, bool) {
	for i := len(in.Previous) - 1; i >= 0; i-- {
		if in.Previous[i].Stage == stage {
			return in.Previous[i].Value, true
		}
	}
	return nil, false
}

// Invoker runs one inference step. Implementations must be safe for
// concurrent use: one invoker is shared read-only by every worker.
type Invoker interface {
	Invoke(ctx context.Context, in Input) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, in Input) (any, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, in Input) (any, error) {
	return f(ctx, in)
}

// Stage is one step of a pipeline.
type Stage struct {
	// Name identifies the stage in results and metrics.
	Name string

	// CostWeight is the relative cost used for fairness accounting.
	CostWeight float64

	// Invoker executes the stage.
	Invoker Invoker
}
