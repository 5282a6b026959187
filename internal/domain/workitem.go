package domain

import "time"

// StageOutput is the output of one pipeline stage for one frame.
type StageOutput struct {
	// Stage is the stage name from the pipeline descriptor.
	Stage string `json:"stage"`

	// Value is the opaque stage output (for example, detections).
	Value any `json:"value,omitempty"`

	// Duration is the time spent inside the stage invoker.
	Duration time.Duration `json:"duration"`
}

// WorkItem is a frame travelling through the stages of a pipeline.
// It has exactly one owner at a time: the scheduler or one worker.
type WorkItem struct {
	// Frame is the dispatched frame. The payload is owned by the item.
	Frame Frame

	// PipelineID selects the pipeline the item runs through.
	PipelineID string

	// StageIndex is the index of the next stage to execute.
	StageIndex int

	// Partial holds the outputs of completed stages, in stage order.
	Partial []StageOutput

	// DispatchedAt is when the scheduler first handed the item to the pool.
	DispatchedAt time.Time
}

// Key returns the identity of the item (stream and sequence number).
func (w *WorkItem) Key() ItemKey {
	return ItemKey{StreamID: w.Frame.StreamID, Seq: w.Frame.Seq}
}

// Advance records a stage output and moves to the next stage.
func (w *WorkItem) Advance(out StageOutput) {
	w.Partial = append(w.Partial, out)
	w.StageIndex++
}

// Done reports whether all of the pipeline's stages have run.
func (w *WorkItem) Done(stages int) bool {
	return w.StageIndex >= stages
}

// ItemKey identifies a frame across the scheduler, pool and aggregator.
type ItemKey struct {
	StreamID string
	Seq      uint64
}
