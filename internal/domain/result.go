package domain

import "time"

// Result is the outcome of running one admitted frame through its pipeline.
// Emitted once per admitted frame. A Result with a non-nil Err is a failure
// report; failed frames are never retried.
type Result struct {
	StreamID string        `json:"stream_id"`
	Seq      uint64        `json:"seq"`
	Outputs  []StageOutput `json:"outputs,omitempty"`
	Latency  time.Duration `json:"latency"`

	// Err is set when a stage failed. FailedStage names it.
	Err         error  `json:"-"`
	FailedStage string `json:"failed_stage,omitempty"`
}

// Failed reports whether the result is a failure report.
func (r Result) Failed() bool {
	return r.Err != nil
}

// NewResult builds a successful result from a completed work item.
func NewResult(item *WorkItem, now time.Time) Result {
	return Result{
		StreamID: item.Frame.StreamID,
		Seq:      item.Frame.Seq,
		Outputs:  item.Partial,
		Latency:  now.Sub(item.Frame.ArrivedAt),
	}
}

// NewFailure builds a failure result for a work item.
func NewFailure(item *WorkItem, stage string, err error, now time.Time) Result {
	return Result{
		StreamID:    item.Frame.StreamID,
		Seq:         item.Frame.Seq,
		Outputs:     item.Partial,
		Latency:     now.Sub(item.Frame.ArrivedAt),
		Err:         err,
		FailedStage: stage,
	}
}
