package ports

import "github.com/bft-labs/visionflow/internal/domain"

// Sink receives the per-frame outcome of every accounted frame.
// For a given stream, calls arrive in strictly increasing sequence order
// (a gap covers every sequence number in its range).
//
// Calls are made synchronously from the aggregator; implementations must
// return quickly and must not call back into the engine.
type Sink interface {
	// OnResult receives a completed or failed frame.
	OnResult(result domain.Result)

	// OnDrop receives a frame that was accounted but never processed.
	OnDrop(streamID string, seq uint64, reason domain.DropReason)

	// OnOrderingGap reports that results for [from, to] could not be emitted
	// in order within the holding bound and will not be delivered.
	OnOrderingGap(streamID string, from, to uint64)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are no-ops.
type SinkFuncs struct {
	Result func(domain.Result)
	Drop   func(streamID string, seq uint64, reason domain.DropReason)
	Gap    func(streamID string, from, to uint64)
}

// OnResult implements Sink.
func (s SinkFuncs) OnResult(result domain.Result) {
	if s.Result != nil {
		s.Result(result)
	}
}

// OnDrop implements Sink.
func (s SinkFuncs) OnDrop(streamID string, seq uint64, reason domain.DropReason) {
	if s.Drop != nil {
		s.Drop(streamID, seq, reason)
	}
}

// OnOrderingGap implements Sink.
func (s SinkFuncs) OnOrderingGap(streamID string, from, to uint64) {
	if s.Gap != nil {
		s.Gap(streamID, from, to)
	}
}

// MultiSink fans every call out to each sink in order.
type MultiSink []Sink

// OnResult implements Sink.
func (m MultiSink) OnResult(result domain.Result) {
	for _, s := range m {
		s.OnResult(result)
	}
}

// OnDrop implements Sink.
func (m MultiSink) OnDrop(streamID string, seq uint64, reason domain.DropReason) {
	for _, s := range m {
		s.OnDrop(streamID, seq, reason)
	}
}

// OnOrderingGap implements Sink.
func (m MultiSink) OnOrderingGap(streamID string, from, to uint64) {
	for _, s := range m {
		s.OnOrderingGap(streamID, from, to)
	}
}
