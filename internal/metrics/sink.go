package metrics

import (
	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/ports"
)

// Sink wraps next so that every emitted outcome is counted before it is
// forwarded. A nil next only counts.
func (m *Metrics) Sink(next ports.Sink) ports.Sink {
	if next == nil {
		next = ports.SinkFuncs{}
	}
	return &instrumentedSink{m: m, next: next}
}

type instrumentedSink struct {
	m    *Metrics
	next ports.Sink
}

func (s *instrumentedSink) OnResult(r domain.Result) {
	s.m.Result(r)
	s.next.OnResult(r)
}

func (s *instrumentedSink) OnDrop(streamID string, seq uint64, reason domain.DropReason) {
	s.m.Dropped(reason)
	s.next.OnDrop(streamID, seq, reason)
}

func (s *instrumentedSink) OnOrderingGap(streamID string, from, to uint64) {
	s.m.Gap()
	s.next.OnOrderingGap(streamID, from, to)
}
