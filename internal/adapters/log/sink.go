package log

import (
	"github.com/bft-labs/visionflow/internal/domain"
	plog "github.com/bft-labs/visionflow/pkg/log"
)

// Sink writes every sink event to a logger. Results are logged at debug
// level, failures and ordering gaps at warn level.
type Sink struct {
	logger plog.Logger
}

// NewSink creates a logging sink.
func NewSink(logger plog.Logger) *Sink {
	return &Sink{logger: logger.With(plog.String("component", "sink"))}
}

// OnResult implements ports.Sink.
func (s *Sink) OnResult(r domain.Result) {
	if r.Failed() {
		s.logger.Warn("frame failed",
			plog.Stream(r.StreamID),
			plog.Uint64("seq", r.Seq),
			plog.String("stage", r.FailedStage),
			plog.Err(r.Err),
		)
		return
	}
	s.logger.Debug("frame result",
		plog.Stream(r.StreamID),
		plog.Uint64("seq", r.Seq),
		plog.Int("stages", len(r.Outputs)),
		plog.Duration("latency", r.Latency),
	)
}

// OnDrop implements ports.Sink.
func (s *Sink) OnDrop(streamID string, seq uint64, reason domain.DropReason) {
	s.logger.Debug("frame dropped",
		plog.Stream(streamID),
		plog.Uint64("seq", seq),
		plog.String("reason", reason.String()),
	)
}

// OnOrderingGap implements ports.Sink.
func (s *Sink) OnOrderingGap(streamID string, from, to uint64) {
	s.logger.Warn("ordering gap",
		plog.Stream(streamID),
		plog.Uint64("from", from),
		plog.Uint64("to", to),
	)
}
