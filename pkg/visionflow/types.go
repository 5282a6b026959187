package visionflow

import (
	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/internal/ports"
	"github.com/bft-labs/visionflow/internal/scheduler"
	"github.com/bft-labs/visionflow/internal/session"
	"github.com/bft-labs/visionflow/pkg/log"
)

// Re-exported types.
type (
	Frame       = domain.Frame
	Result      = domain.Result
	StageOutput = domain.StageOutput
	DropReason  = domain.DropReason

	Sink        = ports.Sink
	SinkFuncs   = ports.SinkFuncs
	MultiSink   = ports.MultiSink
	FrameSource = ports.FrameSource

	Outcome    = session.Outcome
	StreamSpec = scheduler.StreamSpec
	Snapshot   = scheduler.Snapshot

	PipelineSpec    = pipeline.Spec
	StageDescriptor = pipeline.Descriptor
	StageParams     = pipeline.Params
	StageFactory    = pipeline.Factory
	StageInput      = pipeline.Input
	Invoker         = pipeline.Invoker
	InvokerFunc     = pipeline.InvokerFunc

	Logger   = log.Logger
	LogField = log.Field
)

// Drop reasons.
const (
	ReasonEvictedOldest     = domain.ReasonEvictedOldest
	ReasonBufferFull        = domain.ReasonBufferFull
	ReasonSampled           = domain.ReasonSampled
	ReasonStreamCancelled   = domain.ReasonStreamCancelled
	ReasonSchedulerShutdown = domain.ReasonSchedulerShutdown
	ReasonShutdownAborted   = domain.ReasonShutdownAborted
)

// Errors returned by the engine.
var (
	ErrAlreadyRunning     = domain.ErrAlreadyRunning
	ErrNotRunning         = domain.ErrNotRunning
	ErrShutdownTimeout    = domain.ErrShutdownTimeout
	ErrInvalidConfig      = domain.ErrInvalidConfig
	ErrSchedulerStopped   = domain.ErrSchedulerStopped
	ErrSessionClosed      = domain.ErrSessionClosed
	ErrSequenceRegression = domain.ErrSequenceRegression
	ErrStreamExists       = domain.ErrStreamExists
	ErrUnknownStream      = domain.ErrUnknownStream
	ErrUnknownPipeline    = domain.ErrUnknownPipeline
)
