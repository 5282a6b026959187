package ports

import (
	"context"
	"io"

	"github.com/bft-labs/visionflow/internal/domain"
)

// FrameSource exposes one stream's frames as a lazy, cancellable sequence.
// Implementations wrap an external producer (RTSP client, file reader,
// synthetic generator) and tag each frame with arrival time and sequence
// number.
type FrameSource interface {
	// StreamID returns the id of the stream produced by this source.
	StreamID() string

	// Next blocks until the next frame is available.
	// Returns io.EOF when the producer has ended the stream.
	// Returns ctx.Err() when ctx is cancelled.
	Next(ctx context.Context) (domain.Frame, error)

	// Close releases resources held by the source. Pending frames are discarded.
	Close() error
}

// ErrEndOfStream indicates that the producer has ended the stream.
var ErrEndOfStream = io.EOF
