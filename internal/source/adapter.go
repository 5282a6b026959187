package source

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/visionflow/internal/domain"
)

// ErrSourceClosed is returned by Push after End or Close.
var ErrSourceClosed = errors.New("visionflow: frame source closed")

// Adapter turns push-style producer callbacks into a FrameSource.
// Frames are tagged with a sequence number and arrival time when pushed.
type Adapter struct {
	streamID string
	clock    clock.Clock
	frames   chan domain.Frame

	mu     sync.Mutex
	seq    uint64
	ended  bool
	closed chan struct{}
	once   sync.Once
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterClock sets the clock used for arrival stamps.
func WithAdapterClock(c clock.Clock) AdapterOption {
	return func(a *Adapter) { a.clock = c }
}

// WithFirstSeq makes the first pushed frame carry seq n.
func WithFirstSeq(n uint64) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.seq = n - 1
		}
	}
}

// NewAdapter creates an adapter holding up to capacity unread frames.
func NewAdapter(streamID string, capacity int, opts ...AdapterOption) *Adapter {
	if capacity < 1 {
		capacity = 1
	}
	a := &Adapter{
		streamID: streamID,
		clock:    clock.New(),
		frames:   make(chan domain.Frame, capacity),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StreamID implements ports.FrameSource.
func (a *Adapter) StreamID() string { return a.streamID }

// Push hands a payload to the source. It blocks while the source holds
// capacity unread frames.
func (a *Adapter) Push(ctx context.Context, payload []byte) error {
	a.mu.Lock()
	if a.ended {
		a.mu.Unlock()
		return ErrSourceClosed
	}
	a.seq++
	f := domain.Frame{StreamID: a.streamID, Seq: a.seq, ArrivedAt: a.clock.Now(), Payload: payload}

	// Sends happen under the lock so End cannot close the channel under a
	// blocked sender.
	defer a.mu.Unlock()
	select {
	case a.frames <- f:
		return nil
	case <-a.closed:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End marks the end of the stream. Frames already pushed are still returned
// by Next, followed by io.EOF.
func (a *Adapter) End() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.ended = true
	close(a.frames)
}

// Next implements ports.FrameSource.
func (a *Adapter) Next(ctx context.Context) (domain.Frame, error) {
	select {
	case f, ok := <-a.frames:
		if !ok {
			return domain.Frame{}, io.EOF
		}
		return f, nil
	case <-a.closed:
		return domain.Frame{}, io.EOF
	case <-ctx.Done():
		return domain.Frame{}, ctx.Err()
	}
}

// Close implements ports.FrameSource. Unread frames are discarded.
func (a *Adapter) Close() error {
	a.once.Do(func() { close(a.closed) })
	return nil
}
