package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bft-labs/visionflow/internal/domain"
)

// SyntheticConfig configures a synthetic stream.
type SyntheticConfig struct {
	// StreamID defaults to "synthetic-" plus a random suffix.
	StreamID string `toml:"stream_id"`

	// FPS is the frame rate. Zero produces frames as fast as they are read.
	FPS float64 `toml:"fps"`

	// Frames is the number of frames to produce. Zero means unlimited.
	Frames uint64 `toml:"frames"`

	// PayloadBytes is the size of each payload (minimum 8).
	PayloadBytes int `toml:"payload_bytes"`
}

// Synthetic generates frames with a deterministic payload at a fixed rate.
// Next must not be called concurrently.
type Synthetic struct {
	cfg     SyntheticConfig
	limiter *rate.Limiter
	clock   clock.Clock
	seq     uint64
	closed  atomic.Bool
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg SyntheticConfig, c clock.Clock) (*Synthetic, error) {
	if cfg.FPS < 0 {
		return nil, fmt.Errorf("%w: fps must not be negative", domain.ErrInvalidConfig)
	}
	if cfg.StreamID == "" {
		cfg.StreamID = "synthetic-" + uuid.NewString()[:8]
	}
	if cfg.PayloadBytes < 8 {
		cfg.PayloadBytes = 8
	}
	if c == nil {
		c = clock.New()
	}

	limit := rate.Inf
	if cfg.FPS > 0 {
		limit = rate.Limit(cfg.FPS)
	}
	return &Synthetic{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		clock:   c,
	}, nil
}

// StreamID implements ports.FrameSource.
func (s *Synthetic) StreamID() string { return s.cfg.StreamID }

// Next implements ports.FrameSource. It waits for the rate limiter.
func (s *Synthetic) Next(ctx context.Context) (domain.Frame, error) {
	if s.closed.Load() || (s.cfg.Frames > 0 && s.seq >= s.cfg.Frames) {
		return domain.Frame{}, io.EOF
	}
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return domain.Frame{}, ctx.Err()
		}
		return domain.Frame{}, err
	}

	s.seq++
	payload := make([]byte, s.cfg.PayloadBytes)
	binary.BigEndian.PutUint64(payload, s.seq)
	return domain.Frame{
		StreamID:  s.cfg.StreamID,
		Seq:       s.seq,
		ArrivedAt: s.clock.Now(),
		Payload:   payload,
	}, nil
}

// Close implements ports.FrameSource.
func (s *Synthetic) Close() error {
	s.closed.Store(true)
	return nil
}
