package source

import (
	"context"
	"errors"
	"io"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/ports"
)

// Pump reads src until it ends and passes every frame to submit. Frames
// rejected with ErrSequenceRegression are skipped; any other submit error
// stops the pump. The source is closed on return. Pump returns the number
// of frames submitted and nil when the source ended.
func Pump(ctx context.Context, src ports.FrameSource, submit func(domain.Frame) error) (uint64, error) {
	defer src.Close()

	var n uint64
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := submit(f); err != nil {
			if errors.Is(err, domain.ErrSequenceRegression) {
				continue
			}
			return n, err
		}
		n++
	}
}
