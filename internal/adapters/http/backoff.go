package http

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
)

// Default backoff configuration values.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
	clock   clock.Clock
}

func newBackoff(initial, max time.Duration, c clock.Clock) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
		clock:   c,
	}
}

// Sleep waits for the current backoff duration (±20%) and doubles it.
// It returns early with ctx.Err() when ctx ends.
func (b *backoff) Sleep(ctx context.Context) error {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	t := b.clock.Timer(time.Duration(float64(b.current) + jitter))
	defer t.Stop()

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset resets the backoff to the initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}

// Current returns the current backoff duration.
func (b *backoff) Current() time.Duration {
	return b.current
}
