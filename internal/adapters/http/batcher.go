package http

import (
	"time"

	"github.com/benbjohnson/clock"
)

// batcher collects events until the batch is full or the flush interval
// has passed since the last send.
type batcher struct {
	events    []Event
	maxEvents int
	interval  time.Duration
	clock     clock.Clock
	lastSend  time.Time
}

func newBatcher(maxEvents int, interval time.Duration, c clock.Clock) *batcher {
	return &batcher{
		events:    make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
		interval:  interval,
		clock:     c,
		lastSend:  c.Now(),
	}
}

// Add appends an event and reports whether the batch is now full.
func (b *batcher) Add(ev Event) bool {
	b.events = append(b.events, ev)
	return len(b.events) >= b.maxEvents
}

// ShouldSend reports whether a non-empty batch is due by time.
func (b *batcher) ShouldSend() bool {
	return len(b.events) > 0 && b.clock.Since(b.lastSend) >= b.interval
}

// HasPending reports whether events are waiting.
func (b *batcher) HasPending() bool {
	return len(b.events) > 0
}

// Take returns the pending events and starts a new batch.
func (b *batcher) Take() []Event {
	out := b.events
	b.events = make([]Event, 0, b.maxEvents)
	b.lastSend = b.clock.Now()
	return out
}
