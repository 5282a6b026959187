package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/pkg/log"
)

// Default webhook configuration values.
const (
	DefaultMaxEvents     = 100
	DefaultFlushInterval = time.Second
	DefaultQueueSize     = 1024
	DefaultMaxAttempts   = 3
	DefaultTimeout       = 10 * time.Second
)

// Event types carried in a webhook batch.
const (
	EventResult  = "result"
	EventFailure = "failure"
	EventDrop    = "drop"
	EventGap     = "gap"
)

// Event is the JSON form of one sink callback.
type Event struct {
	Type        string               `json:"type"`
	StreamID    string               `json:"stream_id"`
	Seq         uint64               `json:"seq,omitempty"`
	From        uint64               `json:"from,omitempty"`
	To          uint64               `json:"to,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	FailedStage string               `json:"failed_stage,omitempty"`
	Error       string               `json:"error,omitempty"`
	LatencyMS   float64              `json:"latency_ms,omitempty"`
	Outputs     []domain.StageOutput `json:"outputs,omitempty"`
}

// Batch is the body POSTed to the webhook URL.
type Batch struct {
	BatchID string    `json:"batch_id"`
	SentAt  time.Time `json:"sent_at"`
	Events  []Event   `json:"events"`
}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL            string
	MaxEvents      int
	FlushInterval  time.Duration
	QueueSize      int
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Timeout        time.Duration
}

func (c *WebhookConfig) setDefaults() {
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// WebhookSink forwards sink events to an HTTP endpoint in JSON batches.
// Sink callbacks never block: when the queue is full the event is counted
// as overflow and discarded.
type WebhookSink struct {
	cfg    WebhookConfig
	client HTTPClient
	logger log.Logger
	clock  clock.Clock

	events chan Event

	sent     atomic.Uint64
	overflow atomic.Uint64
	failed   atomic.Uint64
}

// NewWebhookSink creates a webhook sink. Events are only delivered while
// Run is active.
func NewWebhookSink(cfg WebhookConfig, client HTTPClient, logger log.Logger, c clock.Clock) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: url is required")
	}
	cfg.setDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if c == nil {
		c = clock.New()
	}
	return &WebhookSink{
		cfg:    cfg,
		client: client,
		logger: logger.With(log.String("component", "webhook")),
		clock:  c,
		events: make(chan Event, cfg.QueueSize),
	}, nil
}

// OnResult implements ports.Sink.
func (s *WebhookSink) OnResult(r domain.Result) {
	ev := Event{
		Type:      EventResult,
		StreamID:  r.StreamID,
		Seq:       r.Seq,
		LatencyMS: float64(r.Latency) / float64(time.Millisecond),
		Outputs:   r.Outputs,
	}
	if r.Failed() {
		ev.Type = EventFailure
		ev.FailedStage = r.FailedStage
		ev.Error = r.Err.Error()
	}
	s.enqueue(ev)
}

// OnDrop implements ports.Sink.
func (s *WebhookSink) OnDrop(streamID string, seq uint64, reason domain.DropReason) {
	s.enqueue(Event{Type: EventDrop, StreamID: streamID, Seq: seq, Reason: reason.String()})
}

// OnOrderingGap implements ports.Sink.
func (s *WebhookSink) OnOrderingGap(streamID string, from, to uint64) {
	s.enqueue(Event{Type: EventGap, StreamID: streamID, From: from, To: to})
}

func (s *WebhookSink) enqueue(ev Event) {
	select {
	case s.events <- ev:
	default:
		if n := s.overflow.Add(1); n == 1 || n%1000 == 0 {
			s.logger.Warn("webhook queue full, discarding events",
				log.Uint64("discarded", n))
		}
	}
}

// Stats reports delivered, discarded and undeliverable event counts.
func (s *WebhookSink) Stats() (sent, overflow, failed uint64) {
	return s.sent.Load(), s.overflow.Load(), s.failed.Load()
}

// Run batches queued events and posts them until ctx ends. Remaining
// events are flushed once with a fresh deadline before returning.
func (s *WebhookSink) Run(ctx context.Context) error {
	b := newBatcher(s.cfg.MaxEvents, s.cfg.FlushInterval, s.clock)
	bo := newBackoff(s.cfg.BackoffInitial, s.cfg.BackoffMax, s.clock)
	ticker := s.clock.Ticker(s.cfg.FlushInterval)
	defer ticker.Stop()

	s.logger.Info("webhook sink started", log.String("url", s.cfg.URL))

	for {
		select {
		case <-ctx.Done():
			s.drainQueue(b)
			if b.HasPending() {
				fctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
				s.flush(fctx, b, bo)
				cancel()
			}
			s.logger.Info("webhook sink stopped")
			return nil
		case ev := <-s.events:
			if b.Add(ev) {
				s.flush(ctx, b, bo)
			}
		case <-ticker.C:
			if b.ShouldSend() {
				s.flush(ctx, b, bo)
			}
		}
	}
}

func (s *WebhookSink) drainQueue(b *batcher) {
	for {
		select {
		case ev := <-s.events:
			b.Add(ev)
		default:
			return
		}
	}
}

func (s *WebhookSink) flush(ctx context.Context, b *batcher, bo *backoff) {
	batch := Batch{
		BatchID: uuid.NewString(),
		SentAt:  s.clock.Now().UTC(),
		Events:  b.Take(),
	}

	var err error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err = s.post(ctx, batch); err == nil {
			bo.Reset()
			s.sent.Add(uint64(len(batch.Events)))
			s.logger.Debug("webhook batch sent",
				log.String("batch_id", batch.BatchID),
				log.Int("events", len(batch.Events)))
			return
		}
		s.logger.Warn("webhook post failed",
			log.Err(err),
			log.Int("attempt", attempt),
			log.Duration("backoff", bo.Current()))
		if attempt == s.cfg.MaxAttempts {
			break
		}
		if bo.Sleep(ctx) != nil {
			break
		}
	}

	s.failed.Add(uint64(len(batch.Events)))
	s.logger.Error("webhook batch dropped",
		log.String("batch_id", batch.BatchID),
		log.Int("events", len(batch.Events)),
		log.Err(err))
}

func (s *WebhookSink) post(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Batch-Id", batch.BatchID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
