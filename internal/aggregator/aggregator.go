package aggregator

import (
	"sync"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/ports"
	"github.com/bft-labs/visionflow/pkg/log"
)

// DefaultHoldBound is the number of out-of-order outcomes held per stream
// before the missing head is given up on.
const DefaultHoldBound = 64

// entry is one accounted frame awaiting emission.
type entry struct {
	seq      uint64
	resolved bool
	result   domain.Result
	dropped  bool
	reason   domain.DropReason
}

type stream struct {
	queue  []*entry
	bySeq  map[uint64]*entry
	held   int
	gapped map[uint64]struct{}
	forget bool
}

func newStream() *stream {
	return &stream{bySeq: make(map[uint64]*entry), gapped: make(map[uint64]struct{})}
}

// Stats holds aggregator counters.
type Stats struct {
	Results uint64 `json:"results"`
	Drops   uint64 `json:"drops"`
	Gaps    uint64 `json:"gaps"`
	Late    uint64 `json:"late"`
	Streams int    `json:"streams"`
}

// Aggregator buffers outcomes per stream and emits them in order.
// Sink callbacks run under the aggregator lock and must not call back into
// the aggregator or push frames synchronously.
type Aggregator struct {
	sink      ports.Sink
	logger    log.Logger
	holdBound int

	mu      sync.Mutex
	streams map[string]*stream
	stats   Stats
}

// New creates an aggregator. A holdBound <= 0 selects DefaultHoldBound.
func New(sink ports.Sink, holdBound int, logger log.Logger) *Aggregator {
	if holdBound <= 0 {
		holdBound = DefaultHoldBound
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Aggregator{
		sink:      sink,
		logger:    logger,
		holdBound: holdBound,
		streams:   make(map[string]*stream),
	}
}

// Expect registers an accounted frame. Calls for one stream must arrive in
// increasing seq order.
func (a *Aggregator) Expect(streamID string, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.streams[streamID]
	if !ok {
		st = newStream()
		a.streams[streamID] = st
	}
	st.forget = false
	e := &entry{seq: seq}
	st.queue = append(st.queue, e)
	st.bySeq[seq] = e
}

// Accept resolves a frame with its result (success or failure).
func (a *Aggregator) Accept(r domain.Result) {
	a.resolve(r.StreamID, r.Seq, func(e *entry) { e.result = r })
}

// Skip resolves a frame that was dropped.
func (a *Aggregator) Skip(streamID string, seq uint64, reason domain.DropReason) {
	a.resolve(streamID, seq, func(e *entry) {
		e.dropped = true
		e.reason = reason
	})
}

func (a *Aggregator) resolve(streamID string, seq uint64, set func(*entry)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.streams[streamID]
	if !ok {
		a.stats.Late++
		a.logger.Warn("outcome for unknown stream discarded", log.Stream(streamID), log.Uint64("seq", seq))
		return
	}
	e, ok := st.bySeq[seq]
	if !ok || e.resolved {
		a.stats.Late++
		if _, gapped := st.gapped[seq]; gapped {
			delete(st.gapped, seq)
			a.logger.Debug("late outcome after ordering gap", log.Stream(streamID), log.Uint64("seq", seq))
		} else {
			a.logger.Warn("unexpected outcome discarded", log.Stream(streamID), log.Uint64("seq", seq))
		}
		return
	}

	set(e)
	e.resolved = true
	st.held++
	a.flushLocked(streamID, st)
}

// flushLocked emits every resolved entry at the head of the queue, then
// forces ordering gaps while more than holdBound outcomes are held.
func (a *Aggregator) flushLocked(streamID string, st *stream) {
	a.releaseLocked(streamID, st)

	for st.held > a.holdBound {
		from := st.queue[0].seq
		to := from
		for len(st.queue) > 0 && !st.queue[0].resolved {
			e := st.popHead()
			st.gapped[e.seq] = struct{}{}
			to = e.seq
		}
		a.stats.Gaps++
		a.logger.Warn("ordering gap forced",
			log.Stream(streamID),
			log.Uint64("from", from),
			log.Uint64("to", to),
			log.Int("held", st.held),
		)
		a.sink.OnOrderingGap(streamID, from, to)
		a.releaseLocked(streamID, st)
	}

	if st.forget && len(st.queue) == 0 {
		delete(a.streams, streamID)
	}
}

func (a *Aggregator) releaseLocked(streamID string, st *stream) {
	for len(st.queue) > 0 && st.queue[0].resolved {
		e := st.popHead()
		st.held--
		if e.dropped {
			a.stats.Drops++
			a.sink.OnDrop(streamID, e.seq, e.reason)
			continue
		}
		a.stats.Results++
		a.sink.OnResult(e.result)
	}
}

func (st *stream) popHead() *entry {
	e := st.queue[0]
	st.queue[0] = nil
	st.queue = st.queue[1:]
	delete(st.bySeq, e.seq)
	return e
}

// Forget drops the state of a stream whose session is gone. If frames are
// still pending the state is released once they have been emitted.
func (a *Aggregator) Forget(streamID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.streams[streamID]
	if !ok {
		return
	}
	if len(st.queue) == 0 {
		delete(a.streams, streamID)
		return
	}
	st.forget = true
}

// Pending returns the number of accounted frames of a stream not yet emitted.
func (a *Aggregator) Pending(streamID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.streams[streamID]; ok {
		return len(st.queue)
	}
	return 0
}

// Stats returns the aggregator counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Streams = len(a.streams)
	return s
}
