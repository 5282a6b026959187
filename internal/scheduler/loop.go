package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/internal/pool"
	"github.com/bft-labs/visionflow/internal/session"
	"github.com/bft-labs/visionflow/pkg/log"
)

type shutdownState struct {
	timer   *clock.Timer
	ctxDone <-chan struct{}
	waiters []chan error
}

// Run starts the worker pool and runs the scheduler loop until shutdown
// completes. Cancelling ctx starts a shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return domain.ErrAlreadyRunning
	}

	s.pool.Start()
	s.metrics.SetCapacity(s.pool.Size())
	s.logger.Info("scheduler started",
		log.Int("capacity", s.pool.Size()),
		log.String("default_pipeline", s.pipelines.Default()),
	)

	ticker := s.clock.Ticker(s.cfg.SweepInterval)
	defer ticker.Stop()
	ctxDone := ctx.Done()
	close(s.ready)

	for {
		var deadline <-chan time.Time
		var callerDone <-chan struct{}
		if sd := s.shutdown; sd != nil {
			deadline = sd.timer.C
			callerDone = sd.ctxDone
		}

		select {
		case <-s.wake:
		case c := <-s.pool.Completions():
			s.complete(c)
		case fn := <-s.cmds:
			fn()
		case <-ticker.C:
			s.sweep()
		case <-ctxDone:
			ctxDone = nil
			s.beginShutdown(context.Background(), nil)
		case <-deadline:
			return s.abort()
		case <-callerDone:
			return s.abort()
		}

		if s.shutdown != nil {
			if len(s.inflight) == 0 {
				return s.finish(nil)
			}
			continue
		}
		s.dispatch()
		if s.needsReap {
			s.reap()
		}
	}
}

// dispatch admits frames round-robin while in-flight items are below
// capacity. Sessions with nothing buffered do not use up a turn.
func (s *Scheduler) dispatch() {
	capacity := s.pool.Size()
	for len(s.inflight) < capacity {
		n := len(s.order)
		served := false
		for i := 0; i < n; i++ {
			idx := (s.cursor + i) % n
			e := s.entries[s.order[idx]]
			frame, ok := e.sess.Pop()
			if !ok {
				continue
			}
			s.cursor = (idx + 1) % n
			s.start(e, frame)
			served = true
			break
		}
		if !served {
			return
		}
	}
}

func (s *Scheduler) start(e *entry, frame domain.Frame) {
	if e.sess.State() == domain.SessionClosed {
		s.needsReap = true
	}
	item := domain.WorkItem{
		Frame:        frame,
		PipelineID:   e.pipe.ID(),
		DispatchedAt: s.clock.Now(),
	}
	s.inflight[item.Key()] = e.pipe
	e.sess.AddCost(e.pipe.Cost())
	s.metrics.FrameAdmitted()
	s.metrics.SetInflight(len(s.inflight))
	s.submit(item, e.pipe)
}

// submit hands the next stage of item to the pool.
func (s *Scheduler) submit(item domain.WorkItem, pipe *pipeline.Pipeline) {
	stage := pipe.Stage(item.StageIndex)
	if err := s.pool.Submit(pool.Task{Item: item, Stage: stage}); err != nil {
		s.logger.Error("pool rejected task",
			log.Stream(item.Frame.StreamID),
			log.Uint64("seq", item.Frame.Seq),
			log.Err(err),
		)
		s.finishItem(domain.NewFailure(&item, stage.Name, err, s.clock.Now()))
	}
}

// complete handles a stage completion: the next stage is submitted right
// away, a final or failed stage produces a result.
func (s *Scheduler) complete(c pool.Completion) {
	s.metrics.StageCompleted(c.Stage, c.Duration)

	key := c.Item.Key()
	pipe, ok := s.inflight[key]
	if !ok {
		return
	}

	if c.Err != nil {
		s.logger.Warn("stage failed",
			log.Stream(key.StreamID),
			log.Uint64("seq", key.Seq),
			log.String("stage", c.Stage),
			log.String("worker", c.WorkerID),
			log.Err(c.Err),
		)
		s.finishItem(domain.NewFailure(&c.Item, c.Stage, c.Err, s.clock.Now()))
		return
	}
	if !c.Item.Done(pipe.Len()) {
		s.submit(c.Item, pipe)
		return
	}
	s.finishItem(domain.NewResult(&c.Item, s.clock.Now()))
}

func (s *Scheduler) finishItem(r domain.Result) {
	delete(s.inflight, domain.ItemKey{StreamID: r.StreamID, Seq: r.Seq})
	s.metrics.SetInflight(len(s.inflight))
	s.agg.Accept(r)
}

// sweep closes idle sessions and applies backpressure escalation.
func (s *Scheduler) sweep() {
	if s.shutdown != nil {
		return
	}
	now := s.clock.Now()
	for _, id := range s.order {
		e := s.entries[id]
		if e.sess.IdleExpired(now) {
			e.sess.Close()
			s.needsReap = true
			s.logger.Info("stream idle, closing", log.Stream(id))
			continue
		}

		if e.sess.Saturated() {
			e.calm = 0
			e.pressure++
			if e.pressure >= s.cfg.PressureRounds {
				e.pressure = 0
				if e.sess.Escalate() {
					s.logger.Debug("stream escalated", log.Stream(id), log.Int("level", e.sess.Level()))
				}
			}
			continue
		}
		e.pressure = 0
		e.calm++
		if e.calm >= s.cfg.PressureRounds {
			e.calm = 0
			if e.sess.Relax() {
				s.logger.Debug("stream relaxed", log.Stream(id))
			}
		}
	}
	if s.needsReap {
		s.reap()
	}
}

// openStream creates a session. With ifMissing a live session is returned
// instead of ErrStreamExists.
func (s *Scheduler) openStream(spec StreamSpec, ifMissing bool) (*session.Session, error) {
	if s.shutdown != nil {
		return nil, domain.ErrSchedulerStopped
	}
	if e, ok := s.entries[spec.ID]; ok {
		if e.sess.State() != domain.SessionClosed {
			if ifMissing {
				return e.sess, nil
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrStreamExists, spec.ID)
		}
		s.remove(spec.ID)
	}

	pipe, err := s.pipelines.Get(spec.Pipeline)
	if err != nil {
		return nil, err
	}
	cfg, err := spec.sessionConfig(s.cfg.Session)
	if err != nil {
		return nil, err
	}
	sess, err := session.New(spec.ID, pipe.ID(), cfg,
		session.WithClock(s.clock),
		session.WithObserver(s.observer),
		session.WithNotify(s.signal),
		session.WithSeqFloor(s.floors[spec.ID]),
	)
	if err != nil {
		return nil, err
	}

	s.entries[spec.ID] = &entry{sess: sess, pipe: pipe}
	s.order = append(s.order, spec.ID)
	s.publish()
	s.logger.Info("stream opened",
		log.Stream(spec.ID),
		log.String("pipeline", pipe.ID()),
		log.Int("buffer_bound", cfg.BufferBound),
		log.String("drop_policy", cfg.Policy.String()),
	)
	return sess, nil
}

func (s *Scheduler) closeStream(streamID string, cancel bool) error {
	e, ok := s.entries[streamID]
	if !ok {
		if _, known := s.floors[streamID]; known {
			return nil
		}
		return fmt.Errorf("%w: %s", domain.ErrUnknownStream, streamID)
	}

	changed := e.sess.Close()
	dropped := 0
	if cancel {
		dropped = e.sess.Drain(domain.ReasonStreamCancelled)
	}
	if e.sess.State() == domain.SessionClosed {
		s.remove(streamID)
	}
	if changed || dropped > 0 {
		s.logger.Info("stream closed",
			log.Stream(streamID),
			log.Bool("cancelled", cancel),
			log.Int("dropped", dropped),
		)
	}
	return nil
}

// reap removes closed sessions from the table.
func (s *Scheduler) reap() {
	s.needsReap = false
	for _, id := range append([]string(nil), s.order...) {
		if s.entries[id].sess.State() == domain.SessionClosed {
			s.remove(id)
		}
	}
}

func (s *Scheduler) remove(streamID string) {
	e, ok := s.entries[streamID]
	if !ok {
		return
	}
	s.floors[streamID] = e.sess.LastSeq()
	delete(s.entries, streamID)
	for i, id := range s.order {
		if id != streamID {
			continue
		}
		s.order = append(s.order[:i], s.order[i+1:]...)
		if i < s.cursor {
			s.cursor--
		}
		break
	}
	if s.cursor >= len(s.order) {
		s.cursor = 0
	}
	s.metrics.ForgetStream(streamID)
	s.publish()
	s.agg.Forget(streamID)
	s.logger.Debug("stream removed", log.Stream(streamID))
}

// publish replaces the pushers' view of the session table.
func (s *Scheduler) publish() {
	t := make(table, len(s.entries))
	for id, e := range s.entries {
		t[id] = e.sess
	}
	s.table.Store(&t)
	s.metrics.SetActiveSessions(len(t))
}

func (s *Scheduler) beginShutdown(ctx context.Context, waiter chan error) {
	if s.shutdown != nil {
		if waiter != nil {
			s.shutdown.waiters = append(s.shutdown.waiters, waiter)
		}
		return
	}

	s.stopping.Store(true)
	s.shutdown = &shutdownState{
		timer:   s.clock.Timer(s.cfg.ShutdownTimeout),
		ctxDone: ctx.Done(),
	}
	if waiter != nil {
		s.shutdown.waiters = append(s.shutdown.waiters, waiter)
	}

	dropped := 0
	for _, id := range append([]string(nil), s.order...) {
		e := s.entries[id]
		e.sess.Close()
		dropped += e.sess.Drain(domain.ReasonSchedulerShutdown)
		s.remove(id)
	}
	s.logger.Info("scheduler shutting down",
		log.Int("dropped", dropped),
		log.Int("inflight", len(s.inflight)),
	)
}

// abort reports the remaining in-flight items as aborted and halts the pool.
func (s *Scheduler) abort() error {
	for key := range s.inflight {
		s.agg.Skip(key.StreamID, key.Seq, domain.ReasonShutdownAborted)
	}
	s.logger.Warn("shutdown timed out, aborting in-flight items", log.Int("inflight", len(s.inflight)))
	clear(s.inflight)
	s.metrics.SetInflight(0)
	return s.finish(domain.ErrShutdownTimeout)
}

func (s *Scheduler) finish(err error) error {
	s.shutdown.timer.Stop()

	if err != nil {
		s.pool.Abort()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = s.pool.Stop(ctx)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if perr := s.pool.Stop(ctx); perr != nil {
			s.logger.Warn("worker pool did not stop cleanly", log.Err(perr))
		}
		cancel()
	}

	s.err = err
	for _, w := range s.shutdown.waiters {
		w <- err
	}
	close(s.done)
	s.logger.Info("scheduler stopped")
	return err
}
