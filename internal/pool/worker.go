package pool

import (
	"fmt"

	"github.com/bft-labs/visionflow/internal/domain"
	"github.com/bft-labs/visionflow/internal/pipeline"
	"github.com/bft-labs/visionflow/pkg/log"
)

func (p *Pool) run(w *worker) {
	defer p.wg.Done()

	failures := 0
	for {
		// Quit takes priority over queued work.
		select {
		case <-w.quit:
			return
		default:
		}

		select {
		case <-w.quit:
			return
		case <-p.stop:
			return
		case <-p.abort:
			return
		case t := <-p.tasks:
			c := p.execute(w.id, t)
			select {
			case p.completions <- c:
			case <-p.abort:
				return
			}

			if c.Err != nil {
				failures++
			} else {
				failures = 0
			}
			if p.cfg.FailureThreshold > 0 && failures >= p.cfg.FailureThreshold {
				p.retire(w, failures)
				return
			}
		}
	}
}

// execute runs one stage. Panics in the invoker become inference errors.
func (p *Pool) execute(workerID string, t Task) (c Completion) {
	c = Completion{Item: t.Item, Stage: t.Stage.Name, WorkerID: workerID}
	start := p.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			c.Duration = p.clock.Since(start)
			c.Err = &domain.InferenceError{Stage: t.Stage.Name, Err: fmt.Errorf("panic: %v", r)}
			p.logger.Error("stage panicked",
				log.Stream(t.Item.Frame.StreamID),
				log.Uint64("seq", t.Item.Frame.Seq),
				log.String("stage", t.Stage.Name),
				log.Any("panic", r),
			)
		}
	}()

	out, err := t.Stage.Invoker.Invoke(p.ctx, pipeline.Input{
		Frame:    t.Item.Frame,
		Previous: t.Item.Partial,
	})
	c.Duration = p.clock.Since(start)
	if err != nil {
		c.Err = &domain.InferenceError{Stage: t.Stage.Name, Err: err}
		return c
	}
	c.Item.Advance(domain.StageOutput{Stage: t.Stage.Name, Value: out, Duration: c.Duration})
	return c
}
