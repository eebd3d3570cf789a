package task

import (
	"fmt"
	"sync"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
)

// TerminationType classifies how a query's worker pool stopped (spec
// §4.4).
type TerminationType int

const (
	Graceful TerminationType = iota
	HardStop
	Failure
)

func (t TerminationType) String() string {
	switch t {
	case Graceful:
		return "Graceful"
	case HardStop:
		return "HardStop"
	case Failure:
		return "Failure"
	default:
		return "?"
	}
}

// Pool runs n worker goroutines pulling Tasks off a Queue and driving
// them through ExecutablePipelineStage.Execute, enqueuing each stage's
// output buffer as a continuation task for every Node.Consumers entry.
// Each worker owns exactly one codegen.WorkerContext for its lifetime,
// opened against every stage it executes and closed on stop (spec
// §4.3's "disjoint WorkerContext" invariant).
type Pool struct {
	queue *Queue
	pool  *buffer.Pool

	wg       sync.WaitGroup
	mu       sync.Mutex
	errs     []error
	openOnce map[codegen.ExecutablePipelineStage]bool
}

// NewPool returns a Pool that will read from q and hand workers a
// WorkerContext backed by bufPool.
func NewPool(q *Queue, bufPool *buffer.Pool) *Pool {
	return &Pool{queue: q, pool: bufPool, openOnce: map[codegen.ExecutablePipelineStage]bool{}}
}

// Start launches n worker goroutines. Per spec §4.4, the pool must be
// started last (after every stage's Setup/Start has already run) and
// stopped first (before Stop is called on any stage).
func (p *Pool) Start(n int) {
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.runWorker(i)
	}
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()
	ctx := codegen.NewWorkerContext(id, p.pool)
	opened := map[codegen.ExecutablePipelineStage]bool{}
	for {
		t, ok := p.queue.Pop()
		if !ok {
			break
		}
		stage := t.Node.Stage
		if !opened[stage] {
			if err := stage.Open(ctx); err != nil {
				p.recordErr(fmt.Errorf("task: worker %d opening stage: %w", id, err))
				continue
			}
			opened[stage] = true
		}
		out, err := stage.Execute(t.Buf, ctx)
		if err != nil {
			p.recordErr(fmt.Errorf("%w: worker %d: %v", errkind.ErrRuntimeOperator, id, err))
			continue
		}
		if out == nil {
			continue
		}
		// Fan the output buffer out to every consumer pipeline before
		// dropping this worker's own reference; each Continue call
		// retains its own share so the buffer is only freed once every
		// consumer (or, with none, nobody) has released it.
		for _, c := range t.Node.Consumers {
			out.Retain()
			p.queue.Continue(Task{Node: c, Buf: out})
		}
		out.Release()
	}
	for stage := range opened {
		if err := stage.Close(ctx); err != nil {
			p.recordErr(fmt.Errorf("task: worker %d closing stage: %w", id, err))
		}
	}
}

func (p *Pool) recordErr(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

// Stop closes the queue (unblocking every worker's Pop) and waits for
// every worker to drain its opened stages' Close. It returns the
// termination type and, for Failure, the first recorded error.
func (p *Pool) Stop(kind TerminationType) (TerminationType, error) {
	p.queue.Close()
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 && kind != HardStop {
		return Failure, p.errs[0]
	}
	return kind, nil
}
