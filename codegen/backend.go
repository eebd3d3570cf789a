package codegen

import (
	"github.com/flowmesh/streamcore/codegen/ir"
	"github.com/flowmesh/streamcore/internal/buffer"
)

// WorkerContext is the per-worker-thread state a compiled stage's
// Execute is called with. It carries no operator-specific state of
// its own; operator handlers (watermark updaters, slice stores,
// aggregation tables, join tables) stash their own per-worker shard
// into State, keyed by the owning physical.Operator's ID, so that the
// code generator itself never becomes a place mutable state leaks
// from (spec §4.3 invariant).
type WorkerContext struct {
	WorkerID int
	Pool     *buffer.Pool
	State    map[int]interface{}
}

// NewWorkerContext returns a WorkerContext ready for Open.
func NewWorkerContext(workerID int, pool *buffer.Pool) *WorkerContext {
	return &WorkerContext{WorkerID: workerID, Pool: pool, State: map[int]interface{}{}}
}

// ExecutablePipelineStage is the compiled form of one physical.Pipeline,
// returned by a Backend. Its lifecycle methods are called in exactly
// this order per stage instance: Setup, Start, then Open/Execute*/Close
// any number of times per worker, then Stop (spec §4.3).
//
// Execute consumes one input buffer and returns the output buffer
// holding whichever input records survived the stage's traced chain
// (filtered by any Selection, transformed by any Map/Projection),
// acquired against the same origin as buf and sequenced directly after
// it. It returns a nil buffer, not an error, when every record was
// filtered out, or when buf held none and carries no watermark
// (WatermarkTs < 0). A tupleless buf with a watermark yields a
// tupleless output buffer carrying that watermark, so the barrier
// still reaches downstream consumers. The runtime/task pool only
// enqueues a continuation task per physical.Pipeline consumer when a
// non-nil buffer comes back.
type ExecutablePipelineStage interface {
	Setup() error
	Start() error
	Open(ctx *WorkerContext) error
	Execute(buf *buffer.TupleBuffer, ctx *WorkerContext) (*buffer.TupleBuffer, error)
	Close(ctx *WorkerContext) error
	Stop() error
}

// Backend lowers a traced IR graph into an ExecutablePipelineStage. A
// compiled stage must be immutable and safe for concurrent Execute
// calls against disjoint buffers and distinct WorkerContexts (spec
// §4.3).
type Backend interface {
	Name() string
	Compile(g *ir.Graph) (ExecutablePipelineStage, error)
}
