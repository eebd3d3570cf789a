package query

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowmesh/streamcore/adapters/sink"
	"github.com/flowmesh/streamcore/adapters/source"
	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/codegen/ir"
	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/physical"
	"github.com/flowmesh/streamcore/rules"
	"github.com/flowmesh/streamcore/runtime/aggregation"
	"github.com/flowmesh/streamcore/runtime/join"
	"github.com/flowmesh/streamcore/runtime/task"
)

// Config sizes the shared runtime an Engine hands every submitted
// query (spec §6's thread-count, buffer-size and buffer-pool-capacity
// fields).
type Config struct {
	Threads            int
	BufferSize         int
	BufferPoolCapacity int
	HighWater          int
	LowWater           int

	// Backend compiles a Scan-rooted pipeline's traced IR (spec §4.3).
	// Callers normally pass a codegen/jit.Backend, which compiles every
	// graph with the interpreter backend.
	Backend codegen.Backend

	// DumpDir, when non-empty, makes Submit write every traced
	// pipeline's IR to <DumpDir>/<queryID>-<unixNanos>/pipeline-<idx>.txt
	// (spec §6). Empty disables dumping.
	DumpDir string

	// GapTimeout bounds how long a per-origin sequencer will hold
	// out-of-order buffers waiting for a hole to fill before failing
	// the query with an *errkind.OriginGapError (spec §4.4). Zero
	// (the unset default) becomes 30s; a negative value disables gap
	// detection entirely.
	GapTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Threads <= 0 {
		c.Threads = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64 * 1024
	}
	if c.BufferPoolCapacity <= 0 {
		c.BufferPoolCapacity = 64
	}
	if c.HighWater <= 0 {
		c.HighWater = 1024
	}
	if c.LowWater <= 0 {
		c.LowWater = c.HighWater / 2
	}
	if c.GapTimeout == 0 {
		c.GapTimeout = 30 * time.Second
	}
	if c.GapTimeout < 0 {
		c.GapTimeout = 0
	}
}

// originSource is what Engine.Submit needs from a source adapter
// beyond the adapters/source contracts: which origin it identifies
// itself as, so its output buffers reach the right compiled Node.
type originSource interface {
	Origin() uint64
}

// Engine owns the runtime shared across every query submitted to it: a
// single buffer.Pool, task.Queue and task.Pool sized by Config (spec
// §4.4 describes the worker pool as engine-scoped, not per-query).
// Submitting a query never resizes this shared runtime; it only adds
// Nodes to the DAG workers already pull from.
type Engine struct {
	cfg     Config
	pool    *buffer.Pool
	queue   *task.Queue
	workers *task.Pool

	mu      sync.Mutex
	queries map[ID]*Query
}

// NewEngine builds the shared runtime and starts its worker pool. The
// pool runs for the Engine's lifetime; use Shutdown to stop it.
func NewEngine(cfg Config) *Engine {
	cfg.setDefaults()
	if cfg.Backend == nil {
		panic("query: NewEngine requires a non-nil Config.Backend")
	}
	pool := buffer.NewPool(cfg.BufferSize, cfg.BufferPoolCapacity)
	queue := task.NewQueue(cfg.HighWater, cfg.LowWater)
	workers := task.NewPool(queue, pool)
	workers.Start(cfg.Threads)
	return &Engine{cfg: cfg, pool: pool, queue: queue, workers: workers, queries: map[ID]*Query{}}
}

// Shutdown stops the shared worker pool and releases the buffer pool.
// No query may be submitted or continue running afterward.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	qs := make([]*Query, 0, len(e.queries))
	for _, q := range e.queries {
		qs = append(qs, q)
	}
	e.mu.Unlock()
	for _, q := range qs {
		q.stopLocal()
	}
	e.workers.Stop(task.HardStop)
	e.pool.Close()
}

// Query is one submitted plan's running state: the sources feeding it,
// the probeRunners finalizing its windows, and the status channel spec
// §7 describes ("{queryId, errorKind, message, operatorId?}").
type Query struct {
	id     ID
	engine *Engine
	status chan StatusEvent

	state atomic.Int32

	sourceStops []func()
	probes      []*probeRunner
	stages      []codegen.ExecutablePipelineStage

	stopOnce sync.Once
}

// ID returns the query's identity.
func (q *Query) ID() ID { return q.id }

// State returns the query's current lifecycle position.
func (q *Query) State() State { return State(q.state.Load()) }

// Status returns the channel StatusEvents are delivered on for the
// life of the query. It is closed once the query reaches StateStopped
// or StateFailed.
func (q *Query) Status() <-chan StatusEvent { return q.status }

func (q *Query) emit(ev StatusEvent) {
	ev.QueryID = q.id
	select {
	case q.status <- ev:
	default:
		log.Printf("query %s: status channel full, dropping: %s", q.id, ev.Message)
	}
}

func (q *Query) fail(operatorID *int, err error) {
	q.state.Store(int32(StateFailed))
	q.emit(StatusEvent{ErrorKind: err, Message: err.Error(), OperatorID: operatorID})
}

// Submit compiles plan through the rewrite pipeline, schema inference,
// physical lowering and pipelining, wires a task.Node per physical.Pipeline
// into the Engine's shared DAG, and starts every source and probeRunner
// the plan needs. sources must each implement adapters/source.BlockingSource
// or adapters/source.AsyncSource, plus Origin() uint64 identifying the
// Scan they feed; sinks maps a logical Sink's name (set via
// logical.NewSink) to the adapter it writes through.
func (e *Engine) Submit(plan *logical.Operator, sources []interface{}, sinks map[string]sink.Sink) (*Query, error) {
	optimized := rules.Optimize(plan, nil)
	typed, err := logical.InferSchema(optimized)
	if err != nil {
		return nil, fmt.Errorf("query: inferring schema: %w", err)
	}
	phys := physical.Lower(typed)
	pipelines := physical.Plan(phys)

	q := &Query{id: newID(), engine: e, status: make(chan StatusEvent, 64)}

	var dumpDir string
	if e.cfg.DumpDir != "" {
		dumpDir = filepath.Join(e.cfg.DumpDir, fmt.Sprintf("%s-%d", q.id, time.Now().UnixNano()))
	}

	nodes := map[*physical.Pipeline]*task.Node{}
	type pending struct {
		pl   *physical.Pipeline
		node *task.Node
	}
	var buildNodes []pending // pipelines rooted at KindWindowBuild, wired to probeRunners in a second pass

	for i, pl := range pipelines {
		stage, err := e.compileStage(pl.Root, sinks, dumpDir, i)
		if err != nil {
			return nil, fmt.Errorf("query: compiling pipeline rooted at %v: %w", pl.Root.Kind, err)
		}
		node := &task.Node{Stage: stage}
		nodes[pl] = node
		if pl.Root.Kind == physical.KindWindowBuild {
			buildNodes = append(buildNodes, pending{pl: pl, node: node})
		}
	}
	for _, pl := range pipelines {
		node := nodes[pl]
		for _, c := range pl.Consumers {
			node.Consumers = append(node.Consumers, nodes[c])
		}
	}

	// Setup/Start every stage before any source can reach it (spec
	// §4.3's lifecycle order: Setup, Start, then Open/Execute* per
	// worker, Close, then Stop).
	for _, node := range nodes {
		if err := node.Stage.Setup(); err != nil {
			return nil, fmt.Errorf("query: stage setup: %w", err)
		}
	}
	for _, node := range nodes {
		if err := node.Stage.Start(); err != nil {
			return nil, fmt.Errorf("query: stage start: %w", err)
		}
	}

	for _, p := range buildNodes {
		build := p.node.Stage.(*windowBuildStage)
		if len(p.pl.Consumers) != 1 {
			return nil, fmt.Errorf("query: WindowBuild pipeline has %d consumers, want exactly 1 (its WindowProbe)", len(p.pl.Consumers))
		}
		probePipeline := p.pl.Consumers[0]
		probeOp := leafOperator(probePipeline.Root)
		if probeOp.Kind != physical.KindWindowProbe {
			return nil, fmt.Errorf("query: WindowBuild pipeline's consumer does not bottom out at a WindowProbe")
		}
		runner := newProbeRunner(build, probeOp, nodes[probePipeline], e.queue, e.pool, func(err error) {
			id := probeOp.ID()
			q.fail(&id, fmt.Errorf("query: finalizing window: %w", err))
		})
		q.probes = append(q.probes, runner)
		go runner.Run()
	}

	// Every pipeline whose chain bottoms out at a Scan (the bare Scan
	// itself, or one with Selection/Map/Projection/... fused on top)
	// is a source's entry point into the DAG.
	scanNodes := map[uint64]*task.Node{}
	for _, pl := range pipelines {
		if pl.Root.Kind == physical.KindWindowBuild || pl.Root.Kind == physical.KindEmit {
			continue
		}
		if leaf := leafOperator(pl.Root); leaf.Kind == physical.KindScan {
			scanNodes[leaf.OriginID] = nodes[pl]
		}
	}

	for _, raw := range sources {
		os, ok := raw.(originSource)
		if !ok {
			return nil, fmt.Errorf("query: source %T does not implement Origin() uint64", raw)
		}
		node, ok := scanNodes[os.Origin()]
		if !ok {
			continue // plan has no Scan for this origin; not an error, just unused
		}
		stop, err := e.startSource(q, raw, os.Origin(), node)
		if err != nil {
			return nil, fmt.Errorf("query: starting source for origin %d: %w", os.Origin(), err)
		}
		q.sourceStops = append(q.sourceStops, stop)
	}

	for _, node := range nodes {
		q.stages = append(q.stages, node.Stage)
	}

	e.mu.Lock()
	e.queries[q.id] = q
	e.mu.Unlock()
	q.state.Store(int32(StateRunning))
	return q, nil
}

// compileStage builds the ExecutablePipelineStage for one
// physical.Pipeline's Root, dispatching on how the pipeline bottoms
// out: a Scan-rooted fused chain goes through codegen (spec §4.3); a
// chain fused on top of a WindowProbe's output, or a bare WindowProbe,
// is interpreted directly via chainStage (codegen/trace.go deliberately
// doesn't trace WindowProbe); a WindowBuild is its own breaker handler;
// an Emit is a sink adapter.
func (e *Engine) compileStage(root *physical.Operator, sinks map[string]sink.Sink, dumpDir string, pipelineIdx int) (codegen.ExecutablePipelineStage, error) {
	switch root.Kind {
	case physical.KindWindowBuild:
		if root.IsJoin {
			nlj, hash, err := buildJoinImpl(root)
			if err != nil {
				return nil, err
			}
			return newWindowBuildStage(root, nil, nil, nlj, hash), nil
		}
		fns, exprs, err := buildAggregateFns(root)
		if err != nil {
			return nil, err
		}
		return newWindowBuildStage(root, fns, exprs, nil, nil), nil

	case physical.KindEmit:
		s, ok := sinks[root.SinkName]
		if !ok {
			return nil, fmt.Errorf("%w: no sink bound for name %q", errkind.ErrConfiguration, root.SinkName)
		}
		return newSinkStage(s), nil
	}

	leaf := leafOperator(root)
	if leaf.Kind == physical.KindScan {
		g, err := codegen.Trace(root)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		if dumpDir != "" {
			if err := dumpGraph(dumpDir, pipelineIdx, g); err != nil {
				return nil, fmt.Errorf("query: dumping IR: %w", err)
			}
		}
		return e.cfg.Backend.Compile(g)
	}
	return newChainStage(root), nil
}

// dumpGraph writes g's text dump to dir/pipeline-<idx>.txt, creating
// dir (and any missing parents) on first use.
func dumpGraph(dir string, pipelineIdx int, g *ir.Graph) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("pipeline-%d.txt", pipelineIdx))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return g.Dump(f)
}

// buildAggregateFns resolves op.Aggregates into the aggregation.Function
// (and their source Expr, for per-record evaluation) windowBuildStage
// needs, in the same order InferSchema appended them to the
// WindowAggregate's output schema.
func buildAggregateFns(op *physical.Operator) ([]aggregation.Function, []logical.Expr, error) {
	fns := make([]aggregation.Function, len(op.Aggregates))
	exprs := make([]logical.Expr, len(op.Aggregates))
	for i, a := range op.Aggregates {
		inType := schema.Int64
		if a.Input != nil {
			inType = a.Input.Type()
		}
		fn, err := aggregation.New(a.Function, inType)
		if err != nil {
			return nil, nil, fmt.Errorf("query: aggregate %q: %w", a.Result, err)
		}
		fns[i] = fn
		exprs[i] = a.Input
	}
	return fns, exprs, nil
}

// buildJoinImpl constructs the join.NLJ or join.HashJoin
// rules.joinImplementationSelectionRule chose for op (a non-nil
// JoinPred means the predicate wasn't reducible to an equi-join key
// pair, so it falls back to the general nested-loop join).
func buildJoinImpl(op *physical.Operator) (*join.NLJ, *join.HashJoin, error) {
	left := leafOperator(op.Inputs[0])
	right := leafOperator(op.Inputs[1])
	if op.JoinPred != nil {
		return join.NewNLJ(op.JoinPred, left.Schema, right.Schema), nil, nil
	}
	if op.JoinKeyL == "" || op.JoinKeyR == "" {
		return nil, nil, fmt.Errorf("query: join has neither a predicate nor resolved join keys")
	}
	return nil, join.NewHashJoin(op.JoinKeyL, op.JoinKeyR, left.Schema, right.Schema), nil
}

// gapCheckInterval is how often a running source polls its sequencer
// for a timed-out hole, independent of how often buffers actually
// arrive (spec §4.4 leaves the poll cadence implementation-defined;
// this mirrors probeRunner's watermark-tick cadence in probe.go).
const gapCheckInterval = 50 * time.Millisecond

// startSource launches raw (a BlockingSource polled on its own
// goroutine, or an AsyncSource driving its own), feeding buffers into
// node by admission through a per-origin task.Sequencer: buffers are
// only admitted in strictly increasing (SequenceNumber, ChunkNumber)
// order (spec §4.4), and a hole left open longer than e.cfg.GapTimeout
// fails the query with an *errkind.OriginGapError. It returns a stop
// function the query's shutdown path calls to end the source's
// goroutine(s).
func (e *Engine) startSource(q *Query, raw interface{}, originID uint64, node *task.Node) (func(), error) {
	onError := func(err error) { q.fail(nil, fmt.Errorf("query: source: %w", err)) }
	seq := task.NewSequencer(originID, 0, e.cfg.GapTimeout)
	admitReady := func(buf *buffer.TupleBuffer) {
		for _, b := range seq.Deliver(buf, time.Now()) {
			e.queue.Admit(task.Task{Node: node, Buf: b})
		}
	}

	if as, ok := raw.(source.AsyncSource); ok {
		gapStop := make(chan struct{})
		gapDone := make(chan struct{})
		go e.watchGap(seq, onError, gapStop, gapDone)
		onBuffer := func(buf *buffer.TupleBuffer) { admitReady(buf) }
		if err := as.Start(onBuffer, onError, func() {}); err != nil {
			close(gapStop)
			<-gapDone
			return nil, err
		}
		return func() {
			close(gapStop)
			<-gapDone
			as.Stop()
		}, nil
	}

	bs, ok := raw.(source.BlockingSource)
	if !ok {
		return nil, fmt.Errorf("query: source does not implement BlockingSource or AsyncSource")
	}
	if err := bs.Open(); err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(gapCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := seq.CheckTimeout(time.Now()); err != nil {
					onError(err)
					return
				}
			default:
			}
			buf, err := e.pool.Acquire(originID)
			if err != nil {
				onError(fmt.Errorf("acquiring source buffer: %w", err))
				return
			}
			buf.OriginID = originID
			_, err = bs.FillBuffer(buf, stop)
			if err != nil && !errors.Is(err, source.ErrDone) {
				buf.Release()
				onError(err)
				return
			}
			admitReady(buf)
			if errors.Is(err, source.ErrDone) {
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
		bs.Close()
	}, nil
}

// watchGap polls seq.CheckTimeout on a ticker until stop closes,
// reporting any timed-out hole through onError. It is the AsyncSource
// counterpart to the inline ticker case in startSource's blocking-
// source loop, which has no natural place to interleave its own poll.
func (e *Engine) watchGap(seq *task.Sequencer, onError func(error), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(gapCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := seq.CheckTimeout(time.Now()); err != nil {
				onError(err)
				return
			}
		}
	}
}

// Stop begins graceful shutdown of q: its sources and probeRunners are
// stopped, its sinks' Stop hooks run, and the query's state is
// advanced to StateStopped (or StateFailed if it had already failed).
// The shared Engine worker pool is left running for other queries.
func (e *Engine) Stop(id ID) error {
	e.mu.Lock()
	q, ok := e.queries[id]
	if ok {
		delete(e.queries, id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("query: unknown query %s", id)
	}
	q.stopLocal()
	return nil
}

func (q *Query) stopLocal() {
	q.stopOnce.Do(func() {
		q.state.Store(int32(StateStopping))
		for _, stop := range q.sourceStops {
			stop()
		}
		for _, p := range q.probes {
			p.Stop()
		}
		for _, s := range q.stages {
			if err := s.Stop(); err != nil {
				log.Printf("query %s: stage stop: %v", q.id, err)
			}
		}
		if State(q.state.Load()) != StateFailed {
			q.state.Store(int32(StateStopped))
		}
		close(q.status)
	})
}
