package query

import (
	"fmt"
	"time"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/physical"
	"github.com/flowmesh/streamcore/runtime/task"
	"github.com/flowmesh/streamcore/runtime/window"
)

// defaultProbeInterval is how often a probeRunner checks its
// WindowBuild's combined watermark for newly finalizable slices, the
// poll period spec §4.5's window-finalization step leaves
// implementation-defined.
const defaultProbeInterval = 50 * time.Millisecond

// probeOriginBit marks an OriginID as synthetic (probe-emitted rather
// than attached by a real source adapter), keeping the two namespaces
// from ever colliding regardless of how a deployment numbers its
// physical origins.
const probeOriginBit = uint64(1) << 62

// probeRunner is the side channel a WindowBuild's breaker needs: since
// windowBuildStage.Execute always returns (nil, nil), the task pool's
// ordinary Continue fan-out never fires for it, so nothing would ever
// admit a finalized window's output rows into the WindowProbe
// pipeline's compiled Node. probeRunner does that job on a ticker,
// outside the worker pool entirely, admitting its output the same way
// a source does (task.Queue.Admit, not Continue).
type probeRunner struct {
	build    *windowBuildStage
	probeOp  *physical.Operator // the KindWindowProbe operator, for Schema/GroupBy/Aggregates
	consumer *task.Node
	queue    *task.Queue
	pool     *buffer.Pool
	originID uint64
	out      *record.RowProvider

	interval time.Duration
	seq      uint64
	stop     chan struct{}
	done     chan struct{}
	onError  func(error)
}

// newProbeRunner builds the poller for build (the WindowBuild
// breaker's compiled stage), whose finalized output is admitted into
// consumer (the task.Node compiled for the WindowProbe pipeline).
// onError, if non-nil, receives any error encountered while
// finalizing or emitting a window (the Engine wires it to the query's
// status channel).
func newProbeRunner(build *windowBuildStage, probeOp *physical.Operator, consumer *task.Node, queue *task.Queue, pool *buffer.Pool, onError func(error)) *probeRunner {
	return &probeRunner{
		build:    build,
		probeOp:  probeOp,
		consumer: consumer,
		queue:    queue,
		pool:     pool,
		originID: probeOriginBit | uint64(probeOp.ID()),
		out:      record.NewRowProvider(probeOp.Schema.WithLayout(schema.Row)),
		interval: defaultProbeInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		onError:  onError,
	}
}

// Run drives the poll loop until Stop is called. It is meant to run in
// its own goroutine for the query's lifetime.
func (r *probeRunner) Run() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.tick(); err != nil && r.onError != nil {
				r.onError(err)
			}
		}
	}
}

// Stop requests the poll loop to exit and waits for it to do so.
func (r *probeRunner) Stop() {
	close(r.stop)
	<-r.done
}

func (r *probeRunner) tick() error {
	watermark, ok := r.build.updater.Combined()
	if !ok {
		return nil
	}
	for _, e := range r.build.store.Finalizable(watermark) {
		if !r.build.store.Claim(e) {
			continue
		}
		rows, err := r.rowsFor(e)
		r.build.store.Release(e)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if err := r.emit(rows); err != nil {
			return err
		}
	}
	return nil
}

// rowsFor produces e's output rows: a pre-combined join row per match
// (join.NLJ.Probe / join.HashJoin.ProbeAll already shape these per
// join.OutputSchema) or one row per group-by key, built from the
// merged groupState's accumulators via each Function's Lower step
// (spec §4.6).
func (r *probeRunner) rowsFor(e *window.Entry) ([]record.Record, error) {
	if r.build.op.IsJoin {
		if r.build.nlj != nil {
			return r.build.nlj.Probe(e.Slice)
		}
		return r.build.hash.ProbeAll(e.Slice)
	}
	merged := window.Merged(e)
	if merged == nil {
		return nil, nil
	}
	gs, ok := merged.(*groupState)
	if !ok {
		return nil, fmt.Errorf("query: window entry merged to unexpected type %T", merged)
	}
	rows := make([]record.Record, 0, len(gs.states))
	for key, st := range gs.states {
		vals := make([]record.Value, 0, len(r.probeOp.Schema.Fields))
		vals = append(vals, record.Int(schema.Int64, e.Slice.Start), record.Int(schema.Int64, e.Slice.End))
		vals = append(vals, gs.vals[key]...)
		for i, fn := range gs.fns {
			vals = append(vals, fn.Lower(st[i]))
		}
		rows = append(rows, record.Record{Schema: r.probeOp.Schema, Values: vals})
	}
	return rows, nil
}

// emit writes rows into one or more freshly acquired buffers (a window
// can finalize more groups or join matches than a single buffer holds)
// and admits each as a new task for consumer.
func (r *probeRunner) emit(rows []record.Record) error {
	i := 0
	for i < len(rows) {
		buf, err := r.pool.Acquire(r.originID)
		if err != nil {
			return fmt.Errorf("query: acquiring probe output buffer: %w", err)
		}
		chunkStart := i
		n := 0
		for i < len(rows) {
			ok, err := r.out.Write(buf, n, rows[i])
			if err != nil {
				buf.Release()
				return fmt.Errorf("query: writing probe row %d: %w", i, err)
			}
			if !ok {
				break
			}
			n++
			i++
		}
		if n == 0 {
			buf.Release()
			return fmt.Errorf("query: probe output record wider than buffer capacity")
		}
		r.seq++
		buf.SequenceNumber = r.seq
		buf.ChunkNumber = 0
		buf.LastChunk = i >= len(rows)
		buf.CreationTs = rows[chunkStart].Values[0].I // windowStart, a stable per-emission timestamp
		buf.WatermarkTs = -1
		r.queue.Admit(task.Task{Node: r.consumer, Buf: buf})
	}
	return nil
}
