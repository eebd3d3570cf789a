package query

import (
	"testing"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/physical"
	"github.com/flowmesh/streamcore/runtime/task"
)

func buildCountWindowOps(originID uint64) (scan, build, probe *physical.Operator) {
	in := schema.New(schema.Field{Name: "amount", Type: schema.Int32})
	out := schema.New(
		schema.Field{Name: "windowStart", Type: schema.Int64},
		schema.Field{Name: "windowEnd", Type: schema.Int64},
		schema.Field{Name: "cnt", Type: schema.Int64},
	)
	scan = &physical.Operator{Kind: physical.KindScan, Schema: in, OriginID: originID}
	window := logical.WindowSpec{Kind: logical.WindowTumbling, Size: 10}
	build = &physical.Operator{
		Kind:       physical.KindWindowBuild,
		Schema:     in,
		Inputs:     []*physical.Operator{scan},
		Window:     window,
		Aggregates: []logical.AggregateSpec{{Function: "count", Result: "cnt"}},
	}
	probe = &physical.Operator{
		Kind:       physical.KindWindowProbe,
		Schema:     out,
		Inputs:     []*physical.Operator{build},
		Window:     window,
		Aggregates: build.Aggregates,
	}
	return scan, build, probe
}

func TestProbeRunnerEmitsFinalizedTumblingCount(t *testing.T) {
	scan, buildOp, probeOp := buildCountWindowOps(9)

	fns, exprs, err := buildAggregateFns(buildOp)
	if err != nil {
		t.Fatal(err)
	}
	build := newWindowBuildStage(buildOp, fns, exprs, nil, nil)

	pool := newTestBufferPool(t)
	in, err := pool.Acquire(scan.OriginID)
	if err != nil {
		t.Fatal(err)
	}
	p := record.NewRowProvider(scan.Schema.WithLayout(schema.Row))
	for i, v := range []int32{3, 7} {
		if _, err := p.Write(in, i, record.Record{Schema: scan.Schema, Values: []record.Value{record.Int(schema.Int32, int64(v))}}); err != nil {
			t.Fatal(err)
		}
	}
	in.NumberOfTuples = 2
	in.OriginID = scan.OriginID
	in.SequenceNumber = 1
	in.WatermarkTs = -1
	in.CreationTs = 5

	wctx := codegen.NewWorkerContext(0, pool)
	if _, err := build.Execute(in, wctx); err != nil {
		t.Fatalf("Execute (data): %v", err)
	}
	in.Release()

	// Barrier buffer: no records, but advances the watermark past the
	// slice's End (10) so Finalizable reports it.
	barrier, err := pool.Acquire(scan.OriginID)
	if err != nil {
		t.Fatal(err)
	}
	barrier.OriginID = scan.OriginID
	barrier.SequenceNumber = 2
	barrier.WatermarkTs = 100
	if _, err := build.Execute(barrier, wctx); err != nil {
		t.Fatalf("Execute (barrier): %v", err)
	}
	barrier.Release()

	q := task.NewQueue(10, 2)
	consumer := &task.Node{}
	runner := newProbeRunner(build, probeOp, consumer, q, pool, func(err error) {
		t.Errorf("probeRunner error: %v", err)
	})

	if err := runner.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	tsk, ok := q.Pop()
	if !ok {
		t.Fatal("expected an admitted task for the finalized window")
	}
	if tsk.Node != consumer {
		t.Fatal("task routed to the wrong node")
	}
	out := tsk.Buf
	defer out.Release()
	outProvider := record.NewRowProvider(probeOp.Schema.WithLayout(schema.Row))
	if n := outProvider.NumTuples(out); n != 1 {
		t.Fatalf("NumTuples = %d, want 1 (single group)", n)
	}
	rec, err := outProvider.Read(out, 0)
	if err != nil {
		t.Fatal(err)
	}
	cnt, ok := rec.Field("cnt")
	if !ok {
		t.Fatal("missing cnt field")
	}
	if cnt.AsInt64() != 2 {
		t.Fatalf("cnt = %d, want 2", cnt.AsInt64())
	}
	start, _ := rec.Field("windowStart")
	end, _ := rec.Field("windowEnd")
	if start.AsInt64() != 0 || end.AsInt64() != 10 {
		t.Fatalf("slice = [%d,%d), want [0,10)", start.AsInt64(), end.AsInt64())
	}
}

func TestProbeRunnerTickIsNoopBeforeWatermarkAdvances(t *testing.T) {
	scan, buildOp, probeOp := buildCountWindowOps(11)
	fns, exprs, err := buildAggregateFns(buildOp)
	if err != nil {
		t.Fatal(err)
	}
	build := newWindowBuildStage(buildOp, fns, exprs, nil, nil)

	pool := newTestBufferPool(t)
	in, err := pool.Acquire(scan.OriginID)
	if err != nil {
		t.Fatal(err)
	}
	p := record.NewRowProvider(scan.Schema.WithLayout(schema.Row))
	if _, err := p.Write(in, 0, record.Record{Schema: scan.Schema, Values: []record.Value{record.Int(schema.Int32, 1)}}); err != nil {
		t.Fatal(err)
	}
	in.NumberOfTuples = 1
	in.OriginID = scan.OriginID
	in.WatermarkTs = -1
	wctx := codegen.NewWorkerContext(0, pool)
	if _, err := build.Execute(in, wctx); err != nil {
		t.Fatal(err)
	}
	in.Release()

	q := task.NewQueue(10, 2)
	consumer := &task.Node{}
	runner := newProbeRunner(build, probeOp, consumer, q, pool, func(err error) {
		t.Errorf("probeRunner error: %v", err)
	})
	if err := runner.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if q.Len() != 0 {
		t.Fatal("no window should finalize before the origin has reported any watermark")
	}
}
