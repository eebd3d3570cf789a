package query

import (
	"testing"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/physical"
	"github.com/flowmesh/streamcore/runtime/window"
)

func TestWindowBuildStageAggregateGroupsByKey(t *testing.T) {
	in := schema.New(
		schema.Field{Name: "city", Type: schema.VarBinary},
		schema.Field{Name: "amount", Type: schema.Int64},
	)
	scan := &physical.Operator{Kind: physical.KindScan, Schema: in, OriginID: 1}
	op := &physical.Operator{
		Kind:       physical.KindWindowBuild,
		Schema:     in,
		Inputs:     []*physical.Operator{scan},
		Window:     logical.WindowSpec{Kind: logical.WindowTumbling, Size: 10},
		GroupBy:    []string{"city"},
		Aggregates: []logical.AggregateSpec{{Function: "sum", Input: logical.Field("amount"), Result: "total"}},
	}
	fns, exprs, err := buildAggregateFns(op)
	if err != nil {
		t.Fatal(err)
	}
	stage := newWindowBuildStage(op, fns, exprs, nil, nil)

	pool := newTestBufferPool(t)
	t.Cleanup(pool.Close)
	buf, err := pool.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	p := record.NewRowProvider(in.WithLayout(schema.Row))
	rows := []struct {
		city   string
		amount int64
	}{
		{"nyc", 3}, {"sf", 5}, {"nyc", 4},
	}
	for i, r := range rows {
		if _, err := p.Write(buf, i, record.Record{Schema: in, Values: []record.Value{
			record.Bytes(schema.VarBinary, []byte(r.city)),
			record.Int(schema.Int64, r.amount),
		}}); err != nil {
			t.Fatal(err)
		}
	}
	buf.NumberOfTuples = len(rows)
	buf.OriginID = 1
	buf.CreationTs = 1
	buf.WatermarkTs = -1

	wctx := codegen.NewWorkerContext(0, pool)
	if _, err := stage.Execute(buf, wctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	slice := window.Slice{Start: 0, End: 10}
	entry, ok := stage.store.Get(slice)
	if !ok {
		t.Fatal("expected a store entry for slice [0,10)")
	}
	if !stage.store.Claim(entry) {
		t.Fatal("Claim failed")
	}
	merged := window.Merged(entry)
	gs, ok := merged.(*groupState)
	if !ok {
		t.Fatalf("merged state is %T, want *groupState", merged)
	}
	if len(gs.states) != 2 {
		t.Fatalf("got %d groups, want 2 (nyc, sf)", len(gs.states))
	}
	nycKey, err := groupKey([]string{"city"}, record.Record{Schema: in, Values: []record.Value{record.Bytes(schema.VarBinary, []byte("nyc"))}})
	if err != nil {
		t.Fatal(err)
	}
	nycSum := gs.fns[0].Lower(gs.states[nycKey][0])
	if nycSum.AsInt64() != 7 {
		t.Fatalf("nyc sum = %d, want 7", nycSum.AsInt64())
	}
}

func TestWindowBuildStageBarrierAdvancesWatermarkWithoutRecords(t *testing.T) {
	in := schema.New(schema.Field{Name: "v", Type: schema.Int64})
	scan := &physical.Operator{Kind: physical.KindScan, Schema: in, OriginID: 2}
	op := &physical.Operator{
		Kind:       physical.KindWindowBuild,
		Schema:     in,
		Inputs:     []*physical.Operator{scan},
		Window:     logical.WindowSpec{Kind: logical.WindowTumbling, Size: 10},
		Aggregates: []logical.AggregateSpec{{Function: "count", Result: "cnt"}},
	}
	fns, exprs, err := buildAggregateFns(op)
	if err != nil {
		t.Fatal(err)
	}
	stage := newWindowBuildStage(op, fns, exprs, nil, nil)

	pool := newTestBufferPool(t)
	buf, err := pool.Acquire(2)
	if err != nil {
		t.Fatal(err)
	}
	buf.OriginID = 2
	buf.SequenceNumber = 1
	buf.NumberOfTuples = 0
	buf.WatermarkTs = 50

	if _, err := stage.Execute(buf, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	buf.Release()

	ts, ok := stage.updater.Combined()
	if !ok {
		t.Fatal("expected Combined to report a watermark after a barrier-only buffer")
	}
	if ts != 50 {
		t.Fatalf("combined watermark = %d, want 50", ts)
	}
}

func TestWindowBuildStageJoinNLJMatchesAcrossSides(t *testing.T) {
	left := schema.New(schema.Field{Name: "lkey", Type: schema.Int64}, schema.Field{Name: "lval", Type: schema.Int64})
	right := schema.New(schema.Field{Name: "rkey", Type: schema.Int64}, schema.Field{Name: "rval", Type: schema.Int64})
	leftScan := &physical.Operator{Kind: physical.KindScan, Schema: left, OriginID: 3}
	rightScan := &physical.Operator{Kind: physical.KindScan, Schema: right, OriginID: 4}
	pred := logical.Bin(logical.OpEq, logical.Field("lkey"), logical.Field("rkey"))
	op := &physical.Operator{
		Kind:     physical.KindWindowBuild,
		Inputs:   []*physical.Operator{leftScan, rightScan},
		Window:   logical.WindowSpec{Kind: logical.WindowTumbling, Size: 10},
		JoinPred: pred,
		IsJoin:   true,
	}
	nlj, hash, err := buildJoinImpl(op)
	if err != nil {
		t.Fatal(err)
	}
	if hash != nil {
		t.Fatal("a non-nil JoinPred must select NLJ, not HashJoin")
	}
	stage := newWindowBuildStage(op, nil, nil, nlj, nil)

	pool := newTestBufferPool(t)
	t.Cleanup(pool.Close)
	wctx := codegen.NewWorkerContext(0, pool)

	leftBuf, err := pool.Acquire(3)
	if err != nil {
		t.Fatal(err)
	}
	lp := record.NewRowProvider(left.WithLayout(schema.Row))
	for i, v := range []int64{1, 2} {
		if _, err := lp.Write(leftBuf, i, record.Record{Schema: left, Values: []record.Value{
			record.Int(schema.Int64, v), record.Int(schema.Int64, v*100),
		}}); err != nil {
			t.Fatal(err)
		}
	}
	leftBuf.NumberOfTuples = 2
	leftBuf.OriginID = 3
	leftBuf.CreationTs = 1
	leftBuf.WatermarkTs = -1
	if _, err := stage.Execute(leftBuf, wctx); err != nil {
		t.Fatalf("Execute (left): %v", err)
	}
	leftBuf.Release()

	rightBuf, err := pool.Acquire(4)
	if err != nil {
		t.Fatal(err)
	}
	rp := record.NewRowProvider(right.WithLayout(schema.Row))
	if _, err := rp.Write(rightBuf, 0, record.Record{Schema: right, Values: []record.Value{
		record.Int(schema.Int64, 1), record.Int(schema.Int64, 999),
	}}); err != nil {
		t.Fatal(err)
	}
	rightBuf.NumberOfTuples = 1
	rightBuf.OriginID = 4
	rightBuf.CreationTs = 1
	rightBuf.WatermarkTs = -1
	if _, err := stage.Execute(rightBuf, wctx); err != nil {
		t.Fatalf("Execute (right): %v", err)
	}
	rightBuf.Release()

	slice := window.Slice{Start: 0, End: 10}
	rows, err := nlj.Probe(slice)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d matched rows, want 1 (lkey=1 matches rkey=1, lkey=2 has no match)", len(rows))
	}
	lval, ok := rows[0].Field("lval")
	if !ok || lval.AsInt64() != 100 {
		t.Fatalf("matched row lval = %+v, want 100", lval)
	}
	rval, ok := rows[0].Field("rval")
	if !ok || rval.AsInt64() != 999 {
		t.Fatalf("matched row rval = %+v, want 999", rval)
	}
}
