package task

import (
	"testing"
	"time"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/codegen/interp"
	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/physical"
)

// sinkStage is a terminal ExecutablePipelineStage that records every
// buffer it is handed, standing in for an adapters/sink in these tests
// (the real query package wires an actual Sink behind a stage like
// this; see DESIGN.md).
type sinkStage struct {
	received chan *buffer.TupleBuffer
}

func (s *sinkStage) Setup() error                            { return nil }
func (s *sinkStage) Start() error                            { return nil }
func (s *sinkStage) Open(ctx *codegen.WorkerContext) error   { return nil }
func (s *sinkStage) Close(ctx *codegen.WorkerContext) error  { return nil }
func (s *sinkStage) Stop() error                             { return nil }
func (s *sinkStage) Execute(buf *buffer.TupleBuffer, ctx *codegen.WorkerContext) (*buffer.TupleBuffer, error) {
	s.received <- buf
	return nil, nil
}

func compileSelection(t *testing.T) codegen.ExecutablePipelineStage {
	t.Helper()
	s := schema.New(schema.Field{Name: "amount", Type: schema.Int32})
	scan := &physical.Operator{Kind: physical.KindScan, Schema: s}
	sel := &physical.Operator{
		Kind:      physical.KindSelection,
		Inputs:    []*physical.Operator{scan},
		Predicate: logical.Bin(logical.OpGt, logical.Field("amount"), logical.IntLiteral(schema.Int32, 0)),
	}
	g, err := codegen.Trace(sel)
	if err != nil {
		t.Fatal(err)
	}
	stage, err := (interp.Backend{}).Compile(g)
	if err != nil {
		t.Fatal(err)
	}
	return stage
}

func TestPoolRoutesOutputBufferToConsumer(t *testing.T) {
	s := schema.New(schema.Field{Name: "amount", Type: schema.Int32})
	sel := compileSelection(t)
	sink := &sinkStage{received: make(chan *buffer.TupleBuffer, 1)}

	consumer := &Node{Stage: sink}
	producer := &Node{Stage: sel, Consumers: []*Node{consumer}}

	q := NewQueue(10, 2)
	bufPool := buffer.NewPool(4096, 4)
	pool := NewPool(q, bufPool)
	pool.Start(1)

	in, err := bufPool.Acquire(7)
	if err != nil {
		t.Fatal(err)
	}
	p := record.NewRowProvider(s)
	if _, err := p.Write(in, 0, record.Record{Schema: s, Values: []record.Value{record.Int(schema.Int32, 5)}}); err != nil {
		t.Fatal(err)
	}
	in.NumberOfTuples = 1
	in.SequenceNumber = 3

	q.Admit(Task{Node: producer, Buf: in})

	select {
	case out := <-sink.received:
		if out.OriginID != 7 {
			t.Fatalf("origin = %d, want 7", out.OriginID)
		}
		if out.SequenceNumber != 4 {
			t.Fatalf("sequence = %d, want 4 (input + 1)", out.SequenceNumber)
		}
		out.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received a routed buffer")
	}

	in.Release()
	if _, err := pool.Stop(Graceful); err != nil {
		t.Fatalf("pool.Stop: %v", err)
	}
}

func TestPoolDropsFilteredBufferWithoutRoutingToConsumer(t *testing.T) {
	s := schema.New(schema.Field{Name: "amount", Type: schema.Int32})
	scan := &physical.Operator{Kind: physical.KindScan, Schema: s}
	sel := &physical.Operator{
		Kind:      physical.KindSelection,
		Inputs:    []*physical.Operator{scan},
		Predicate: logical.Bin(logical.OpGt, logical.Field("amount"), logical.IntLiteral(schema.Int32, 100)),
	}
	g, err := codegen.Trace(sel)
	if err != nil {
		t.Fatal(err)
	}
	stage, err := (interp.Backend{}).Compile(g)
	if err != nil {
		t.Fatal(err)
	}
	sink := &sinkStage{received: make(chan *buffer.TupleBuffer, 1)}
	producer := &Node{Stage: stage, Consumers: []*Node{{Stage: sink}}}

	q := NewQueue(10, 2)
	bufPool := buffer.NewPool(4096, 4)
	pool := NewPool(q, bufPool)
	pool.Start(1)

	in, err := bufPool.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	p := record.NewRowProvider(s)
	if _, err := p.Write(in, 0, record.Record{Schema: s, Values: []record.Value{record.Int(schema.Int32, 5)}}); err != nil {
		t.Fatal(err)
	}
	in.NumberOfTuples = 1

	q.Admit(Task{Node: producer, Buf: in})

	select {
	case <-sink.received:
		t.Fatal("sink should not receive a buffer when every record is filtered out")
	case <-time.After(100 * time.Millisecond):
	}

	in.Release()
	if _, err := pool.Stop(Graceful); err != nil {
		t.Fatalf("pool.Stop: %v", err)
	}
}
