package query

import (
	"bytes"
	"strings"
	"testing"

	"github.com/flowmesh/streamcore/adapters/sink"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

func TestSinkStageStartStopDelegatesToSink(t *testing.T) {
	s := schema.New(schema.Field{Name: "amount", Type: schema.Int32})
	var out bytes.Buffer
	ps := &sink.PrintSink{Schema: s, Formatter: sink.CSVFormatter{}, Writer: &out}
	stage := newSinkStage(ps)

	if err := stage.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := stage.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSinkStageSkipsEmptyBuffer(t *testing.T) {
	s := schema.New(schema.Field{Name: "amount", Type: schema.Int32})
	var out bytes.Buffer
	ps := &sink.PrintSink{Schema: s, Formatter: sink.CSVFormatter{}, Writer: &out}
	if err := ps.Start(nil); err != nil {
		t.Fatal(err)
	}
	stage := newSinkStage(ps)

	pool := newTestBufferPool(t)
	buf, err := pool.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	outBuf, err := stage.Execute(buf, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outBuf != nil {
		t.Fatal("sinkStage.Execute must never return a buffer to fan out")
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing written for an empty buffer, got %q", out.String())
	}
}

func TestSinkStageExecuteWritesThroughToSink(t *testing.T) {
	s := schema.New(schema.Field{Name: "amount", Type: schema.Int32})
	var out bytes.Buffer
	ps := &sink.PrintSink{Schema: s, Formatter: sink.CSVFormatter{}, Writer: &out}
	if err := ps.Start(nil); err != nil {
		t.Fatal(err)
	}
	stage := newSinkStage(ps)

	pool := newTestBufferPool(t)
	buf, err := pool.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	p := record.NewRowProvider(s.WithLayout(schema.Row))
	if _, err := p.Write(buf, 0, record.Record{Schema: s, Values: []record.Value{record.Int(schema.Int32, 42)}}); err != nil {
		t.Fatal(err)
	}
	buf.NumberOfTuples = 1

	if _, err := stage.Execute(buf, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "42") {
		t.Fatalf("sink output = %q, want it to contain the written value", out.String())
	}
}
