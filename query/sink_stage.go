package query

import (
	"context"

	"github.com/flowmesh/streamcore/adapters/sink"
	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/internal/buffer"
)

// sinkStage adapts an adapters/sink.Sink into an ExecutablePipelineStage
// for a KindEmit-rooted pipeline -- the terminal node of every chain,
// never fused with anything downstream (spec §4.2: Emit always
// breaks). Execute never returns an output buffer: a sink is where
// records leave the engine.
type sinkStage struct {
	sink sink.Sink
}

func newSinkStage(s sink.Sink) *sinkStage { return &sinkStage{sink: s} }

func (s *sinkStage) Setup() error                          { return nil }
func (s *sinkStage) Start() error                           { return s.sink.Start(context.Background()) }
func (s *sinkStage) Open(ctx *codegen.WorkerContext) error  { return nil }
func (s *sinkStage) Close(ctx *codegen.WorkerContext) error { return nil }
func (s *sinkStage) Stop() error                            { return s.sink.Stop(context.Background()) }

func (s *sinkStage) Execute(buf *buffer.TupleBuffer, ctx *codegen.WorkerContext) (*buffer.TupleBuffer, error) {
	if buf.NumberOfTuples == 0 {
		return nil, nil
	}
	return nil, s.sink.Execute(context.Background(), buf)
}
