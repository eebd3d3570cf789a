package query

import (
	"fmt"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/internal/buffer"
)

func (s *chainStage) Setup() error                           { return nil }
func (s *chainStage) Start() error                            { return nil }
func (s *chainStage) Open(ctx *codegen.WorkerContext) error   { return nil }
func (s *chainStage) Close(ctx *codegen.WorkerContext) error  { return nil }
func (s *chainStage) Stop() error                             { return nil }

// Execute applies walkChain to every record of buf, writing survivors
// into a freshly acquired output buffer -- the non-codegen mirror of
// codegen/interp.stage.Execute for chains codegen cannot compile.
func (s *chainStage) Execute(buf *buffer.TupleBuffer, ctx *codegen.WorkerContext) (*buffer.TupleBuffer, error) {
	if buf.NumberOfTuples == 0 {
		if buf.WatermarkTs < 0 {
			return nil, nil
		}
		// Carries no records, but its watermark barrier still has to
		// reach whatever sits downstream (e.g. a WindowBuild waiting on
		// this origin to advance before it can finalize a slice).
		out, err := ctx.Pool.Acquire(buf.OriginID)
		if err != nil {
			return nil, fmt.Errorf("query: acquiring barrier buffer: %w", err)
		}
		out.SequenceNumber = buf.SequenceNumber + 1
		out.ChunkNumber = buf.ChunkNumber
		out.LastChunk = buf.LastChunk
		out.WatermarkTs = buf.WatermarkTs
		out.CreationTs = buf.CreationTs
		return out, nil
	}
	out, err := ctx.Pool.Acquire(buf.OriginID)
	if err != nil {
		return nil, fmt.Errorf("query: acquiring output buffer: %w", err)
	}
	out.SequenceNumber = buf.SequenceNumber + 1
	out.ChunkNumber = buf.ChunkNumber
	out.LastChunk = buf.LastChunk
	out.WatermarkTs = buf.WatermarkTs
	out.CreationTs = buf.CreationTs

	n := 0
	for i := 0; i < buf.NumberOfTuples; i++ {
		rec, err := s.inProvider.Read(buf, i)
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("query: reading record %d: %w", i, err)
		}
		rec, _, keep, err := walkChain(s.root, rec, buf.CreationTs)
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("query: evaluating record %d: %w", i, err)
		}
		if !keep {
			continue
		}
		if _, err := s.outProvider.Write(out, n, rec); err != nil {
			out.Release()
			return nil, fmt.Errorf("query: writing record %d: %w", n, err)
		}
		n++
	}
	out.NumberOfTuples = n
	if n == 0 {
		out.Release()
		return nil, nil
	}
	return out, nil
}
