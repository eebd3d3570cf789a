// Package interp implements the tree-walking interpreter backend of
// spec §4.3: used directly by tests, and as the codegen.Backend that
// codegen/jit falls back to on hardware without the required
// capability (spec §4.3, DESIGN.md).
package interp

import (
	"fmt"
	"math"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/codegen/ir"
	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// Backend is the interpreter codegen.Backend.
type Backend struct{}

func (Backend) Name() string { return "interp" }

func (Backend) Compile(g *ir.Graph) (codegen.ExecutablePipelineStage, error) {
	in := inferInputSchema(g)
	out := g.OutSchema
	if len(out.Fields) == 0 {
		out = in
	}
	return &stage{
		graph:       g,
		inSchema:    in,
		outSchema:   out,
		inProvider:  record.NewRowProvider(in.WithLayout(schema.Row)),
		outProvider: record.NewRowProvider(out.WithLayout(schema.Row)),
	}, nil
}

// inferInputSchema rebuilds the fields a trace reads, in first-seen
// order, from its OpFieldLoad values. The tracer always emits these
// before any value that references them, so a single forward scan of
// the blocks recovers the scan-time schema.
func inferInputSchema(g *ir.Graph) schema.Schema {
	var fields []schema.Field
	seen := map[string]bool{}
	for _, b := range g.Blocks {
		for _, v := range b.Values {
			if v.Op == ir.OpFieldLoad && !seen[v.FieldName] {
				seen[v.FieldName] = true
				fields = append(fields, schema.Field{Name: v.FieldName, Type: v.Type})
			}
		}
	}
	return schema.New(fields...)
}

type stage struct {
	graph       *ir.Graph
	inSchema    schema.Schema
	outSchema   schema.Schema
	inProvider  *record.RowProvider
	outProvider *record.RowProvider
}

func (s *stage) Setup() error { return nil }
func (s *stage) Start() error { return nil }

func (s *stage) Open(ctx *codegen.WorkerContext) error { return nil }

// Execute evaluates the traced chain against every record in buf,
// writing whichever ones reach OpReturn into a freshly acquired output
// buffer in the order they appear, then returns that buffer (nil if
// none survived).
func (s *stage) Execute(buf *buffer.TupleBuffer, ctx *codegen.WorkerContext) (*buffer.TupleBuffer, error) {
	if buf.NumberOfTuples == 0 {
		if buf.WatermarkTs < 0 {
			return nil, nil
		}
		// A tupleless buffer carrying only a watermark barrier still
		// has to reach downstream consumers.
		out, err := ctx.Pool.Acquire(buf.OriginID)
		if err != nil {
			return nil, fmt.Errorf("interp: acquiring barrier buffer: %w", err)
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
		return nil, fmt.Errorf("interp: acquiring output buffer: %w", err)
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
			return nil, fmt.Errorf("interp: reading record %d: %w", i, err)
		}
		vals := map[ir.ValueID]scalar{}
		keep, err := s.evalBlock(s.graph.Entry, rec, vals)
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("interp: executing record %d: %w", i, err)
		}
		if !keep {
			continue
		}
		outRec, err := s.buildOutput(vals)
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("interp: building output record %d: %w", i, err)
		}
		if _, err := s.outProvider.Write(out, n, outRec); err != nil {
			out.Release()
			return nil, fmt.Errorf("interp: writing output record %d: %w", n, err)
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

// buildOutput assembles the surviving record's fields from the scalar
// values the trace computed for it, in s.outSchema order.
func (s *stage) buildOutput(vals map[ir.ValueID]scalar) (record.Record, error) {
	fields := s.outSchema.Fields
	values := make([]record.Value, len(fields))
	for i, f := range fields {
		if i >= len(s.graph.OutFields) {
			return record.Record{}, fmt.Errorf("output field %q has no traced value", f.Name)
		}
		sv, ok := vals[s.graph.OutFields[i]]
		if !ok {
			return record.Record{}, fmt.Errorf("output field %q was not computed for this record", f.Name)
		}
		values[i] = sv.toValue(f.Type)
	}
	return record.Record{Schema: s.outSchema, Values: values}, nil
}

func (s *stage) Close(ctx *codegen.WorkerContext) error { return nil }
func (s *stage) Stop() error                            { return nil }

// scalar is the interpreter's runtime value representation.
type scalar struct {
	i   int64
	f   float64
	b   []byte
	typ schema.DataType
}

func (sc scalar) toValue(t schema.DataType) record.Value {
	if t.IsFloat() {
		return record.Float(t, floatOf(sc))
	}
	if t.IsVariableSized() {
		return record.Bytes(t, sc.b)
	}
	return record.Int(t, sc.i)
}

// evalBlock walks block for rec, threading vals through every block it
// branches or jumps into so that values computed before a branch (e.g.
// a Scan's field loads) remain visible to the output record built once
// OpReturn is reached.
func (s *stage) evalBlock(block int, rec record.Record, vals map[ir.ValueID]scalar) (bool, error) {
	for _, v := range s.graph.Blocks[block].Values {
		switch v.Op {
		case ir.OpFieldLoad:
			fv, ok := rec.Field(v.FieldName)
			if !ok {
				return false, fmt.Errorf("field %q not found", v.FieldName)
			}
			vals[v.ID] = scalar{i: fv.I, f: fv.F, b: fv.S, typ: fv.Type}

		case ir.OpConst:
			vals[v.ID] = scalar{i: v.ConstI, f: v.ConstF, b: v.ConstS, typ: v.Type}

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
			a, b := vals[v.Args[0]], vals[v.Args[1]]
			vals[v.ID] = arith(v.Op, a, b, v.Type)

		case ir.OpCmpEq, ir.OpCmpNeq, ir.OpCmpLt, ir.OpCmpLte, ir.OpCmpGt, ir.OpCmpGte:
			a, b := vals[v.Args[0]], vals[v.Args[1]]
			vals[v.ID] = boolScalar(compare(v.Op, a, b))

		case ir.OpAnd:
			a, b := vals[v.Args[0]], vals[v.Args[1]]
			vals[v.ID] = boolScalar(a.i != 0 && b.i != 0)

		case ir.OpOr:
			a, b := vals[v.Args[0]], vals[v.Args[1]]
			vals[v.ID] = boolScalar(a.i != 0 || b.i != 0)

		case ir.OpCall:
			a := vals[v.Args[0]]
			vals[v.ID] = scalar{f: callFn(v.CallTarget, a.f), typ: schema.Float64}

		case ir.OpBranch:
			cond := vals[v.Args[0]]
			if cond.i != 0 {
				return s.evalBlock(v.TrueBlock, rec, vals)
			}
			return s.evalBlock(v.FalseBlock, rec, vals)

		case ir.OpJump:
			return s.evalBlock(v.TrueBlock, rec, vals)

		case ir.OpReturn:
			return true, nil
		}
	}
	return true, nil
}

func boolScalar(b bool) scalar {
	if b {
		return scalar{i: 1, typ: schema.Bool}
	}
	return scalar{i: 0, typ: schema.Bool}
}

func arith(op ir.Op, a, b scalar, typ schema.DataType) scalar {
	if typ.IsFloat() {
		af, bf := floatOf(a), floatOf(b)
		var r float64
		switch op {
		case ir.OpAdd:
			r = af + bf
		case ir.OpSub:
			r = af - bf
		case ir.OpMul:
			r = af * bf
		case ir.OpDiv:
			r = af / bf
		}
		return scalar{f: r, typ: typ}
	}
	var r int64
	switch op {
	case ir.OpAdd:
		r = a.i + b.i
	case ir.OpSub:
		r = a.i - b.i
	case ir.OpMul:
		r = a.i * b.i
	case ir.OpDiv:
		if b.i != 0 {
			r = a.i / b.i
		}
	}
	return scalar{i: r, typ: typ}
}

func floatOf(s scalar) float64 {
	if s.typ.IsFloat() {
		return s.f
	}
	return float64(s.i)
}

func compare(op ir.Op, a, b scalar) bool {
	af, bf := floatOf(a), floatOf(b)
	switch op {
	case ir.OpCmpEq:
		return af == bf
	case ir.OpCmpNeq:
		return af != bf
	case ir.OpCmpLt:
		return af < bf
	case ir.OpCmpLte:
		return af <= bf
	case ir.OpCmpGt:
		return af > bf
	case ir.OpCmpGte:
		return af >= bf
	default:
		return false
	}
}

func callFn(name string, v float64) float64 {
	switch name {
	case "math.ceil":
		return math.Ceil(v)
	case "math.floor":
		return math.Floor(v)
	default:
		return math.Round(v)
	}
}
