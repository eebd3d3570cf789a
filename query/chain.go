package query

import (
	"fmt"

	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/physical"
	"github.com/flowmesh/streamcore/runtime/join"
)

// walkChain evaluates op's fused operator chain against rec, recursing
// down to its base case first (a Scan, whose field loads are already
// reflected in rec by the caller's MemoryProvider read, or a
// WindowProbe, whose merged window-output row plays the same role)
// and applying each operator's transform on the way back up.
//
// codegen.Trace cannot walk this chain itself when it bottoms out at a
// WindowProbe: its tracer only recognizes the fusible kinds spec §4.2
// lists inside a Scan-rooted pipeline (codegen/trace.go's doc comment
// notes WindowBuild/WindowProbe are "traced separately"). This
// re-implements the same handful of operator semantics codegen/trace.go
// traces into SSA, but interprets them directly against a live record
// using runtime/join.Eval -- the query layer's only two call sites for
// a fused chain that codegen cannot compile: a window build's input
// side, and any chain fused on top of a WindowProbe's output.
//
// eventTime starts at defaultEventTime (the owning buffer's
// CreationTs) and is only overridden by a WatermarkAssigner with a
// non-nil EventTimeExpr; it is meaningless for chains that don't feed
// a WindowBuild, and callers that don't need it may ignore the return.
func walkChain(op *physical.Operator, rec record.Record, defaultEventTime int64) (record.Record, int64, bool, error) {
	if op == nil {
		return rec, defaultEventTime, true, nil
	}
	switch op.Kind {
	case physical.KindScan, physical.KindWindowProbe:
		return rec, defaultEventTime, true, nil
	}
	if len(op.Inputs) != 1 {
		return record.Record{}, 0, false, fmt.Errorf("query: operator kind %v has %d inputs, want 1 inside a fused chain", op.Kind, len(op.Inputs))
	}
	rec, eventTime, keep, err := walkChain(op.Inputs[0], rec, defaultEventTime)
	if err != nil || !keep {
		return rec, eventTime, keep, err
	}

	switch op.Kind {
	case physical.KindSelection:
		v, err := join.Eval(op.Predicate, rec)
		if err != nil {
			return record.Record{}, 0, false, err
		}
		return rec, eventTime, v.AsBool(), nil

	case physical.KindMap:
		v, err := join.Eval(op.MapExpr, rec)
		if err != nil {
			return record.Record{}, 0, false, err
		}
		return rec.With(op.MapResult, v), eventTime, true, nil

	case physical.KindProjection:
		out, err := rec.Project(op.ProjectCols)
		if err != nil {
			return record.Record{}, 0, false, err
		}
		return out, eventTime, true, nil

	case physical.KindWatermarkAssigner:
		if op.EventTimeExpr != nil {
			v, err := join.Eval(op.EventTimeExpr, rec)
			if err != nil {
				return record.Record{}, 0, false, err
			}
			eventTime = v.AsInt64()
		}
		return rec, eventTime, true, nil

	case physical.KindUnion:
		return rec, eventTime, true, nil

	default:
		return record.Record{}, 0, false, fmt.Errorf("query: cannot evaluate operator kind %v in a fused chain", op.Kind)
	}
}

// leafOperator returns the Scan or WindowProbe op sits fused on top of,
// following single-input chains down -- the same base cases walkChain
// recognizes, so it never descends past a WindowProbe into its
// WindowBuild input.
func leafOperator(op *physical.Operator) *physical.Operator {
	for op.Kind != physical.KindScan && op.Kind != physical.KindWindowProbe && len(op.Inputs) == 1 {
		op = op.Inputs[0]
	}
	return op
}

// chainStage is an ExecutablePipelineStage for a pipeline whose fused
// chain cannot go through codegen because it bottoms out at a
// WindowProbe rather than a Scan (e.g. a Selection/Map/Projection
// applied to a windowed aggregate's output before it reaches a sink).
// Pipelines rooted at a Scan instead use codegen.Trace + a Backend, the
// way the SSA code generator is meant to be exercised.
type chainStage struct {
	root        *physical.Operator
	inProvider  *record.RowProvider
	outProvider *record.RowProvider
}

func newChainStage(root *physical.Operator) *chainStage {
	leaf := leafOperator(root)
	return &chainStage{
		root:        root,
		inProvider:  record.NewRowProvider(leaf.Schema.WithLayout(schema.Row)),
		outProvider: record.NewRowProvider(root.Schema.WithLayout(schema.Row)),
	}
}
