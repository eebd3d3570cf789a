// Package physical implements spec §4.2: the physical operator kinds
// and the fuse/break pipeliner that groups a logical plan into
// pipelines connected by intermediate tuple-buffer queues.
package physical

import (
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
)

// Kind tags a physical operator, mirroring the tagged-variant style of
// logical.OpKind (spec §9).
type Kind int

const (
	KindScan Kind = iota
	KindEmit
	KindSelection
	KindMap
	KindProjection
	KindUnion
	KindWatermarkAssigner
	KindWindowBuild
	KindWindowProbe
)

func (k Kind) String() string {
	switch k {
	case KindScan:
		return "Scan"
	case KindEmit:
		return "Emit"
	case KindSelection:
		return "Selection"
	case KindMap:
		return "Map"
	case KindProjection:
		return "Projection"
	case KindUnion:
		return "Union"
	case KindWatermarkAssigner:
		return "WatermarkAssigner"
	case KindWindowBuild:
		return "WindowBuild"
	case KindWindowProbe:
		return "WindowProbe"
	default:
		return "?"
	}
}

// fusible reports whether operators of this kind may be fused into
// the pipeline they're reached from, rather than starting a new one
// (spec §4.2 pipeline policy). The build side of a window is fusible;
// WindowProbe is always a breaker.
func (k Kind) fusible() bool {
	switch k {
	case KindSelection, KindMap, KindProjection, KindUnion, KindWatermarkAssigner, KindWindowBuild:
		return true
	default:
		return false
	}
}

// Operator is one physical operator instance, produced by Lower from
// a typed logical.Operator.
type Operator struct {
	Kind   Kind
	Schema schema.Schema
	Inputs []*Operator

	// Selection
	Predicate logical.Expr

	// Map
	MapResult string
	MapExpr   logical.Expr

	// Projection
	ProjectCols []string

	// Scan / Emit: originID identifies the origin for Scan, and
	// SinkName the adapter an Emit writes into.
	OriginID uint64
	SinkName string

	// WatermarkAssigner
	EventTimeExpr logical.Expr

	// WindowBuild / WindowProbe
	Window     logical.WindowSpec
	GroupBy    []string
	Aggregates []logical.AggregateSpec
	JoinKeyL   string
	JoinKeyR   string
	JoinPred   logical.Expr
	Keyed      bool
	IsJoin     bool

	id int
}

// ID returns the operator's identity within its pipeline, assigned by
// Lower.
func (o *Operator) ID() int { return o.id }

// Lower converts a fully rule-rewritten, typed logical plan into a
// tree of physical operators with no pipeline structure yet; Pipeline
// then groups that tree into Pipelines.
func Lower(root *logical.Operator) *Operator {
	memo := map[*logical.Operator]*Operator{}
	var convert func(*logical.Operator) *Operator
	convert = func(lo *logical.Operator) *Operator {
		if lo == nil {
			return nil
		}
		if po, ok := memo[lo]; ok {
			return po
		}
		inputs := make([]*Operator, len(lo.Inputs))
		for i, in := range lo.Inputs {
			inputs[i] = convert(in)
		}
		po := lowerOne(lo, inputs)
		memo[lo] = po
		return po
	}
	return convert(root)
}

func lowerOne(lo *logical.Operator, inputs []*Operator) *Operator {
	switch lo.Kind {
	case logical.KindSource:
		scan := &Operator{Kind: KindScan, Schema: lo.OutputSchema, OriginID: lo.OriginID}
		return scan

	case logical.KindSink:
		return &Operator{Kind: KindEmit, Schema: lo.OutputSchema, Inputs: inputs, SinkName: lo.SinkName}

	case logical.KindFilter:
		return &Operator{Kind: KindSelection, Schema: lo.OutputSchema, Inputs: inputs, Predicate: lo.Predicate}

	case logical.KindMap:
		return &Operator{Kind: KindMap, Schema: lo.OutputSchema, Inputs: inputs, MapResult: lo.MapResult, MapExpr: lo.MapExpr}

	case logical.KindProjection:
		return &Operator{Kind: KindProjection, Schema: lo.OutputSchema, Inputs: inputs, ProjectCols: lo.ProjectCols}

	case logical.KindUnion, logical.KindDistinct:
		return &Operator{Kind: KindUnion, Schema: lo.OutputSchema, Inputs: inputs}

	case logical.KindWatermarkAssigner:
		return &Operator{Kind: KindWatermarkAssigner, Schema: lo.OutputSchema, Inputs: inputs, EventTimeExpr: lo.EventTimeExpr}

	case logical.KindWindowAggregate:
		build := &Operator{
			Kind: KindWindowBuild, Schema: lo.InputSchema, Inputs: inputs,
			Window: lo.Window, GroupBy: lo.GroupBy, Aggregates: lo.Aggregates,
			Keyed: len(lo.GroupBy) > 0,
		}
		return &Operator{
			Kind: KindWindowProbe, Schema: lo.OutputSchema, Inputs: []*Operator{build},
			Window: lo.Window, GroupBy: lo.GroupBy, Aggregates: lo.Aggregates,
			Keyed: len(lo.GroupBy) > 0,
		}

	case logical.KindWindowJoin:
		build := &Operator{
			Kind: KindWindowBuild, Schema: lo.OutputSchema, Inputs: inputs,
			Window: lo.Window, JoinKeyL: lo.JoinKeyL, JoinKeyR: lo.JoinKeyR, JoinPred: lo.JoinPred,
			IsJoin: true,
		}
		return &Operator{
			Kind: KindWindowProbe, Schema: lo.OutputSchema, Inputs: []*Operator{build},
			Window: lo.Window, JoinKeyL: lo.JoinKeyL, JoinKeyR: lo.JoinKeyR, JoinPred: lo.JoinPred,
			IsJoin: true,
		}

	case logical.KindLimit:
		// Limit has no dedicated physical kind: Lower replaces it with
		// its input, so no row limit is enforced after lowering.
		if len(inputs) == 1 {
			return inputs[0]
		}
		return nil

	default:
		return nil
	}
}
