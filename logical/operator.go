package logical

import (
	"github.com/flowmesh/streamcore/internal/schema"
)

// OpKind tags the variant of a logical Operator (design note: replaces
// a deep operator class hierarchy with a tagged variant dispatched on
// Kind, per spec §9).
type OpKind int

const (
	KindSource OpKind = iota
	KindSink
	KindFilter
	KindMap
	KindProjection
	KindUnion
	KindDistinct
	KindWatermarkAssigner
	KindWindowAggregate
	KindWindowJoin
	KindLimit
)

// WindowKind tags the window specification of a WindowAggregate or
// WindowJoin operator.
type WindowKind int

const (
	WindowTumbling WindowKind = iota
	WindowSliding
	WindowSession
)

// WindowSpec describes the time-based window a WindowAggregate /
// WindowJoin groups by (spec §3, §4.5).
type WindowSpec struct {
	Kind  WindowKind
	Size  int64 // ms; tumbling/sliding window length
	Slide int64 // ms; sliding window slide, ignored otherwise
	Gap   int64 // ms; session window gap, ignored otherwise
}

// AggregateSpec is one aggregation clause of a WindowAggregate.
type AggregateSpec struct {
	Function string // "count", "sum", "min", "max", "avg", "median", "array_collect", "count_min_sketch"
	Input    Expr   // nil for count(*)
	Result   string
}

// Operator is a node of the logical plan graph. It is a tagged variant
// over the operator kinds of spec §4.2 plus the logical-only kinds
// (Source, Sink, Distinct, Limit). physical.Lower maps Source to Scan,
// Sink to Emit and Distinct to a one-input Union (rows are not
// deduplicated), and replaces Limit with its input.
type Operator struct {
	Kind OpKind

	// populated by InferSchema
	InputSchema  schema.Schema
	OutputSchema schema.Schema

	Inputs []*Operator

	// Filter
	Predicate Expr

	// Map: assigns Expr to field Result (appended or overwritten)
	MapResult string
	MapExpr   Expr

	// Projection
	ProjectCols []string

	// Source / Sink
	OriginID     uint64
	SourceSchema schema.Schema
	SinkName     string

	// WatermarkAssigner
	EventTimeExpr Expr // nil => use buffer ingestion time
	OriginIDs     []uint64

	// WindowAggregate / WindowJoin
	Window     WindowSpec
	GroupBy    []string
	Aggregates []AggregateSpec
	JoinKeyL   string
	JoinKeyR   string
	JoinPred   Expr // non-nil selects NLJ over hash join

	// Limit
	LimitN int

	id int
}

// NewSource builds a logical Source operator.
func NewSource(originID uint64, s schema.Schema) *Operator {
	return &Operator{Kind: KindSource, OriginID: originID, SourceSchema: s}
}

// NewSink builds a logical Sink operator over input, addressed by name
// (query.Engine resolves name to the adapters/sink.Sink bound at
// Submit time).
func NewSink(name string, input *Operator) *Operator {
	return &Operator{Kind: KindSink, SinkName: name, Inputs: []*Operator{input}}
}

// ID returns a stable identity for the operator within its plan,
// assigned the first time the plan is walked by InferSchema.
func (o *Operator) ID() int { return o.id }

// WalkOperators visits root and every operator reachable through
// Inputs exactly once, post-order (inputs before the operator itself).
func WalkOperators(root *Operator, fn func(*Operator)) {
	seen := map[*Operator]bool{}
	var visit func(*Operator)
	visit = func(o *Operator) {
		if o == nil || seen[o] {
			return
		}
		seen[o] = true
		for _, in := range o.Inputs {
			visit(in)
		}
		fn(o)
	}
	visit(root)
}
