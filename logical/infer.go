package logical

import (
	"fmt"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/schema"
)

// InferSchema annotates every expression node of plan with a concrete
// DataType and propagates input/output schemas through every
// operator. It is idempotent and total: it either returns a plan where
// every node has fully concrete schemas, or a *errkind.TypeInferenceError
// / *errkind.UnknownFieldError (spec §4.1).
//
// Calling InferSchema twice on an already-inferred plan reproduces the
// same schemas (idempotence, spec §8): every branch below only reads
// input schemas to compute output schemas, never mutates a schema in
// a way a second pass would see differently.
func InferSchema(plan *Operator) (*Operator, error) {
	var failure error
	nextID := 0
	WalkOperators(plan, func(o *Operator) {
		if failure != nil {
			return
		}
		o.id = nextID
		nextID++
		if err := inferOne(o); err != nil {
			failure = err
		}
	})
	if failure != nil {
		return nil, failure
	}
	return plan, nil
}

func inferOne(o *Operator) error {
	switch o.Kind {
	case KindSource:
		o.InputSchema = o.SourceSchema
		o.OutputSchema = o.SourceSchema
		return nil

	case KindSink:
		o.InputSchema = singleInput(o)
		o.OutputSchema = o.InputSchema
		return nil

	case KindFilter:
		o.InputSchema = singleInput(o)
		t, err := typeOf(o.Predicate, o.InputSchema)
		if err != nil {
			return err
		}
		if t != schema.Bool {
			return &errkind.TypeInferenceError{Node: "Filter", Reason: fmt.Sprintf("predicate has type %s, want bool", t)}
		}
		o.OutputSchema = o.InputSchema
		return nil

	case KindMap:
		o.InputSchema = singleInput(o)
		t, err := typeOf(o.MapExpr, o.InputSchema)
		if err != nil {
			return err
		}
		o.OutputSchema = appendOrOverwrite(o.InputSchema, o.MapResult, t)
		return nil

	case KindProjection:
		o.InputSchema = singleInput(o)
		out, err := o.InputSchema.Project(o.ProjectCols)
		if err != nil {
			return &errkind.UnknownFieldError{Field: err.Error()}
		}
		o.OutputSchema = out
		return nil

	case KindDistinct:
		o.InputSchema = singleInput(o)
		o.OutputSchema = o.InputSchema
		return nil

	case KindUnion:
		if len(o.Inputs) != 2 {
			return &errkind.TypeInferenceError{Node: "Union", Reason: "requires exactly two inputs"}
		}
		l, r := o.Inputs[0].OutputSchema, o.Inputs[1].OutputSchema
		if !l.Equal(r) {
			return &errkind.TypeInferenceError{Node: "Union", Reason: "inputs have different schemas"}
		}
		o.InputSchema = l
		o.OutputSchema = l
		return nil

	case KindWatermarkAssigner:
		o.InputSchema = singleInput(o)
		if o.EventTimeExpr != nil {
			t, err := typeOf(o.EventTimeExpr, o.InputSchema)
			if err != nil {
				return err
			}
			if !t.IsInteger() && t.Kind != schema.KindTimestamp {
				return &errkind.TypeInferenceError{Node: "WatermarkAssigner", Reason: fmt.Sprintf("event-time expression has type %s, want integer or timestamp", t)}
			}
		}
		o.OutputSchema = o.InputSchema
		return nil

	case KindWindowAggregate:
		o.InputSchema = singleInput(o)
		out := schema.Schema{Layout: schema.Row}
		out.Fields = append(out.Fields,
			schema.Field{Name: "windowStart", Type: schema.Int64},
			schema.Field{Name: "windowEnd", Type: schema.Int64},
		)
		for _, g := range o.GroupBy {
			f, ok := o.InputSchema.Field(g)
			if !ok {
				return &errkind.UnknownFieldError{Field: g}
			}
			out.Fields = append(out.Fields, f)
		}
		for _, a := range o.Aggregates {
			t, err := aggregateResultType(a, o.InputSchema)
			if err != nil {
				return err
			}
			out.Fields = append(out.Fields, schema.Field{Name: a.Result, Type: t})
		}
		o.OutputSchema = out
		return nil

	case KindWindowJoin:
		if len(o.Inputs) != 2 {
			return &errkind.TypeInferenceError{Node: "WindowJoin", Reason: "requires exactly two inputs"}
		}
		l, r := o.Inputs[0].OutputSchema, o.Inputs[1].OutputSchema
		if o.JoinPred == nil {
			lf, ok := l.Field(o.JoinKeyL)
			if !ok {
				return &errkind.UnknownFieldError{Field: o.JoinKeyL}
			}
			rf, ok := r.Field(o.JoinKeyR)
			if !ok {
				return &errkind.UnknownFieldError{Field: o.JoinKeyR}
			}
			if lf.Type != rf.Type {
				return &errkind.TypeInferenceError{Node: "WindowJoin", Reason: fmt.Sprintf("join key types differ: %s vs %s", lf.Type, rf.Type)}
			}
		}
		out := schema.Schema{Layout: schema.Row}
		out.Fields = append(out.Fields,
			schema.Field{Name: "windowStart", Type: schema.Int64},
			schema.Field{Name: "windowEnd", Type: schema.Int64},
		)
		out.Fields = append(out.Fields, l.Fields...)
		out.Fields = append(out.Fields, r.Fields...)
		o.OutputSchema = out
		return nil

	case KindLimit:
		o.InputSchema = singleInput(o)
		o.OutputSchema = o.InputSchema
		return nil

	default:
		return &errkind.TypeInferenceError{Node: "?", Reason: "unknown operator kind"}
	}
}

func singleInput(o *Operator) schema.Schema {
	if len(o.Inputs) != 1 {
		return schema.Schema{}
	}
	return o.Inputs[0].OutputSchema
}

func appendOrOverwrite(s schema.Schema, name string, t schema.DataType) schema.Schema {
	i := s.IndexOf(name)
	if i >= 0 {
		out := s
		out.Fields = append([]schema.Field(nil), s.Fields...)
		out.Fields[i].Type = t
		return out
	}
	out := s
	out.Fields = append(append([]schema.Field(nil), s.Fields...), schema.Field{Name: name, Type: t})
	return out
}

func aggregateResultType(a AggregateSpec, in schema.Schema) (schema.DataType, error) {
	if a.Function == "count" {
		return schema.Int64, nil
	}
	if a.Input == nil {
		return schema.DataType{}, &errkind.TypeInferenceError{Node: a.Function, Reason: "requires an input expression"}
	}
	t, err := typeOf(a.Input, in)
	if err != nil {
		return schema.DataType{}, err
	}
	switch a.Function {
	case "sum", "min", "max":
		return t, nil
	case "avg", "median":
		return schema.Float64, nil
	case "array_collect":
		return schema.VarBinary, nil
	case "count_min_sketch":
		return schema.VarBinary, nil
	default:
		return schema.DataType{}, &errkind.TypeInferenceError{Node: a.Function, Reason: "unsupported aggregation function"}
	}
}

// typeOf recursively assigns and returns the DataType of e under input
// schema s, implementing the promotion and comparison rules of spec
// §4.1.
func typeOf(e Expr, s schema.Schema) (schema.DataType, error) {
	switch x := e.(type) {
	case *FieldAccess:
		f, ok := s.Field(x.Name)
		if !ok {
			return schema.DataType{}, &errkind.UnknownFieldError{Field: x.Name}
		}
		x.setType(f.Type)
		return f.Type, nil

	case *Literal:
		return x.Type(), nil

	case *Star:
		return schema.DataType{}, nil

	case *Unary:
		it, err := typeOf(x.Inner, s)
		if err != nil {
			return schema.DataType{}, err
		}
		t, err := schema.PromoteRounding(it)
		if err != nil {
			return schema.DataType{}, &errkind.TypeInferenceError{Node: x.String(), Reason: err.Error()}
		}
		x.setType(t)
		return t, nil

	case *Binary:
		lt, err := typeOf(x.Left, s)
		if err != nil {
			return schema.DataType{}, err
		}
		rt, err := typeOf(x.Right, s)
		if err != nil {
			return schema.DataType{}, err
		}
		var t schema.DataType
		switch {
		case x.Op.isComparison():
			t = schema.Bool
		case x.Op.isLogical():
			if lt != schema.Bool || rt != schema.Bool {
				return schema.DataType{}, &errkind.TypeInferenceError{Node: x.String(), Reason: "logical operator requires boolean operands"}
			}
			t = schema.Bool
		default:
			t, err = schema.PromoteArithmetic(lt, rt)
			if err != nil {
				return schema.DataType{}, &errkind.TypeInferenceError{Node: x.String(), Reason: err.Error()}
			}
		}
		x.setType(t)
		return t, nil

	default:
		return schema.DataType{}, &errkind.TypeInferenceError{Node: "?", Reason: "unsupported expression node"}
	}
}
