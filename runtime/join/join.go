// Package join implements spec §4.7: the nested-loop join (NLJ) used
// for general join predicates and the partitioned hash join used for a
// single left-field = right-field equality (a conjunction of equalities
// is joined by the NLJ), both windowed and keyed by slice
// the way runtime/window shards aggregation state.
package join

import (
	"fmt"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/runtime/window"
)

// OutputSchema concatenates windowStart, windowEnd, the left schema's
// fields and the right schema's fields, per spec §4.7.
func OutputSchema(left, right schema.Schema) schema.Schema {
	fields := make([]schema.Field, 0, 2+len(left.Fields)+len(right.Fields))
	fields = append(fields,
		schema.Field{Name: "windowStart", Type: schema.Int64},
		schema.Field{Name: "windowEnd", Type: schema.Int64},
	)
	fields = append(fields, left.Fields...)
	fields = append(fields, right.Fields...)
	return schema.New(fields...)
}

// combine builds the output record for a matched left/right pair
// within slice s.
func combine(s window.Slice, left, right record.Record, out schema.Schema) record.Record {
	vals := make([]record.Value, 0, len(out.Fields))
	vals = append(vals, record.Int(schema.Int64, s.Start), record.Int(schema.Int64, s.End))
	vals = append(vals, left.Values...)
	vals = append(vals, right.Values...)
	return record.Record{Schema: out, Values: vals}
}

// evalPredicate evaluates a logical.Expr join predicate against a
// joined left/right row, resolving FieldAccess against left first,
// then right. It mirrors the arithmetic and comparison semantics
// package rules applies at plan-rewrite time (rules/constant_folding.go)
// but operates on live record.Value instead of literal folding.
func evalPredicate(e logical.Expr, left, right record.Record) (bool, error) {
	v, err := evalExpr(e, left, right)
	if err != nil {
		return false, err
	}
	return v.AsBool(), nil
}

// Eval evaluates e against a single record, the single-sided case of
// evalExpr (FieldAccess checks rec only). Package query reuses it to
// evaluate a Selection predicate, Map expression or WatermarkAssigner
// event-time expression while walking a window breaker's fused input
// chain, rather than re-implementing the same arithmetic and
// comparison semantics a second time.
func Eval(e logical.Expr, rec record.Record) (record.Value, error) {
	return evalExpr(e, rec, record.Record{})
}

func evalExpr(e logical.Expr, left, right record.Record) (record.Value, error) {
	switch x := e.(type) {
	case *logical.Literal:
		if x.Type().IsFloat() {
			return record.Float(x.Type(), x.F), nil
		}
		return record.Int(x.Type(), x.I), nil
	case *logical.FieldAccess:
		if v, ok := left.Field(x.Name); ok {
			return v, nil
		}
		if v, ok := right.Field(x.Name); ok {
			return v, nil
		}
		return record.Value{}, fmt.Errorf("%w: join predicate references unknown field %q", errkind.ErrRuntimeOperator, x.Name)
	case *logical.Binary:
		l, err := evalExpr(x.Left, left, right)
		if err != nil {
			return record.Value{}, err
		}
		r, err := evalExpr(x.Right, left, right)
		if err != nil {
			return record.Value{}, err
		}
		return evalBin(x.Op, l, r)
	case *logical.Unary:
		v, err := evalExpr(x.Inner, left, right)
		if err != nil {
			return record.Value{}, err
		}
		return evalUnary(x.Fn, v)
	default:
		return record.Value{}, fmt.Errorf("%w: unsupported join predicate expression %T", errkind.ErrRuntimeOperator, e)
	}
}
