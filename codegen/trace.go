// Package codegen implements spec §4.3: a tracing front-end that
// records the operations a fused physical pipeline performs per
// record into an ir.Graph, and the Backend interface pluggable
// lowering targets compile that graph against.
package codegen

import (
	"fmt"

	"github.com/flowmesh/streamcore/codegen/ir"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/physical"
)

// Trace symbolically executes stage's fused operator chain exactly
// once, recording every primitive operation it performs into an SSA
// graph (spec §4.3's "tracing front-end"). Only the Selection, Map,
// Projection, Union and WatermarkAssigner kinds appear inside a fused
// chain (spec §4.2); WindowBuild/WindowProbe are traced separately by
// their own handler, referenced here through OpCall.
func Trace(stage *physical.Operator) (*ir.Graph, error) {
	g := ir.NewGraph()
	tr := &tracer{g: g, block: g.Entry, fields: map[string]ir.ValueID{}, types: map[string]schema.DataType{}}
	if err := tr.walk(stage); err != nil {
		return nil, fmt.Errorf("codegen: trace: %w", err)
	}
	g.Emit(tr.block, ir.Value{Op: ir.OpReturn})

	fields := make([]schema.Field, len(tr.order))
	ids := make([]ir.ValueID, len(tr.order))
	for i, name := range tr.order {
		fields[i] = schema.Field{Name: name, Type: tr.types[name]}
		ids[i] = tr.fields[name]
	}
	g.OutSchema = schema.New(fields...)
	g.OutFields = ids
	return g, nil
}

type tracer struct {
	g      *ir.Graph
	block  int
	fields map[string]ir.ValueID      // last known SSA value per field name
	types  map[string]schema.DataType // last known type per field name
	order  []string                   // output field order, live fields only
}

func (t *tracer) walk(o *physical.Operator) error {
	if o == nil {
		return nil
	}
	for _, in := range o.Inputs {
		if err := t.walk(in); err != nil {
			return err
		}
	}
	switch o.Kind {
	case physical.KindScan:
		for _, f := range o.Schema.Fields {
			t.fields[f.Name] = t.g.Emit(t.block, ir.Value{Op: ir.OpFieldLoad, Type: f.Type, FieldName: f.Name})
			if _, ok := t.types[f.Name]; !ok {
				t.order = append(t.order, f.Name)
			}
			t.types[f.Name] = f.Type
		}
		return nil

	case physical.KindSelection:
		cond, err := t.expr(o.Predicate)
		if err != nil {
			return err
		}
		trueBlock := t.g.NewBlock()
		falseBlock := t.g.NewBlock()
		t.g.Emit(t.block, ir.Value{Op: ir.OpBranch, Args: []ir.ValueID{cond}, TrueBlock: trueBlock, FalseBlock: falseBlock})
		t.g.Emit(falseBlock, ir.Value{Op: ir.OpReturn})
		t.block = trueBlock
		return nil

	case physical.KindMap:
		v, err := t.expr(o.MapExpr)
		if err != nil {
			return err
		}
		if _, ok := t.types[o.MapResult]; !ok {
			t.order = append(t.order, o.MapResult)
		}
		if val, ok := t.g.Lookup(v); ok {
			t.types[o.MapResult] = val.Type
		}
		t.fields[o.MapResult] = v
		return nil

	case physical.KindProjection:
		kept := map[string]ir.ValueID{}
		var keptOrder []string
		for _, c := range o.ProjectCols {
			if v, ok := t.fields[c]; ok {
				kept[c] = v
				keptOrder = append(keptOrder, c)
			}
		}
		t.fields = kept
		t.order = keptOrder
		return nil

	case physical.KindUnion:
		return nil

	case physical.KindWatermarkAssigner:
		if o.EventTimeExpr != nil {
			if _, err := t.expr(o.EventTimeExpr); err != nil {
				return err
			}
		}
		return nil

	case physical.KindWindowBuild:
		t.g.Emit(t.block, ir.Value{Op: ir.OpCall, CallTarget: "windowBuild.route"})
		return nil

	default:
		return fmt.Errorf("cannot trace operator kind %v inside a fused chain", o.Kind)
	}
}

func (t *tracer) expr(e logical.Expr) (ir.ValueID, error) {
	switch x := e.(type) {
	case *logical.FieldAccess:
		v, ok := t.fields[x.Name]
		if !ok {
			return 0, fmt.Errorf("field %q not in scope during trace", x.Name)
		}
		return v, nil

	case *logical.Literal:
		val := ir.Value{Op: ir.OpConst, Type: x.Type()}
		if x.Type().IsFloat() {
			val.ConstF = x.F
		} else {
			val.ConstI = x.I
		}
		val.ConstS = x.Bytes
		return t.g.Emit(t.block, val), nil

	case *logical.Binary:
		l, err := t.expr(x.Left)
		if err != nil {
			return 0, err
		}
		r, err := t.expr(x.Right)
		if err != nil {
			return 0, err
		}
		op, t2, err := binOp(x.Op)
		if err != nil {
			return 0, err
		}
		return t.g.Emit(t.block, ir.Value{Op: op, Type: t2, Args: []ir.ValueID{l, r}}), nil

	case *logical.Unary:
		inner, err := t.expr(x.Inner)
		if err != nil {
			return 0, err
		}
		return t.g.Emit(t.block, ir.Value{Op: ir.OpCall, Type: schema.Float64, CallTarget: roundFn(x.Fn), Args: []ir.ValueID{inner}}), nil

	default:
		return 0, fmt.Errorf("unsupported expression node %T in trace", e)
	}
}

func binOp(op logical.BinOp) (ir.Op, schema.DataType, error) {
	switch op {
	case logical.OpAdd:
		return ir.OpAdd, schema.Int64, nil
	case logical.OpSub:
		return ir.OpSub, schema.Int64, nil
	case logical.OpMul:
		return ir.OpMul, schema.Int64, nil
	case logical.OpDiv:
		return ir.OpDiv, schema.Float64, nil
	case logical.OpEq:
		return ir.OpCmpEq, schema.Bool, nil
	case logical.OpNeq:
		return ir.OpCmpNeq, schema.Bool, nil
	case logical.OpLt:
		return ir.OpCmpLt, schema.Bool, nil
	case logical.OpLte:
		return ir.OpCmpLte, schema.Bool, nil
	case logical.OpGt:
		return ir.OpCmpGt, schema.Bool, nil
	case logical.OpGte:
		return ir.OpCmpGte, schema.Bool, nil
	case logical.OpAnd:
		return ir.OpAnd, schema.Bool, nil
	case logical.OpOr:
		return ir.OpOr, schema.Bool, nil
	default:
		return 0, schema.DataType{}, fmt.Errorf("unsupported binary operator %d", op)
	}
}

func roundFn(fn logical.UnaryFn) string {
	switch fn {
	case logical.FnCeil:
		return "math.ceil"
	case logical.FnFloor:
		return "math.floor"
	default:
		return "math.round"
	}
}
