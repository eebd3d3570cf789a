package join

import (
	"fmt"
	"math"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
)

func evalBin(op logical.BinOp, l, r record.Value) (record.Value, error) {
	switch op {
	case logical.OpAnd:
		return record.Bool(l.AsBool() && r.AsBool()), nil
	case logical.OpOr:
		return record.Bool(l.AsBool() || r.AsBool()), nil
	case logical.OpEq, logical.OpNeq, logical.OpLt, logical.OpLte, logical.OpGt, logical.OpGte:
		return compareValues(op, l, r), nil
	case logical.OpAdd, logical.OpSub, logical.OpMul, logical.OpDiv:
		return arithValues(op, l, r)
	default:
		return record.Value{}, fmt.Errorf("%w: unsupported join predicate operator %d", errkind.ErrRuntimeOperator, op)
	}
}

func compareValues(op logical.BinOp, l, r record.Value) record.Value {
	if l.Type.IsVariableSized() || r.Type.IsVariableSized() {
		cmp := compareBytes(l.S, r.S)
		return record.Bool(applyCmp(op, cmp))
	}
	a, b := l.AsFloat64(), r.AsFloat64()
	var cmp int
	switch {
	case a < b:
		cmp = -1
	case a > b:
		cmp = 1
	}
	return record.Bool(applyCmp(op, cmp))
}

func applyCmp(op logical.BinOp, cmp int) bool {
	switch op {
	case logical.OpEq:
		return cmp == 0
	case logical.OpNeq:
		return cmp != 0
	case logical.OpLt:
		return cmp < 0
	case logical.OpLte:
		return cmp <= 0
	case logical.OpGt:
		return cmp > 0
	case logical.OpGte:
		return cmp >= 0
	default:
		return false
	}
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

func arithValues(op logical.BinOp, l, r record.Value) (record.Value, error) {
	typ, err := schema.PromoteArithmetic(l.Type, r.Type)
	if err != nil {
		return record.Value{}, err
	}
	if typ.IsFloat() {
		a, b := l.AsFloat64(), r.AsFloat64()
		switch op {
		case logical.OpAdd:
			return record.Float(typ, a+b), nil
		case logical.OpSub:
			return record.Float(typ, a-b), nil
		case logical.OpMul:
			return record.Float(typ, a*b), nil
		case logical.OpDiv:
			return record.Float(typ, a/b), nil
		}
	}
	a, b := l.AsInt64(), r.AsInt64()
	switch op {
	case logical.OpAdd:
		return record.Int(typ, a+b), nil
	case logical.OpSub:
		return record.Int(typ, a-b), nil
	case logical.OpMul:
		return record.Int(typ, a*b), nil
	case logical.OpDiv:
		if b == 0 {
			return record.Value{}, fmt.Errorf("%w: division by zero", errkind.ErrRuntimeOperator)
		}
		return record.Int(typ, a/b), nil
	}
	return record.Value{}, fmt.Errorf("%w: unreachable arithmetic operator %d", errkind.ErrRuntimeOperator, op)
}

func evalUnary(fn logical.UnaryFn, v record.Value) (record.Value, error) {
	f := v.AsFloat64()
	switch fn {
	case logical.FnCeil:
		return record.Float(schema.Float64, math.Ceil(f)), nil
	case logical.FnFloor:
		return record.Float(schema.Float64, math.Floor(f)), nil
	case logical.FnRound:
		return record.Float(schema.Float64, math.Round(f)), nil
	default:
		return record.Value{}, fmt.Errorf("%w: unknown rounding function %d", errkind.ErrRuntimeOperator, fn)
	}
}
