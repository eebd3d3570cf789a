package rules

import (
	"math"

	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
)

// constantFoldingRule evaluates Binary and Unary expressions whose
// operands are already Literals, replacing them with a single
// Literal. It never changes an expression's value, only its shape, so
// it is always safe to apply and cannot un-converge a fixed point.
type constantFoldingRule struct{}

func (constantFoldingRule) Name() string { return "constantFolding" }

func (r constantFoldingRule) Apply(root *logical.Operator) (*logical.Operator, bool) {
	changed := false
	logical.WalkOperators(root, func(o *logical.Operator) {
		if n := foldExpr(o.Predicate); n != o.Predicate {
			o.Predicate = n
			changed = true
		}
		if n := foldExpr(o.MapExpr); n != o.MapExpr {
			o.MapExpr = n
			changed = true
		}
		for i, a := range o.Aggregates {
			if n := foldExpr(a.Input); n != a.Input {
				o.Aggregates[i].Input = n
				changed = true
			}
		}
	})
	return root, changed
}

// foldExpr returns a folded copy of e, or e itself if nothing changed.
func foldExpr(e logical.Expr) logical.Expr {
	switch x := e.(type) {
	case *logical.Binary:
		l := foldExpr(x.Left)
		r := foldExpr(x.Right)
		lLit, lok := l.(*logical.Literal)
		rLit, rok := r.(*logical.Literal)
		if lok && rok {
			if folded, ok := evalBinary(x.Op, lLit, rLit); ok {
				return folded
			}
		}
		if l != x.Left || r != x.Right {
			return logical.Bin(x.Op, l, r)
		}
		return x
	case *logical.Unary:
		inner := foldExpr(x.Inner)
		if lit, ok := inner.(*logical.Literal); ok {
			if folded, ok := evalUnary(x.Fn, lit); ok {
				return folded
			}
		}
		if inner != x.Inner {
			return logical.Round(x.Fn, inner)
		}
		return x
	default:
		return e
	}
}

func litFloat(l *logical.Literal) (float64, bool) {
	if l.Type().IsFloat() {
		return l.F, true
	}
	if l.Type().IsInteger() {
		return float64(l.I), true
	}
	return 0, false
}

func evalBinary(op logical.BinOp, l, r *logical.Literal) (*logical.Literal, bool) {
	if op == logical.OpAnd || op == logical.OpOr {
		return nil, false // boolean literals aren't represented distinctly here
	}
	lf, lok := litFloat(l)
	rf, rok := litFloat(r)
	if !lok || !rok {
		return nil, false
	}
	bothInt := l.Type().IsInteger() && r.Type().IsInteger()
	switch op {
	case logical.OpAdd:
		if bothInt {
			return logical.IntLiteral(schema.Int64, l.I+r.I), true
		}
		return logical.FloatLiteral(lf + rf), true
	case logical.OpSub:
		if bothInt {
			return logical.IntLiteral(schema.Int64, l.I-r.I), true
		}
		return logical.FloatLiteral(lf - rf), true
	case logical.OpMul:
		if bothInt {
			return logical.IntLiteral(schema.Int64, l.I*r.I), true
		}
		return logical.FloatLiteral(lf * rf), true
	case logical.OpDiv:
		if rf == 0 {
			return nil, false
		}
		return logical.FloatLiteral(lf / rf), true
	default:
		return nil, false // comparisons: no boolean literal kind to fold into
	}
}

func evalUnary(fn logical.UnaryFn, l *logical.Literal) (*logical.Literal, bool) {
	f, ok := litFloat(l)
	if !ok {
		return nil, false
	}
	switch fn {
	case logical.FnCeil:
		return logical.FloatLiteral(math.Ceil(f)), true
	case logical.FnFloor:
		return logical.FloatLiteral(math.Floor(f)), true
	case logical.FnRound:
		return logical.FloatLiteral(math.Round(f)), true
	default:
		return nil, false
	}
}
