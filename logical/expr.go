// Package logical implements spec §4.1: ingestion of a deserialized
// logical operator graph, schema propagation and type inference, and
// the node kinds the rewrite pipeline in package rules operates on.
package logical

import (
	"fmt"

	"github.com/flowmesh/streamcore/internal/schema"
)

// BinOp is a binary expression operator.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
)

func (op BinOp) isComparison() bool {
	switch op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		return true
	default:
		return false
	}
}

func (op BinOp) isLogical() bool { return op == OpAnd || op == OpOr }

// UnaryFn is a unary rounding function; per spec §4.1 these promote
// an integer operand to float.
type UnaryFn int

const (
	FnCeil UnaryFn = iota
	FnFloor
	FnRound
)

// Expr is an expression node of the logical plan. Every node carries
// the DataType InferSchema assigned to it; Type is the zero DataType
// until inference has run.
type Expr interface {
	exprNode()
	Type() schema.DataType
	setType(schema.DataType)
	String() string
}

type exprBase struct {
	typ schema.DataType
}

func (e *exprBase) exprNode()                {}
func (e *exprBase) Type() schema.DataType     { return e.typ }
func (e *exprBase) setType(t schema.DataType) { e.typ = t }

// FieldAccess resolves a field by name from the current input schema.
type FieldAccess struct {
	exprBase
	Name string
}

func Field(name string) *FieldAccess { return &FieldAccess{Name: name} }

func (f *FieldAccess) String() string { return f.Name }

// Literal is a constant value.
type Literal struct {
	exprBase
	I     int64
	F     float64
	Bytes []byte
}

func IntLiteral(t schema.DataType, v int64) *Literal {
	return &Literal{exprBase: exprBase{typ: t}, I: v}
}

func FloatLiteral(v float64) *Literal {
	return &Literal{exprBase: exprBase{typ: schema.Float64}, F: v}
}

func (l *Literal) String() string {
	if l.typ.IsFloat() {
		return fmt.Sprintf("%v", l.F)
	}
	return fmt.Sprintf("%v", l.I)
}

// Binary is a binary operator expression.
type Binary struct {
	exprBase
	Op          BinOp
	Left, Right Expr
}

func Bin(op BinOp, l, r Expr) *Binary { return &Binary{Op: op, Left: l, Right: r} }

func (b *Binary) String() string { return fmt.Sprintf("(%s %d %s)", b.Left, b.Op, b.Right) }

// Unary is a unary rounding function application.
type Unary struct {
	exprBase
	Fn    UnaryFn
	Inner Expr
}

func Round(fn UnaryFn, inner Expr) *Unary { return &Unary{Fn: fn, Inner: inner} }

func (u *Unary) String() string { return fmt.Sprintf("fn%d(%s)", u.Fn, u.Inner) }

// Star represents COUNT(*)-style wildcard arguments.
type Star struct{ exprBase }

func (s *Star) String() string { return "*" }

// Equals reports structural (post-inference) equality of two
// expressions.
func Equals(a, b Expr) bool {
	switch x := a.(type) {
	case *FieldAccess:
		y, ok := b.(*FieldAccess)
		return ok && x.Name == y.Name
	case *Literal:
		y, ok := b.(*Literal)
		return ok && x.I == y.I && x.F == y.F && string(x.Bytes) == string(y.Bytes)
	case *Binary:
		y, ok := b.(*Binary)
		return ok && x.Op == y.Op && Equals(x.Left, y.Left) && Equals(x.Right, y.Right)
	case *Unary:
		y, ok := b.(*Unary)
		return ok && x.Fn == y.Fn && Equals(x.Inner, y.Inner)
	case *Star:
		_, ok := b.(*Star)
		return ok
	default:
		return false
	}
}

// Walk calls fn on e and recursively on every child expression.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch x := e.(type) {
	case *Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *Unary:
		Walk(x.Inner, fn)
	}
}
