package logical

import (
	"errors"
	"testing"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/schema"
)

func sourceSchema() schema.Schema {
	return schema.New(
		schema.Field{Name: "user", Type: schema.VarBinary},
		schema.Field{Name: "amount", Type: schema.Int32},
		schema.Field{Name: "ts", Type: schema.Int64},
	)
}

func TestInferSchemaFilterWatermarkWindow(t *testing.T) {
	src := NewSource(1, sourceSchema())
	filt := &Operator{Kind: KindFilter, Inputs: []*Operator{src}, Predicate: Bin(OpGt, Field("amount"), IntLiteral(schema.Int32, 0))}
	wm := &Operator{Kind: KindWatermarkAssigner, Inputs: []*Operator{filt}, EventTimeExpr: Field("ts")}
	agg := &Operator{
		Kind:       KindWindowAggregate,
		Inputs:     []*Operator{wm},
		Window:     WindowSpec{Kind: WindowTumbling, Size: 1000},
		GroupBy:    []string{"user"},
		Aggregates: []AggregateSpec{{Function: "sum", Input: Field("amount"), Result: "total"}},
	}

	out, err := InferSchema(agg)
	if err != nil {
		t.Fatalf("InferSchema: %v", err)
	}
	f, ok := out.OutputSchema.Field("total")
	if !ok || f.Type != schema.Int32 {
		t.Fatalf("total field = %+v, ok=%v", f, ok)
	}
	if _, ok := out.OutputSchema.Field("windowStart"); !ok {
		t.Fatal("missing windowStart")
	}
}

func TestInferSchemaIdempotent(t *testing.T) {
	src := NewSource(1, sourceSchema())
	filt := &Operator{Kind: KindFilter, Inputs: []*Operator{src}, Predicate: Bin(OpGt, Field("amount"), IntLiteral(schema.Int32, 0))}

	first, err := InferSchema(filt)
	if err != nil {
		t.Fatal(err)
	}
	second, err := InferSchema(first)
	if err != nil {
		t.Fatal(err)
	}
	if !first.OutputSchema.Equal(second.OutputSchema) {
		t.Fatal("InferSchema is not idempotent")
	}
}

func TestInferSchemaUnknownField(t *testing.T) {
	src := NewSource(1, sourceSchema())
	filt := &Operator{Kind: KindFilter, Inputs: []*Operator{src}, Predicate: Bin(OpGt, Field("nope"), IntLiteral(schema.Int32, 0))}

	_, err := InferSchema(filt)
	var uf *errkind.UnknownFieldError
	if !errors.As(err, &uf) {
		t.Fatalf("expected UnknownFieldError, got %v", err)
	}
}

func TestInferSchemaFilterNonBoolPredicate(t *testing.T) {
	src := NewSource(1, sourceSchema())
	filt := &Operator{Kind: KindFilter, Inputs: []*Operator{src}, Predicate: Field("amount")}

	_, err := InferSchema(filt)
	var te *errkind.TypeInferenceError
	if !errors.As(err, &te) {
		t.Fatalf("expected TypeInferenceError, got %v", err)
	}
}

func TestInferSchemaUnionMismatch(t *testing.T) {
	a := NewSource(1, sourceSchema())
	b := NewSource(2, schema.New(schema.Field{Name: "x", Type: schema.Int32}))
	u := &Operator{Kind: KindUnion, Inputs: []*Operator{a, b}}

	_, err := InferSchema(u)
	if !errors.Is(err, errkind.ErrTypeInference) {
		t.Fatalf("expected ErrTypeInference, got %v", err)
	}
}
