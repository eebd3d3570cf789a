package codegen

import (
	"testing"

	"github.com/flowmesh/streamcore/codegen/ir"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/physical"
)

func TestTraceSelectionProducesBranch(t *testing.T) {
	scan := &physical.Operator{Kind: physical.KindScan, Schema: schema.New(
		schema.Field{Name: "amount", Type: schema.Int32},
	)}
	sel := &physical.Operator{
		Kind:      physical.KindSelection,
		Inputs:    []*physical.Operator{scan},
		Predicate: logical.Bin(logical.OpGt, logical.Field("amount"), logical.IntLiteral(schema.Int32, 0)),
	}

	g, err := Trace(sel)
	if err != nil {
		t.Fatal(err)
	}
	var sawBranch bool
	for _, b := range g.Blocks {
		for _, v := range b.Values {
			if v.Op == ir.OpBranch {
				sawBranch = true
			}
		}
	}
	if !sawBranch {
		t.Fatal("expected Selection to trace to a branch")
	}
}

func TestTraceMapAndProjection(t *testing.T) {
	scan := &physical.Operator{Kind: physical.KindScan, Schema: schema.New(
		schema.Field{Name: "amount", Type: schema.Int32},
	)}
	m := &physical.Operator{
		Kind:      physical.KindMap,
		Inputs:    []*physical.Operator{scan},
		MapResult: "doubled",
		MapExpr:   logical.Bin(logical.OpMul, logical.Field("amount"), logical.IntLiteral(schema.Int32, 2)),
	}
	proj := &physical.Operator{Kind: physical.KindProjection, Inputs: []*physical.Operator{m}, ProjectCols: []string{"doubled"}}

	g, err := Trace(proj)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Blocks) == 0 || len(g.Blocks[0].Values) == 0 {
		t.Fatal("expected a non-empty trace")
	}
}
