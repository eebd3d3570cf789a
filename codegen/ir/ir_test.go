package ir

import (
	"strings"
	"testing"

	"github.com/flowmesh/streamcore/internal/schema"
)

func TestGraphDumpRendersBlocksAndReturns(t *testing.T) {
	g := NewGraph()
	c := g.Emit(g.Entry, Value{Op: OpConst, Type: schema.Int64, ConstI: 7})
	f := g.Emit(g.Entry, Value{Op: OpFieldLoad, Type: schema.Int64, FieldName: "amount"})
	add := g.Emit(g.Entry, Value{Op: OpAdd, Type: schema.Int64, Args: []ValueID{c, f}})
	g.Emit(g.Entry, Value{Op: OpReturn})
	g.OutSchema = schema.New(schema.Field{Name: "total", Type: schema.Int64})
	g.OutFields = []ValueID{add}

	var buf strings.Builder
	if err := g.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"const", "fieldload", "field=\"amount\"", "add", "return[0] = v"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump = %q, want it to contain %q", out, want)
		}
	}
}

func TestOpStringNamesKnownOps(t *testing.T) {
	if OpAdd.String() != "add" {
		t.Fatalf("OpAdd.String() = %q, want add", OpAdd.String())
	}
	if OpCall.String() != "call" {
		t.Fatalf("OpCall.String() = %q, want call", OpCall.String())
	}
}
