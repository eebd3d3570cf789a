package join

import (
	"testing"

	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/runtime/window"
)

func leftSchema() schema.Schema {
	return schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "amount", Type: schema.Float64},
	)
}

func rightSchema() schema.Schema {
	return schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "label", Type: schema.VarBinary},
	)
}

func leftRow(id int64, amount float64) record.Record {
	return record.Record{Schema: leftSchema(), Values: []record.Value{
		record.Int(schema.Int64, id), record.Float(schema.Float64, amount),
	}}
}

func rightRow(id int64, label string) record.Record {
	return record.Record{Schema: rightSchema(), Values: []record.Value{
		record.Int(schema.Int64, id), record.Bytes(schema.VarBinary, []byte(label)),
	}}
}

func TestOutputSchemaPrependsWindowBounds(t *testing.T) {
	out := OutputSchema(leftSchema(), rightSchema())
	want := []string{"windowStart", "windowEnd", "id", "amount", "id", "label"}
	if len(out.Fields) != len(want) {
		t.Fatalf("field count = %d, want %d", len(out.Fields), len(want))
	}
	for i, name := range want {
		if out.Fields[i].Name != name {
			t.Fatalf("field %d = %q, want %q", i, out.Fields[i].Name, name)
		}
	}
}

func TestNLJMatchesUnderGeneralPredicate(t *testing.T) {
	pred := logical.Bin(logical.OpGt, logical.Field("amount"), logical.Field("id"))
	j := NewNLJ(pred, leftSchema(), rightSchema())
	s := window.Slice{Start: 0, End: 100}

	j.BuildLeft(s, 0, leftRow(1, 50))
	j.BuildLeft(s, 1, leftRow(2, 1))
	j.BuildRight(s, 0, rightRow(10, "a"))

	out, err := j.Probe(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("matches = %d, want 1 (only amount=50 > id=1; id resolves against the left row first)", len(out))
	}
	if out[0].Schema.Fields[0].Name != "windowStart" {
		t.Fatalf("output schema not windowed: %v", out[0].Schema.Fields[0])
	}
}

func TestNLJProbeEmptySliceReturnsNil(t *testing.T) {
	pred := logical.Bin(logical.OpEq, logical.Field("id"), logical.Field("id"))
	j := NewNLJ(pred, leftSchema(), rightSchema())
	out, err := j.Probe(window.Slice{Start: 0, End: 10})
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected nil for a slice with no build rows, got %v", out)
	}
}

func TestHashJoinEquiMatch(t *testing.T) {
	j := NewHashJoin("id", "id", leftSchema(), rightSchema())
	s := window.Slice{Start: 0, End: 100}

	j.BuildLeft(s, 0, leftRow(1, 10))
	j.BuildLeft(s, 1, leftRow(2, 20))
	j.BuildRight(s, 0, rightRow(2, "matches-2"))
	j.BuildRight(s, 1, rightRow(3, "matches-nothing"))

	j.Finalize(s)

	out, err := j.Probe(s, leftRow(2, 20), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("matches for id=2 = %d, want 1", len(out))
	}

	none, err := j.Probe(s, leftRow(99, 0), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("matches for id=99 = %d, want 0", len(none))
	}
}

func TestHashJoinProbeFromRightSide(t *testing.T) {
	j := NewHashJoin("id", "id", leftSchema(), rightSchema())
	s := window.Slice{Start: 0, End: 100}
	j.BuildLeft(s, 0, leftRow(5, 1))
	j.BuildRight(s, 0, rightRow(5, "five"))
	j.Finalize(s)

	out, err := j.Probe(s, rightRow(5, "five"), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("matches = %d, want 1", len(out))
	}
}

func TestHashJoinFinalizeIsIdempotent(t *testing.T) {
	j := NewHashJoin("id", "id", leftSchema(), rightSchema())
	s := window.Slice{Start: 0, End: 100}
	j.BuildLeft(s, 0, leftRow(1, 1))
	j.BuildRight(s, 0, rightRow(1, "x"))
	j.Finalize(s)
	j.Finalize(s)
	out, err := j.Probe(s, leftRow(1, 1), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("matches after double finalize = %d, want 1", len(out))
	}
}

func TestHashJoinMissingKeyFieldErrors(t *testing.T) {
	j := NewHashJoin("nope", "id", leftSchema(), rightSchema())
	s := window.Slice{Start: 0, End: 10}
	if err := j.BuildLeft(s, 0, leftRow(1, 1)); err == nil {
		t.Fatal("expected error for missing key field")
	}
}
