package record

import (
	"testing"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/schema"
)

func TestRowProviderWriteRead(t *testing.T) {
	s := schema.New(
		schema.Field{Name: "id", Type: schema.Uint32},
		schema.Field{Name: "v", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.VarBinary},
	)
	pool := buffer.NewPool(4096, 1)
	buf, err := pool.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	p := NewRowProvider(s)
	rec := Record{
		Schema: s,
		Values: []Value{
			Int(schema.Uint32, 42),
			Int(schema.Int64, -7),
			Bytes(schema.VarBinary, []byte("hello")),
		},
	}
	ok, err := p.Write(buf, 0, rec)
	if err != nil || !ok {
		t.Fatalf("write failed: %v %v", ok, err)
	}

	got, err := p.Read(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := got.Field("id"); v.AsInt64() != 42 {
		t.Fatalf("id = %d", v.AsInt64())
	}
	if v, _ := got.Field("v"); v.AsInt64() != -7 {
		t.Fatalf("v = %d", v.AsInt64())
	}
	if v, _ := got.Field("name"); string(v.S) != "hello" {
		t.Fatalf("name = %q", v.S)
	}
}

func TestColumnProviderWriteRead(t *testing.T) {
	s := schema.New(
		schema.Field{Name: "x", Type: schema.Float64},
		schema.Field{Name: "y", Type: schema.Int32},
	).WithLayout(schema.Column)

	pool := buffer.NewPool(4096, 1)
	buf, err := pool.Acquire(1)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	p := NewColumnProvider(s, 8)
	for i := 0; i < 3; i++ {
		rec := Record{Schema: s, Values: []Value{
			Float(schema.Float64, float64(i) * 1.5),
			Int(schema.Int32, int64(i)),
		}}
		if ok, err := p.Write(buf, i, rec); err != nil || !ok {
			t.Fatalf("write %d failed: %v %v", i, ok, err)
		}
	}
	for i := 0; i < 3; i++ {
		rec, err := p.Read(buf, i)
		if err != nil {
			t.Fatal(err)
		}
		if v, _ := rec.Field("x"); v.AsFloat64() != float64(i)*1.5 {
			t.Fatalf("x[%d] = %v", i, v.AsFloat64())
		}
	}
}

func TestRecordWith(t *testing.T) {
	s := schema.New(schema.Field{Name: "a", Type: schema.Int32})
	rec := Record{Schema: s, Values: []Value{Int(schema.Int32, 1)}}
	updated := rec.With("a", Int(schema.Int32, 2))
	if v, _ := updated.Field("a"); v.AsInt64() != 2 {
		t.Fatalf("expected overwritten value 2, got %d", v.AsInt64())
	}
	appended := rec.With("b", Int(schema.Int32, 3))
	if v, _ := appended.Field("b"); v.AsInt64() != 3 {
		t.Fatalf("expected appended field b=3")
	}
	if len(rec.Values) != 1 {
		t.Fatal("With must not mutate the receiver")
	}
}
