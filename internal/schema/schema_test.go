package schema

import "testing"

func TestSerializeRoundTrip(t *testing.T) {
	s := New(
		Field{Name: "id", Type: Uint32},
		Field{Name: "v", Type: Int64},
		Field{Name: "name", Type: VarBinary},
	).WithLayout(Row)

	enc := s.Serialize()
	got, err := Deserialize(enc)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !got.Equal(s) || got.Layout != s.Layout {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
}

func TestProjectIdempotent(t *testing.T) {
	s := New(Field{Name: "a", Type: Int32}, Field{Name: "b", Type: Int32}, Field{Name: "c", Type: Int32})
	once, err := s.Project([]string{"a", "c"})
	if err != nil {
		t.Fatal(err)
	}
	twice, err := once.Project([]string{"a", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if !once.Equal(twice) {
		t.Fatalf("Projection(cols) twice != once: %+v vs %+v", once, twice)
	}
}

func TestProjectUnknownField(t *testing.T) {
	s := New(Field{Name: "a", Type: Int32})
	if _, err := s.Project([]string{"missing"}); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestPromoteArithmetic(t *testing.T) {
	got, err := PromoteArithmetic(Int32, Float64)
	if err != nil || got != Float64 {
		t.Fatalf("int+float should promote to float64, got %v, %v", got, err)
	}
	got, err = PromoteArithmetic(Int32, Int64)
	if err != nil || got != Int64 {
		t.Fatalf("int32+int64 should widen to int64, got %v, %v", got, err)
	}
}
