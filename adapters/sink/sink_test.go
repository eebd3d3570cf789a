package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

func testSchema() schema.Schema {
	return schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "v", Type: schema.Float64},
	)
}

func fillTestBuffer(t *testing.T, s schema.Schema, rows [][2]float64) *buffer.TupleBuffer {
	t.Helper()
	pool := buffer.NewPool(4096, 2)
	buf, err := pool.Acquire(0)
	if err != nil {
		t.Fatal(err)
	}
	provider := record.NewRowProvider(s.WithLayout(schema.Row))
	for i, row := range rows {
		rec := record.Record{Schema: s, Values: []record.Value{
			record.Int(schema.Int64, int64(row[0])),
			record.Float(schema.Float64, row[1]),
		}}
		if _, err := provider.Write(buf, i, rec); err != nil {
			t.Fatal(err)
		}
	}
	return buf
}

func TestFileSinkWritesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	s := testSchema()
	sk := NewFileSink(path, s, CSVFormatter{})
	ctx := context.Background()
	if err := sk.Start(ctx); err != nil {
		t.Fatal(err)
	}
	buf := fillTestBuffer(t, s, [][2]float64{{1, 1.5}, {2, 2.5}})
	if err := sk.Execute(ctx, buf); err != nil {
		t.Fatal(err)
	}
	if err := sk.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), data)
	}
	if lines[0] != "1,1.5" {
		t.Fatalf("line 0 = %q, want %q", lines[0], "1,1.5")
	}
}

func TestFileSinkGzipSuffixCompresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv.gz")
	s := testSchema()
	sk := NewFileSink(path, s, CSVFormatter{})
	ctx := context.Background()
	if err := sk.Start(ctx); err != nil {
		t.Fatal(err)
	}
	buf := fillTestBuffer(t, s, [][2]float64{{1, 1.0}})
	if err := sk.Execute(ctx, buf); err != nil {
		t.Fatal(err)
	}
	if err := sk.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// gzip magic bytes
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatalf("output does not look gzip-compressed: % x", raw[:minInt(len(raw), 8)])
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestJSONFormatterRoundTripsFields(t *testing.T) {
	s := testSchema()
	rec := record.Record{Schema: s, Values: []record.Value{
		record.Int(schema.Int64, 3),
		record.Float(schema.Float64, 4.5),
	}}
	line, err := (JSONFormatter{}).Format(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(line, []byte(`"id":3`)) || !bytes.Contains(line, []byte(`"v":4.5`)) {
		t.Fatalf("unexpected json: %s", line)
	}
}

func TestWithRetryEscalatesAfterPersistentTransientFailure(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return Transient(errors.New("disk full"))
	})
	if !errors.Is(err, errkind.ErrSink) {
		t.Fatalf("expected ErrSink, got %v", err)
	}
	if attempts != maxWriteAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, maxWriteAttempts)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("timeout"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryDoesNotRetryPersistentErrors(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return errors.New("permission denied")
	})
	if !errors.Is(err, errkind.ErrSink) {
		t.Fatalf("expected ErrSink, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (non-transient errors must not retry)", attempts)
	}
}

func TestPrintSinkWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	s := testSchema()
	sk := &PrintSink{Schema: s, Formatter: CSVFormatter{}, Writer: &buf}
	ctx := context.Background()
	if err := sk.Start(ctx); err != nil {
		t.Fatal(err)
	}
	tb := fillTestBuffer(t, s, [][2]float64{{7, 8.0}})
	if err := sk.Execute(ctx, tb); err != nil {
		t.Fatal(err)
	}
	if err := sk.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "7,8" {
		t.Fatalf("got %q, want %q", got, "7,8")
	}
}
