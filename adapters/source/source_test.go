package source

import (
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/xsv"
)

func testSchema() schema.Schema {
	return schema.New(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "v", Type: schema.Float64},
	)
}

func TestCSVFormatterParse(t *testing.T) {
	f := NewCSVFormatter(xsv.Comma)
	rec, err := f.Parse([]byte("7,3.5"), testSchema())
	if err != nil {
		t.Fatal(err)
	}
	id, _ := rec.Field("id")
	v, _ := rec.Field("v")
	if id.AsInt64() != 7 || v.AsFloat64() != 3.5 {
		t.Fatalf("got id=%v v=%v", id, v)
	}
}

func TestCSVFormatterWrongFieldCount(t *testing.T) {
	f := NewCSVFormatter(xsv.Comma)
	if _, err := f.Parse([]byte("7,3.5,extra"), testSchema()); err == nil {
		t.Fatal("expected error for field-count mismatch")
	}
}

func TestJSONFormatterParse(t *testing.T) {
	var f JSONFormatter
	rec, err := f.Parse([]byte(`{"id": 9, "v": 1.25}`), testSchema())
	if err != nil {
		t.Fatal(err)
	}
	id, _ := rec.Field("id")
	v, _ := rec.Field("v")
	if id.AsInt64() != 9 || v.AsFloat64() != 1.25 {
		t.Fatalf("got id=%v v=%v", id, v)
	}
}

func TestJSONFormatterMissingField(t *testing.T) {
	var f JSONFormatter
	if _, err := f.Parse([]byte(`{"id": 9}`), testSchema()); err == nil {
		t.Fatal("expected error for missing field")
	}
}

func TestFileSourceFillsBufferAndAttachesOrigin(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "src-*.csv")
	if err != nil {
		t.Fatal(err)
	}
	tmp.WriteString("1,1.0\n2,2.0\n3,3.0\n")
	tmp.Close()

	src := NewFileSource(tmp.Name(), testSchema(), NewCSVFormatter(xsv.Comma), 42)
	if err := src.Open(); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	pool := buffer.NewPool(4096, 4)
	buf, err := pool.Acquire(0)
	if err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	n, err := src.FillBuffer(buf, stop)
	if err != nil && err != ErrDone {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("wrote %d records, want 3", n)
	}
	if buf.OriginID != 42 {
		t.Fatalf("OriginID = %d, want 42", buf.OriginID)
	}
	if !buf.LastChunk {
		t.Fatal("expected LastChunk=true")
	}
}

func TestFileSourceSignalsExhaustion(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "src-*.csv")
	if err != nil {
		t.Fatal(err)
	}
	tmp.WriteString("1,1.0\n")
	tmp.Close()

	src := NewFileSource(tmp.Name(), testSchema(), NewCSVFormatter(xsv.Comma), 1)
	if err := src.Open(); err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	pool := buffer.NewPool(4096, 4)
	buf, _ := pool.Acquire(0)
	stop := make(chan struct{})
	n, err := src.FillBuffer(buf, stop)
	if n != 1 {
		t.Fatalf("wrote %d, want 1", n)
	}
	if err != ErrDone {
		t.Fatalf("error = %v, want ErrDone (single line hits EOF in the same fill)", err)
	}

	// A second fill against the exhausted scanner reports 0 records
	// and ErrDone again.
	buf2, _ := pool.Acquire(0)
	n2, err2 := src.FillBuffer(buf2, stop)
	if n2 != 0 || err2 != ErrDone {
		t.Fatalf("second fill = (%d, %v), want (0, ErrDone)", n2, err2)
	}
}

func TestResolveTestDataPathUsesEnv(t *testing.T) {
	t.Setenv("NES_TESTDATA_DIR", "/data/sets")
	got := ResolveTestDataPath("TESTDATA/events.csv")
	want := "/data/sets/events.csv"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestResolveTestDataPathLeavesOtherPathsAlone(t *testing.T) {
	got := ResolveTestDataPath("/abs/path.csv")
	if got != "/abs/path.csv" {
		t.Fatalf("got %q, want unchanged", got)
	}
}

func TestTCPSourceDeliversOneBuffer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	pool := buffer.NewPool(4096, 4)
	src := NewTCPSource(addr, testSchema(), NewCSVFormatter(xsv.Comma), 5, pool)

	var mu sync.Mutex
	var got []*buffer.TupleBuffer
	done := make(chan struct{})
	onBuffer := func(b *buffer.TupleBuffer) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	}
	onError := func(err error) { t.Logf("tcp source error: %v", err) }
	onEnd := func() { close(done) }

	if err := src.Start(onBuffer, onError, onEnd); err != nil {
		t.Fatal(err)
	}

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte("1,1.5\n"))
	conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tcp source to finish")
	}
	src.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("received %d buffers, want 1", len(got))
	}
	if got[0].OriginID != 5 {
		t.Fatalf("OriginID = %d, want 5", got[0].OriginID)
	}
}
