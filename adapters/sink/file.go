package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// FileSink writes formatted records to a file, one per line. A
// ".gz"-suffixed path is transparently compressed with
// klauspost/compress/gzip.
type FileSink struct {
	Path      string
	Schema    schema.Schema
	Formatter OutputFormatter

	mu       sync.Mutex
	file     *os.File
	gz       *gzip.Writer
	w        *bufio.Writer
	provider record.MemoryProvider
}

func NewFileSink(path string, s schema.Schema, formatter OutputFormatter) *FileSink {
	return &FileSink{Path: path, Schema: s, Formatter: formatter}
}

func (s *FileSink) Start(ctx context.Context) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("%w: create sink file %q: %v", errkind.ErrConfiguration, s.Path, err)
	}
	s.file = f
	var w io.Writer = f
	if strings.HasSuffix(s.Path, ".gz") {
		s.gz = gzip.NewWriter(f)
		w = s.gz
	}
	s.w = bufio.NewWriter(w)
	s.provider = record.NewRowProvider(s.Schema.WithLayout(schema.Row))
	return nil
}

func (s *FileSink) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	recs, err := readAll(s.provider, buf, s.Schema)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, rec := range recs {
			line, err := s.Formatter.Format(rec)
			if err != nil {
				return fmt.Errorf("%w: sink format record: %v", errkind.ErrRuntimeOperator, err)
			}
			if _, err := s.w.Write(line); err != nil {
				return Transient(err)
			}
			if err := s.w.WriteByte('\n'); err != nil {
				return Transient(err)
			}
		}
		return Transient(s.w.Flush())
	})
}

func (s *FileSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		if err := s.w.Flush(); err != nil {
			return fmt.Errorf("%w: flush sink file %q: %v", errkind.ErrSink, s.Path, err)
		}
	}
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return fmt.Errorf("%w: close gzip writer for %q: %v", errkind.ErrSink, s.Path, err)
		}
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
