package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// PrintSink writes CSV (by default) to stderr or stdout, spec §6's
// "print sink writes CSV to stderr/stdout".
type PrintSink struct {
	Schema    schema.Schema
	Formatter OutputFormatter
	Writer    io.Writer // defaults to os.Stderr

	mu       sync.Mutex
	w        *bufio.Writer
	provider record.MemoryProvider
}

func NewPrintSink(s schema.Schema) *PrintSink {
	return &PrintSink{Schema: s, Formatter: CSVFormatter{}, Writer: os.Stderr}
}

func (p *PrintSink) Start(ctx context.Context) error {
	if p.Writer == nil {
		p.Writer = os.Stderr
	}
	p.w = bufio.NewWriter(p.Writer)
	p.provider = record.NewRowProvider(p.Schema.WithLayout(schema.Row))
	return nil
}

func (p *PrintSink) Execute(ctx context.Context, buf *buffer.TupleBuffer) error {
	recs, err := readAll(p.provider, buf, p.Schema)
	if err != nil {
		return err
	}
	return withRetry(ctx, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, rec := range recs {
			line, err := p.Formatter.Format(rec)
			if err != nil {
				return fmt.Errorf("%w: sink format record: %v", errkind.ErrRuntimeOperator, err)
			}
			if _, err := p.w.Write(line); err != nil {
				return Transient(err)
			}
			if err := p.w.WriteByte('\n'); err != nil {
				return Transient(err)
			}
		}
		return Transient(p.w.Flush())
	})
}

func (p *PrintSink) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return nil
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("%w: flush print sink: %v", errkind.ErrSink, err)
	}
	return nil
}
