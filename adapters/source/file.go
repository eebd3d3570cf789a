package source

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/runtime/watermark"
)

// FileSource is the BlockingSource reading one line-delimited text
// file per spec §6. Path is resolved against NES_TESTDATA_DIR by the
// caller (config.Config.BuildSource) before construction.
type FileSource struct {
	Path     string
	Schema   schema.Schema
	Format   Formatter
	OriginID uint64

	file     *os.File
	scanner  *bufio.Scanner
	provider record.MemoryProvider
	nextSeq  uint64
	wm       watermark.Processor
}

func NewFileSource(path string, s schema.Schema, format Formatter, originID uint64) *FileSource {
	return &FileSource{Path: path, Schema: s, Format: format, OriginID: originID}
}

// Origin identifies which pipeline this source feeds (query.Engine
// dispatches buffers to the Node compiled for this origin's Scan).
func (f *FileSource) Origin() uint64 { return f.OriginID }

func (f *FileSource) Open() error {
	file, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("%w: open source file %q: %v", errkind.ErrConfiguration, f.Path, err)
	}
	f.file = file
	f.scanner = bufio.NewScanner(file)
	f.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	// Sources always write ROW layout; COLUMN is an internal storage
	// choice made later by operators, not a wire format.
	f.provider = record.NewRowProvider(f.Schema.WithLayout(schema.Row))
	return nil
}

// FillBuffer reads lines until buf is full, the file is exhausted, or
// stop is closed, writing one record per line.
func (f *FileSource) FillBuffer(buf *buffer.TupleBuffer, stop <-chan struct{}) (int, error) {
	capacity := f.provider.Capacity(buf)
	written := 0
	for written < capacity {
		select {
		case <-stop:
			f.closeBuffer(buf, written)
			return written, nil
		default:
		}
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				return written, fmt.Errorf("%w: read source file %q: %v", errkind.ErrRuntimeOperator, f.Path, err)
			}
			f.closeBuffer(buf, written)
			return written, ErrDone
		}
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := f.Format.Parse(line, f.Schema)
		if err != nil {
			return written, err
		}
		ok, err := f.provider.Write(buf, written, rec)
		if err != nil {
			return written, err
		}
		if !ok {
			break
		}
		written++
	}
	f.closeBuffer(buf, written)
	return written, nil
}

func (f *FileSource) closeBuffer(buf *buffer.TupleBuffer, n int) {
	buf.OriginID = f.OriginID
	buf.SequenceNumber = f.nextSeq
	buf.ChunkNumber = 0
	buf.LastChunk = true
	buf.CreationTs = time.Now().UnixMicro()
	// Baseline ingestion-time watermark (spec §4.2: "buffer ingestion
	// time" is WatermarkAssigner's fallback when no field expression is
	// configured); a WatermarkAssigner fused further down the chain
	// recomputes this from event-time fields when one is present.
	f.wm.Advance(buf.CreationTs)
	buf.WatermarkTs = f.wm.Current()
	f.nextSeq++
}

func (f *FileSource) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

// ErrDone signals clean end-of-input to the task engine, distinct
// from a read failure: the engine stops polling this source but does
// not fail the query.
var ErrDone = errors.New("source: exhausted")
