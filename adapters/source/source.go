// Package source implements spec §6's source adapter contracts: a
// synchronous BlockingSource polled by the task engine, an
// event-driven AsyncSource, and the input formatters (CSV, NDJSON)
// both adapters below share.
package source

import (
	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// BlockingSource fills caller-owned buffers on demand. FillBuffer
// writes as many complete records as fit into buf and returns the
// count written; it must attach buf.OriginID (spec §6: "each adapter
// is responsible for attaching an originId to every buffer").
// stop is closed to request an early, cooperative return.
type BlockingSource interface {
	Open() error
	FillBuffer(buf *buffer.TupleBuffer, stop <-chan struct{}) (int, error)
	Close() error
}

// AsyncSource pushes buffers to the caller as they become available,
// rather than being polled.
type AsyncSource interface {
	Start(onBuffer func(*buffer.TupleBuffer), onError func(error), onEnd func()) error
	Stop() error
}

// Formatter decodes one line/record's raw bytes into a Record typed
// per s.
type Formatter interface {
	Parse(line []byte, s schema.Schema) (record.Record, error)
}
