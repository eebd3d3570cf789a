// Package sink implements spec §6's sink adapter contract and spec
// §7's bounded-backoff retry policy for transient sink I/O: a Sink
// exposes start/execute/stop, writing formatted records to a file or
// to stdout/stderr, retrying transient write failures before
// escalating to a persistent SinkError.
package sink

import (
	"context"
	"fmt"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// Sink is the worker's output adapter contract: start, receive buffers
// to emit, and stop.
type Sink interface {
	Start(ctx context.Context) error
	Execute(ctx context.Context, buf *buffer.TupleBuffer) error
	Stop(ctx context.Context) error
}

// OutputFormatter renders one record as a line of wire-format bytes,
// the sink-side mirror of adapters/source.Formatter.
type OutputFormatter interface {
	Format(rec record.Record) ([]byte, error)
}

// TransientError marks a sink write failure the bounded-backoff retry
// loop should retry; anything else is treated as persistent and
// escalates immediately to errkind.ErrSink.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient sink error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the retry loop treats it as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func readAll(provider record.MemoryProvider, buf *buffer.TupleBuffer, s schema.Schema) ([]record.Record, error) {
	n := provider.NumTuples(buf)
	out := make([]record.Record, n)
	for i := 0; i < n; i++ {
		rec, err := provider.Read(buf, i)
		if err != nil {
			return nil, fmt.Errorf("%w: sink read record %d: %v", errkind.ErrRuntimeOperator, i, err)
		}
		out[i] = rec
	}
	return out, nil
}
