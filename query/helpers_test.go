package query

import (
	"testing"

	"github.com/flowmesh/streamcore/internal/buffer"
)

// newTestBufferPool returns a small buffer.Pool for use within a single
// test, closed automatically via t.Cleanup.
func newTestBufferPool(t *testing.T) *buffer.Pool {
	t.Helper()
	p := buffer.NewPool(4096, 8)
	t.Cleanup(p.Close)
	return p
}
