package buffer

import (
	"fmt"
	"sync/atomic"
)

// ChildBuffer carries a variable-sized payload (string, array element
// data) referenced from a fixed-width slot in the owning TupleBuffer.
// It shares the owning buffer's lifetime and is released along with it.
type ChildBuffer struct {
	Data []byte
}

// TupleBuffer is the fixed-size, reference-counted carrier of records
// moving through the engine (spec §3). Ordering invariant: for a given
// OriginID, (SequenceNumber, ChunkNumber) is strictly increasing and
// LastChunk=true appears exactly once per sequence number.
type TupleBuffer struct {
	data []byte
	pool *Pool

	refcount int32

	NumberOfTuples int
	OriginID       uint64
	SequenceNumber uint64
	ChunkNumber    uint32
	LastChunk      bool

	CreationTs  int64 // unix micros
	WatermarkTs int64 // unix micros, -1 if unset

	children []*ChildBuffer
}

// Bytes returns the fixed-width row/column storage for the buffer's
// records. Callers must not retain the slice past a Release call.
func (t *TupleBuffer) Bytes() []byte {
	return t.data[:cap(t.data)-pageSlack]
}

// Retain increments the reference count. Must be called by every
// consumer that stores a pointer to t beyond the scope in which it
// received it.
func (t *TupleBuffer) Retain() {
	atomic.AddInt32(&t.refcount, 1)
}

// Release decrements the reference count, returning the buffer to its
// origin pool once it reaches zero. Calling Release more times than
// the buffer was retained is a programming error.
func (t *TupleBuffer) Release() {
	n := atomic.AddInt32(&t.refcount, -1)
	if n < 0 {
		panic("buffer: Release called on a buffer with zero refcount")
	}
	if n == 0 {
		t.children = nil
		if t.pool != nil {
			t.pool.release(t.data)
		}
	}
}

// RefCount reports the current reference count; intended for tests and
// diagnostics, not for control flow.
func (t *TupleBuffer) RefCount() int {
	return int(atomic.LoadInt32(&t.refcount))
}

// AddChild appends a child buffer and returns its index, used by
// variable-sized field writers to record where the payload lives.
func (t *TupleBuffer) AddChild(data []byte) int {
	t.children = append(t.children, &ChildBuffer{Data: data})
	return len(t.children) - 1
}

// Child returns the child buffer at idx. A variable-sized field of
// length zero still gets an empty ChildBuffer reference -- it is never
// represented as a null (spec §8 boundary behavior).
func (t *TupleBuffer) Child(idx int) (*ChildBuffer, error) {
	if idx < 0 || idx >= len(t.children) {
		return nil, fmt.Errorf("buffer: child index %d out of range [0,%d)", idx, len(t.children))
	}
	return t.children[idx], nil
}

// Empty reports whether the buffer carries zero tuples. An empty
// buffer may still carry a watermark barrier in WatermarkTs.
func (t *TupleBuffer) Empty() bool {
	return t.NumberOfTuples == 0
}

// Precedes reports whether t logically precedes o in origin order:
// strictly increasing (SequenceNumber, ChunkNumber) for the same
// OriginID (spec §3, §4.4, §8).
func (t *TupleBuffer) Precedes(o *TupleBuffer) bool {
	if t.SequenceNumber != o.SequenceNumber {
		return t.SequenceNumber < o.SequenceNumber
	}
	return t.ChunkNumber < o.ChunkNumber
}
