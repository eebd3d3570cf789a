package task

import (
	"sync"
	"time"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/errkind"
)

// Sequencer enforces in-order delivery of one origin's buffers: a
// buffer that arrives ahead of the next expected sequence number is
// held until the gap is filled or holeTimeout elapses, at which point
// CheckTimeout reports an *errkind.OriginGapError (spec §4.4).
type Sequencer struct {
	originID    uint64
	holeTimeout time.Duration

	mu           sync.Mutex
	next         uint64
	pending      map[uint64]*buffer.TupleBuffer
	holeOpenedAt time.Time
}

// NewSequencer returns a Sequencer for originID expecting sequence
// numbers starting at firstSeq.
func NewSequencer(originID, firstSeq uint64, holeTimeout time.Duration) *Sequencer {
	return &Sequencer{
		originID:    originID,
		holeTimeout: holeTimeout,
		next:        firstSeq,
		pending:     map[uint64]*buffer.TupleBuffer{},
	}
}

// Deliver admits buf, returning the run of now-in-order buffers
// (including ones admitted earlier out of order) ready to be handed
// to a Queue. Retransmits of an already-delivered sequence number are
// dropped silently.
func (s *Sequencer) Deliver(buf *buffer.TupleBuffer, now time.Time) []*buffer.TupleBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := buf.SequenceNumber
	if seq < s.next {
		return nil
	}
	s.pending[seq] = buf

	var ready []*buffer.TupleBuffer
	for {
		b, ok := s.pending[s.next]
		if !ok {
			break
		}
		ready = append(ready, b)
		delete(s.pending, s.next)
		s.next++
	}

	if len(s.pending) == 0 {
		s.holeOpenedAt = time.Time{}
	} else if s.holeOpenedAt.IsZero() {
		s.holeOpenedAt = now
	}
	return ready
}

// CheckTimeout reports an *errkind.OriginGapError if a gap has been
// open longer than holeTimeout as of now. Callers poll this
// periodically (e.g. alongside a watermark tick), since a gap can only
// be detected on a later call, not synchronously within Deliver.
func (s *Sequencer) CheckTimeout(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holeOpenedAt.IsZero() || s.holeTimeout <= 0 {
		return nil
	}
	if now.Sub(s.holeOpenedAt) < s.holeTimeout {
		return nil
	}
	return &errkind.OriginGapError{OriginID: s.originID, MissingSeq: s.next}
}
