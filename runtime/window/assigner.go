// Package window implements spec §4.5's slice assignment rules and
// per-operator slice store: tumbling, sliding and session windows all
// map an event-time record onto one or more Slices, and the store
// tracks each slice's lifecycle from creation through finalization.
package window

import "github.com/flowmesh/streamcore/ints"

// Slice is a half-open time interval [Start, End) that one or more
// windows draw their contents from. Per spec §4.5's tie-break, a
// record whose event-time equals a slice boundary belongs to the
// slice it is the Start of, never the one it is the End of.
type Slice struct {
	Start, End int64
}

// Assigner maps a record's event-time to the slice(s) it belongs to.
type Assigner interface {
	Assign(eventTime int64) []Slice
}

// Tumbling assigns every event-time to exactly one fixed-size,
// non-overlapping slice.
type Tumbling struct{ Size int64 }

func (t Tumbling) Assign(eventTime int64) []Slice {
	start := floorDiv(eventTime, t.Size) * t.Size
	return []Slice{{Start: start, End: start + t.Size}}
}

// Sliding assigns an event-time to every overlapping window it falls
// within: ceil(Size/Slide) windows, each a full [start, start+Size)
// Slice rather than a narrower Slide-width pane, so a Slice returned
// here is always a complete, independently finalizable window and the
// Store's ordinary single-slice watermark check (Slice.End <=
// watermark) is enough to decide when it may be probed -- no
// cross-slice pane merge is needed at emission time.
type Sliding struct{ Size, Slide int64 }

func (s Sliding) Assign(eventTime int64) []Slice {
	// The record falls in window j (covering [j*Slide, j*Slide+Size))
	// whenever its start w = j*Slide satisfies w <= eventTime < w+Size,
	// i.e. j in ((eventTime-Size)/Slide, eventTime/Slide]. j is never
	// negative: there is no window before the stream's t=0 origin, so
	// an eventTime close to 0 is assigned fewer than ceil(Size/Slide)
	// windows rather than one reaching back past the origin.
	lastJ := floorDiv(eventTime, s.Slide)
	firstJ := floorDiv(eventTime-s.Size, s.Slide) + 1
	if firstJ < 0 {
		firstJ = 0
	}
	js := ints.Interval{Start: int(firstJ), End: int(lastJ) + 1}
	var out []Slice
	js.Each(func(j int) {
		start := int64(j) * s.Slide
		out = append(out, Slice{Start: start, End: start + s.Size})
	})
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
