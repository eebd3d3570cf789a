package window

import "sort"

// SessionTracker assigns event-times to session slices with a fixed
// inactivity gap, coalescing overlapping open slices at finalization
// time (spec §4.5). It is not a stateless Assigner like Tumbling and
// Sliding: session slice boundaries depend on every record seen so
// far for the key, so one tracker is owned per grouping key by the
// WindowBuild operator.
type SessionTracker struct {
	Gap int64

	open []Slice // sorted by Start and mutually non-overlapping after Coalesce; Assign appends unsorted
}

// Assign extends an existing open slice within Gap of eventTime, or
// starts a new one, returning the (possibly just-created or
// just-extended) slice the record belongs to. It does not coalesce;
// call Coalesce before reading Slices to merge any pair that now
// overlaps.
func (t *SessionTracker) Assign(eventTime int64) Slice {
	for i := range t.open {
		s := &t.open[i]
		if eventTime >= s.Start-t.Gap && eventTime < s.End+t.Gap {
			if eventTime >= s.End {
				s.End = eventTime + 1
			}
			if eventTime < s.Start {
				s.Start = eventTime
			}
			return *s
		}
	}
	s := Slice{Start: eventTime, End: eventTime + 1}
	t.open = append(t.open, s)
	return s
}

// Coalesce merges any two open slices that now overlap or touch
// within Gap. Resolved per spec Open Question ii as "right-merges-
// left": when slice b (the later-starting one) absorbs an earlier
// slice a, the merged slice keeps b's identity (its End, and its
// Start only extended backward to cover a) — downstream per-worker
// state keyed by slice identity is migrated onto b, never a.
func (t *SessionTracker) Coalesce() {
	if len(t.open) < 2 {
		return
	}
	sort.Slice(t.open, func(i, j int) bool { return t.open[i].Start < t.open[j].Start })
	merged := t.open[:1]
	for _, b := range t.open[1:] {
		a := &merged[len(merged)-1]
		if b.Start <= a.End+t.Gap {
			// right-merges-left: b absorbs a, keeping b's End.
			if a.Start < b.Start {
				b.Start = a.Start
			}
			merged[len(merged)-1] = b
			continue
		}
		merged = append(merged, b)
	}
	t.open = merged
}

// Slices returns the tracker's current open slices.
func (t *SessionTracker) Slices() []Slice { return t.open }
