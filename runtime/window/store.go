package window

import (
	"sync"

	"github.com/flowmesh/streamcore/heap"
)

// WorkerState is one worker's shard of a Slice's accumulated state.
// WindowBuild writes into its own worker's shard with no locking;
// WindowProbe merges all shards at finalization (spec §4.5).
type WorkerState interface {
	// Merge folds other (another worker's shard of the same key, same
	// slice) into the receiver.
	Merge(other WorkerState)
}

// Entry is one tracked slice: its time bounds and its per-worker
// state shards (indexed by worker ID).
type Entry struct {
	Slice     Slice
	Shards    []WorkerState
	finalized bool
}

// Store is one operator's slice directory: every live slice, created
// on first write and released once every referencing window has been
// emitted and the combined watermark has passed its end. For sliding
// windows, Refs tracks the extra per-window reference count (spec
// §4.5); leave it nil for tumbling/session windows, where a slice has
// exactly one window and watermark-past-End is the only condition.
//
// order mirrors entries as a min-heap ordered by Slice.End, so
// Finalizable can prune whole subtrees of not-yet-ended slices instead
// of scanning every live entry on every probe tick.
type Store struct {
	mu       sync.Mutex
	entries  map[Slice]*Entry
	order    []*Entry
	newState func() WorkerState
	Refs     *RefTracker
}

// NewStore returns a Store whose entries' per-worker shards are
// created by newState on first touch.
func NewStore(newState func() WorkerState) *Store {
	return &Store{entries: map[Slice]*Entry{}, newState: newState}
}

func entryEndLess(a, b *Entry) bool { return a.Slice.End < b.Slice.End }

// Shard returns the Entry for s (creating it if necessary) and the
// WorkerState shard for workerID within it (creating that too).
func (st *Store) Shard(s Slice, workerID int) (*Entry, WorkerState) {
	st.mu.Lock()
	e, ok := st.entries[s]
	if !ok {
		e = &Entry{Slice: s}
		st.entries[s] = e
		heap.PushSlice(&st.order, e, entryEndLess)
	}
	for len(e.Shards) <= workerID {
		e.Shards = append(e.Shards, nil)
	}
	if e.Shards[workerID] == nil {
		e.Shards[workerID] = st.newState()
	}
	shard := e.Shards[workerID]
	st.mu.Unlock()
	return e, shard
}

// Get returns the Entry for s without creating it, for callers (such
// as a join probe) that must not materialize an empty shard as a side
// effect of a read.
func (st *Store) Get(s Slice) (*Entry, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[s]
	return e, ok
}

// Finalizable returns every slice entry whose End is at or before
// watermark and that hasn't already been claimed, without removing
// them: WindowProbe still has to Claim before it may emit.
func (st *Store) Finalizable(watermark int64) []*Entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*Entry
	st.collectFinalizable(0, watermark, &out)
	return out
}

// collectFinalizable walks order's min-heap from index i, pruning any
// subtree rooted at an entry whose End exceeds watermark: the heap
// invariant guarantees every descendant's End is >= its parent's, so
// once one entry misses the cutoff none of its children can qualify
// either.
func (st *Store) collectFinalizable(i int, watermark int64, out *[]*Entry) {
	if i >= len(st.order) {
		return
	}
	e := st.order[i]
	if e.Slice.End > watermark {
		return
	}
	if !e.finalized && (st.Refs == nil || !st.Refs.stillReferenced(e.Slice)) {
		*out = append(*out, e)
	}
	st.collectFinalizable(2*i+1, watermark, out)
	st.collectFinalizable(2*i+2, watermark, out)
}

// Claim atomically marks e as finalized, returning false if another
// worker already claimed it. A caller that receives true is the sole
// owner of e's merge-and-emit step.
func (st *Store) Claim(e *Entry) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if e.finalized {
		return false
	}
	e.finalized = true
	return true
}

// Release deletes e from the store, returning its shards to the
// caller so they can recycle any pooled memory the shards hold.
func (st *Store) Release(e *Entry) []WorkerState {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, e.Slice)
	st.removeOrder(e)
	return e.Shards
}

// removeOrder drops e from the order min-heap, swapping in the last
// element at e's slot and re-sifting it into place. A no-op if e isn't
// found, which happens if Release is ever called twice on the same
// Entry.
func (st *Store) removeOrder(e *Entry) {
	idx := -1
	for i, cand := range st.order {
		if cand == e {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	last := len(st.order) - 1
	st.order[idx] = st.order[last]
	st.order[last] = nil
	st.order = st.order[:last]
	if idx < len(st.order) {
		heap.FixSlice(st.order, idx, entryEndLess)
	}
}

// fixOrder re-sifts e's position in the order min-heap after its
// Slice.End has changed in place, restoring the heap invariant.
func (st *Store) fixOrder(e *Entry) {
	for i, cand := range st.order {
		if cand == e {
			heap.FixSlice(st.order, i, entryEndLess)
			return
		}
	}
}

// Rename migrates the entry at old onto new, merging shard-for-shard
// with whatever new already holds (if anything) rather than
// overwriting it. It is how a SessionTracker's Coalesce step -- which
// can change a session slice's Start/End as later records extend it --
// keeps accumulated aggregation state attached to the session's
// current identity (spec §4.5 Open Question ii, "right-merges-left":
// session.go's Coalesce always keeps the later slice's identity as
// new). A no-op if old and new are equal.
func (st *Store) Rename(old, new Slice) {
	if old == new {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	src, ok := st.entries[old]
	if !ok {
		return
	}
	delete(st.entries, old)
	src.Slice = new
	dst, ok := st.entries[new]
	if !ok {
		st.entries[new] = src
		st.fixOrder(src)
		return
	}
	st.removeOrder(src)
	for i, shard := range src.Shards {
		if shard == nil {
			continue
		}
		for len(dst.Shards) <= i {
			dst.Shards = append(dst.Shards, nil)
		}
		if dst.Shards[i] == nil {
			dst.Shards[i] = shard
		} else {
			dst.Shards[i].Merge(shard)
		}
	}
}

// Merged folds every non-nil worker shard of e into a single
// WorkerState using Merge, returning nil if e has no shards at all.
func Merged(e *Entry) WorkerState {
	var acc WorkerState
	for _, s := range e.Shards {
		if s == nil {
			continue
		}
		if acc == nil {
			acc = s
			continue
		}
		acc.Merge(s)
	}
	return acc
}

// RefTracker reference-counts sliding windows against the slices that
// compose them: a slice stays live until every window that reads it
// has been emitted.
type RefTracker struct {
	mu   sync.Mutex
	live map[Slice]int // slice -> count of windows still pending
}

func (r *RefTracker) stillReferenced(s Slice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[s] > 0
}

// NewRefTracker returns an empty RefTracker.
func NewRefTracker() *RefTracker { return &RefTracker{live: map[Slice]int{}} }

// Retain increments the pending-window count for every slice in
// slices, called when a sliding window is opened (spans multiple
// slices).
func (r *RefTracker) Retain(slices []Slice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range slices {
		r.live[s]++
	}
}

// Release decrements the pending-window count for every slice in
// slices, called once the window that retained them has been emitted.
// It reports which slices dropped to zero and are now eligible for
// finalization.
func (r *RefTracker) Release(slices []Slice) []Slice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var freed []Slice
	for _, s := range slices {
		r.live[s]--
		if r.live[s] <= 0 {
			delete(r.live, s)
			freed = append(freed, s)
		}
	}
	return freed
}
