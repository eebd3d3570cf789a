package window

import (
	"reflect"
	"sync"
	"testing"
)

func TestTumblingAssign(t *testing.T) {
	a := Tumbling{Size: 1000}
	got := a.Assign(1500)
	want := []Slice{{Start: 1000, End: 2000}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	// boundary belongs to the right (later) slice
	got = a.Assign(1000)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("boundary: got %+v, want %+v", got, want)
	}
}

func TestSlidingAssignCoversWholeWindow(t *testing.T) {
	// size=300, slide=100: t=250 belongs to the 3 buckets backing
	// every window that contains it (windows starting at 0, 100, 200).
	a := Sliding{Size: 300, Slide: 100}
	got := a.Assign(250)
	want := []Slice{{Start: 0, End: 100}, {Start: 100, End: 200}, {Start: 200, End: 300}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

type countState struct{ n int }

func (c *countState) Merge(other WorkerState) { c.n += other.(*countState).n }

func TestStoreShardingAndMerge(t *testing.T) {
	st := NewStore(func() WorkerState { return &countState{} })
	s := Slice{Start: 0, End: 1000}

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, shard := st.Shard(s, w)
			shard.(*countState).n += 10
		}(worker)
	}
	wg.Wait()

	e, _ := st.Shard(s, 0)
	merged := Merged(e).(*countState)
	if merged.n != 40 {
		t.Fatalf("expected merged count 40, got %d", merged.n)
	}
}

func TestStoreFinalizeAndClaim(t *testing.T) {
	st := NewStore(func() WorkerState { return &countState{} })
	s := Slice{Start: 0, End: 1000}
	st.Shard(s, 0)

	if got := st.Finalizable(500); len(got) != 0 {
		t.Fatalf("expected no finalizable slices before watermark passes End, got %d", len(got))
	}
	got := st.Finalizable(1000)
	if len(got) != 1 {
		t.Fatalf("expected 1 finalizable slice, got %d", len(got))
	}
	if !st.Claim(got[0]) {
		t.Fatal("expected first Claim to succeed")
	}
	if st.Claim(got[0]) {
		t.Fatal("expected second Claim to fail")
	}
}

func TestSessionTrackerCoalescesRightMergesLeft(t *testing.T) {
	tr := &SessionTracker{Gap: 10}
	tr.open = []Slice{{Start: 0, End: 5}, {Start: 10, End: 15}}
	tr.Coalesce()

	got := tr.Slices()
	if len(got) != 1 {
		t.Fatalf("expected the two overlapping sessions to coalesce into one, got %+v", got)
	}
	if got[0] != (Slice{Start: 0, End: 15}) {
		t.Fatalf("expected merged slice to keep the later slice's End, got %+v", got[0])
	}
}

func TestRefTrackerReleaseFreesAtZero(t *testing.T) {
	r := NewRefTracker()
	s1 := Slice{Start: 0, End: 100}
	s2 := Slice{Start: 100, End: 200}
	r.Retain([]Slice{s1, s2})
	r.Retain([]Slice{s1})

	freed := r.Release([]Slice{s1})
	if len(freed) != 0 {
		t.Fatalf("expected s1 still referenced once, got freed=%+v", freed)
	}
	freed = r.Release([]Slice{s1, s2})
	if len(freed) != 2 {
		t.Fatalf("expected both slices freed, got %+v", freed)
	}
}
