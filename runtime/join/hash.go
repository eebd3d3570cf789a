package join

import (
	"fmt"
	"sync/atomic"

	"github.com/dchest/siphash"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/runtime/window"
)

// hashKey0 and hashKey1 are the siphash keys used to derive a build/probe join
// key's bucket hash.
const (
	hashKey0 = 0x736f6d6570736575
	hashKey1 = 0x646f72616e646f6d
)

func keyHash(v record.Value) uint64 {
	return siphash.Hash(hashKey0, hashKey1, keyBytes(v))
}

// localEntry is one {hash(key), payload} pair, the shape spec §4.7
// requires for what a worker's local build table holds before merge.
type localEntry struct {
	hash uint64
	rec  record.Record
}

// localTable is one worker's unmerged build-side shard: a flat slice
// of localEntry, because per-worker inserts never race and a flat
// paged vector is cheaper to scan than a map under the small
// per-worker cardinalities a single slice typically holds.
type localTable struct {
	entries []localEntry
}

func newLocalTable() window.WorkerState { return &localTable{} }

func (t *localTable) add(hash uint64, rec record.Record) {
	t.entries = append(t.entries, localEntry{hash: hash, rec: rec})
}

func (t *localTable) Merge(other window.WorkerState) {
	o := other.(*localTable)
	t.entries = append(t.entries, o.entries...)
}

// bucketNode is one link of a partition's bucket chain.
type bucketNode struct {
	entry localEntry
	next  *bucketNode
}

// PartitionedTable is the shared build-side hash table a slice's
// per-worker local tables merge into at finalization: one
// atomic-pointer bucket chain per partition, appended to lock-free via
// CAS so concurrent finalizers (sliding windows can finalize more than
// one slice's contribution into the same partition set) never block.
type PartitionedTable struct {
	buckets []atomic.Pointer[bucketNode]
}

// NewPartitionedTable returns an empty table with the given partition
// count; probes and inserts both reduce a key hash mod this count.
func NewPartitionedTable(partitions int) *PartitionedTable {
	return &PartitionedTable{buckets: make([]atomic.Pointer[bucketNode], partitions)}
}

func (t *PartitionedTable) partitionOf(hash uint64) int {
	return int(hash % uint64(len(t.buckets)))
}

// Insert lock-free prepends entry onto its partition's bucket chain.
func (t *PartitionedTable) Insert(hash uint64, rec record.Record) {
	p := &t.buckets[t.partitionOf(hash)]
	node := &bucketNode{entry: localEntry{hash: hash, rec: rec}}
	for {
		head := p.Load()
		node.next = head
		if p.CompareAndSwap(head, node) {
			return
		}
	}
}

// MergeLocal inserts every entry of a finalized local table into t,
// the "local tables are merged into a shared partitioned hash table"
// step of spec §4.7.
func (t *PartitionedTable) MergeLocal(local *localTable) {
	for _, e := range local.entries {
		t.Insert(e.hash, e.rec)
	}
}

// Probe scans hash's bucket, applying predicate to every candidate and
// returning the records satisfying it.
func (t *PartitionedTable) Probe(hash uint64, probeRec record.Record, buildIsLeft bool, predicate logical.Expr) ([]record.Record, error) {
	var matches []record.Record
	node := t.buckets[t.partitionOf(hash)].Load()
	for node != nil {
		if node.entry.hash == hash {
			var ok bool
			var err error
			if buildIsLeft {
				ok, err = evalPredicate(predicate, node.entry.rec, probeRec)
			} else {
				ok, err = evalPredicate(predicate, probeRec, node.entry.rec)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: hash join probe: %v", errkind.ErrRuntimeOperator, err)
			}
			if ok {
				matches = append(matches, node.entry.rec)
			}
		}
		node = node.next
	}
	return matches, nil
}

// ProbeAll finalizes slice s (if not already) and returns every
// matching combined row for it, the all-at-once counterpart to Probe
// that mirrors NLJ.Probe's shape for callers (the window finalization
// poller) that want a slice's whole join output in one call rather
// than probing record by record.
func (j *HashJoin) ProbeAll(s window.Slice) ([]record.Record, error) {
	j.Finalize(s)
	leftEntry, lok := j.localLeft.Get(s)
	if !lok {
		return nil, nil
	}
	left, ok := window.Merged(leftEntry).(*localTable)
	if !ok {
		return nil, nil
	}
	var out []record.Record
	for _, e := range left.entries {
		matches, err := j.Probe(s, e.rec, true)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

// defaultPartitions tracks typical worker fan-out (runtime/task.Pool
// callers commonly size pools to NumCPU); a join's partition count
// need not track worker count exactly but using the same order of
// magnitude keeps contention low without oversizing.
const defaultPartitions = 64

// HashJoin is the partitioned equi-join of spec §4.7, used when
// rules.joinImplementationSelectionRule resolved the predicate to a
// single key-equality (JoinKeyL/JoinKeyR set, JoinPred cleared).
type HashJoin struct {
	KeyL, KeyR string
	OutSchema  schema.Schema

	localLeft  *window.Store
	localRight *window.Store
	built      map[window.Slice]*builtSides
	eqPred     logical.Expr
}

type builtSides struct {
	left  *PartitionedTable
	right *PartitionedTable
}

// NewHashJoin builds a HashJoin matching keyL (left schema field) to
// keyR (right schema field).
func NewHashJoin(keyL, keyR string, leftSchema, rightSchema schema.Schema) *HashJoin {
	return &HashJoin{
		KeyL:       keyL,
		KeyR:       keyR,
		OutSchema:  OutputSchema(leftSchema, rightSchema),
		localLeft:  window.NewStore(newLocalTable),
		localRight: window.NewStore(newLocalTable),
		built:      map[window.Slice]*builtSides{},
		eqPred:     logical.Bin(logical.OpEq, logical.Field(keyL), logical.Field(keyR)),
	}
}

func (j *HashJoin) BuildLeft(s window.Slice, workerID int, rec record.Record) error {
	v, ok := rec.Field(j.KeyL)
	if !ok {
		return fmt.Errorf("%w: hash join build: missing left key field %q", errkind.ErrRuntimeOperator, j.KeyL)
	}
	_, shard := j.localLeft.Shard(s, workerID)
	shard.(*localTable).add(keyHash(v), rec)
	return nil
}

func (j *HashJoin) BuildRight(s window.Slice, workerID int, rec record.Record) error {
	v, ok := rec.Field(j.KeyR)
	if !ok {
		return fmt.Errorf("%w: hash join build: missing right key field %q", errkind.ErrRuntimeOperator, j.KeyR)
	}
	_, shard := j.localRight.Shard(s, workerID)
	shard.(*localTable).add(keyHash(v), rec)
	return nil
}

// Finalize merges every worker's local build tables for slice s into
// fresh shared partitioned tables, making the slice ready for Probe.
// Idempotent: calling it twice for the same slice is a no-op.
func (j *HashJoin) Finalize(s window.Slice) {
	if _, ok := j.built[s]; ok {
		return
	}
	leftEntry, lok := j.localLeft.Get(s)
	rightEntry, rok := j.localRight.Get(s)
	left := NewPartitionedTable(defaultPartitions)
	right := NewPartitionedTable(defaultPartitions)
	if lok {
		if merged := window.Merged(leftEntry); merged != nil {
			left.MergeLocal(merged.(*localTable))
		}
	}
	if rok {
		if merged := window.Merged(rightEntry); merged != nil {
			right.MergeLocal(merged.(*localTable))
		}
	}
	j.built[s] = &builtSides{left: left, right: right}
}

// Probe hashes rec's key field (keyOnLeft selects which side rec comes
// from) and scans the opposite side's partitioned table for matches,
// emitting combined output rows for slice s. Finalize must have been
// called for s first.
func (j *HashJoin) Probe(s window.Slice, rec record.Record, keyOnLeft bool) ([]record.Record, error) {
	sides, ok := j.built[s]
	if !ok {
		return nil, nil
	}
	if keyOnLeft {
		v, ok := rec.Field(j.KeyL)
		if !ok {
			return nil, fmt.Errorf("%w: hash join probe: missing left key field %q", errkind.ErrRuntimeOperator, j.KeyL)
		}
		matches, err := sides.right.Probe(keyHash(v), rec, false, j.eqPred)
		if err != nil {
			return nil, err
		}
		out := make([]record.Record, len(matches))
		for i, r := range matches {
			out[i] = combine(s, rec, r, j.OutSchema)
		}
		return out, nil
	}
	v, ok := rec.Field(j.KeyR)
	if !ok {
		return nil, fmt.Errorf("%w: hash join probe: missing right key field %q", errkind.ErrRuntimeOperator, j.KeyR)
	}
	matches, err := sides.left.Probe(keyHash(v), rec, true, j.eqPred)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, len(matches))
	for i, l := range matches {
		out[i] = combine(s, l, rec, j.OutSchema)
	}
	return out, nil
}
