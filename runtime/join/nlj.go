package join

import (
	"fmt"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/runtime/window"
)

// recordVector is a per-worker paged vector of whole records, the
// build side's WorkerState shard for both NLJ sides (spec §4.7: "Build
// stores full records into per-worker paged vectors per side, per
// slice").
type recordVector struct {
	records []record.Record
}

func newRecordVector() window.WorkerState { return &recordVector{} }

func (v *recordVector) add(r record.Record) { v.records = append(v.records, r) }

func (v *recordVector) Merge(other window.WorkerState) {
	o := other.(*recordVector)
	v.records = append(v.records, o.records...)
}

// NLJ is a nested-loop join: used when the join predicate isn't a
// single left-field = right-field equality, so rules.joinImplementationSelectionRule
// left JoinPred set instead of resolving JoinKeyL/JoinKeyR.
type NLJ struct {
	Predicate logical.Expr
	OutSchema schema.Schema
	Left      *window.Store
	Right     *window.Store
}

// NewNLJ builds an NLJ join operator over leftSchema/rightSchema,
// evaluating predicate against each candidate pair at probe time.
func NewNLJ(predicate logical.Expr, leftSchema, rightSchema schema.Schema) *NLJ {
	return &NLJ{
		Predicate: predicate,
		OutSchema: OutputSchema(leftSchema, rightSchema),
		Left:      window.NewStore(newRecordVector),
		Right:     window.NewStore(newRecordVector),
	}
}

// BuildLeft appends rec to the left side's paged vector for slice s,
// worker workerID's shard, with no locking against other workers.
func (j *NLJ) BuildLeft(s window.Slice, workerID int, rec record.Record) {
	_, shard := j.Left.Shard(s, workerID)
	shard.(*recordVector).add(rec)
}

// BuildRight is BuildLeft's mirror for the right input.
func (j *NLJ) BuildRight(s window.Slice, workerID int, rec record.Record) {
	_, shard := j.Right.Shard(s, workerID)
	shard.(*recordVector).add(rec)
}

// Probe performs the pairwise scan left × right under Predicate for
// one finalized slice, emitting every matching combined row.
func (j *NLJ) Probe(s window.Slice) ([]record.Record, error) {
	leftEntry, ok := j.Left.Get(s)
	if !ok {
		return nil, nil
	}
	rightEntry, ok := j.Right.Get(s)
	if !ok {
		return nil, nil
	}
	leftMerged := window.Merged(leftEntry)
	rightMerged := window.Merged(rightEntry)
	if leftMerged == nil || rightMerged == nil {
		return nil, nil
	}
	leftRows := leftMerged.(*recordVector).records
	rightRows := rightMerged.(*recordVector).records

	out := make([]record.Record, 0, len(leftRows))
	for _, l := range leftRows {
		for _, r := range rightRows {
			ok, err := evalPredicate(j.Predicate, l, r)
			if err != nil {
				return nil, fmt.Errorf("%w: nlj probe: %v", errkind.ErrRuntimeOperator, err)
			}
			if ok {
				out = append(out, combine(s, l, r, j.OutSchema))
			}
		}
	}
	return out, nil
}
