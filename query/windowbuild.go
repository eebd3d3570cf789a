package query

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/flowmesh/streamcore/codegen"
	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/physical"
	"github.com/flowmesh/streamcore/runtime/aggregation"
	"github.com/flowmesh/streamcore/runtime/join"
	"github.com/flowmesh/streamcore/runtime/watermark"
	"github.com/flowmesh/streamcore/runtime/window"
)

// newAssigner builds the window.Assigner a WindowBuild operator's
// Window spec describes. Session windows are handled separately by
// sessionBuild (SessionTracker has no stateless Assign), so newAssigner
// only ever needs to serve Tumbling and Sliding.
func newAssigner(w logical.WindowSpec) window.Assigner {
	if w.Kind == logical.WindowSliding {
		return window.Sliding{Size: w.Size, Slide: w.Slide}
	}
	return window.Tumbling{Size: w.Size}
}

// groupKey builds a composite string key from a record's group-by
// field values, the map key groupState shards aggregation state by
// within one slice.
func groupKey(groupBy []string, rec record.Record) (string, error) {
	if len(groupBy) == 0 {
		return "", nil
	}
	key := ""
	for i, g := range groupBy {
		v, ok := rec.Field(g)
		if !ok {
			return "", fmt.Errorf("query: group-by field %q not present in record", g)
		}
		if i > 0 {
			key += "\x1f"
		}
		key += valueString(v)
	}
	return key, nil
}

func valueString(v record.Value) string {
	if v.Type.IsFloat() {
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	}
	if v.Type.IsVariableSized() {
		return string(v.S)
	}
	return strconv.FormatInt(v.I, 10)
}

// groupState is one slice's window.WorkerState shard: the per-group
// aggregation accumulators a single worker has lifted for its share of
// a slice's records, plus the group-by field values needed to
// reconstruct an output row once every worker's shard is merged.
type groupState struct {
	fns    []aggregation.Function
	states map[string][]interface{}
	vals   map[string][]record.Value
}

func newGroupState(fns []aggregation.Function) func() window.WorkerState {
	return func() window.WorkerState {
		return &groupState{
			fns:    fns,
			states: map[string][]interface{}{},
			vals:   map[string][]record.Value{},
		}
	}
}

func (g *groupState) lift(key string, groupVals []record.Value, input []record.Value) error {
	st, ok := g.states[key]
	if !ok {
		st = make([]interface{}, len(g.fns))
		for i, fn := range g.fns {
			st[i] = fn.NewState()
		}
		g.states[key] = st
		g.vals[key] = groupVals
	}
	for i, fn := range g.fns {
		if err := fn.Lift(st[i], input[i]); err != nil {
			return fmt.Errorf("query: aggregation %q: %w", fn.Name(), err)
		}
	}
	return nil
}

// Merge folds other's per-group accumulators into g, combining
// accumulators present on both sides and adopting ones only other
// holds (spec §4.6's lift/combine/lower contract).
func (g *groupState) Merge(other window.WorkerState) {
	o := other.(*groupState)
	for key, os := range o.states {
		ds, ok := g.states[key]
		if !ok {
			g.states[key] = os
			g.vals[key] = o.vals[key]
			continue
		}
		for i, fn := range g.fns {
			if err := fn.Combine(ds[i], os[i]); err != nil {
				// Combine only fails on a width mismatch between two
				// states built by the same Function, which cannot
				// happen: both were produced by fn.NewState().
				panic(fmt.Sprintf("query: aggregation combine: %v", err))
			}
		}
	}
}

// windowBuildStage is the query layer's hand-built ExecutablePipelineStage
// for a KindWindowBuild-rooted pipeline. codegen/trace.go deliberately
// leaves WindowBuild as a vestigial OpCall marker ("traced separately
// by their own handler") -- this is that handler. It walks its fused
// input chain(s) directly via walkChain rather than through codegen,
// assigns each surviving record to its window.Slice(s), lifts
// aggregation state or builds join tables into a shared window.Store,
// and advances a watermark.Updater from the input buffer's own
// (OriginID, SequenceNumber) -- repurposed as the barrier token spec
// §4.5's WatermarkUpdater expects, since a WindowBuild has no separate
// barrier stream of its own in this design (see DESIGN.md). It always
// returns (nil, nil): a breaker has no per-buffer output, only
// accumulated state a probeRunner later finalizes and emits.
type windowBuildStage struct {
	op *physical.Operator

	mu       sync.Mutex
	sessions map[string]*window.SessionTracker // group key -> tracker, session windows only

	assigner window.Assigner // nil for session windows
	store    *window.Store
	updater  *watermark.Updater

	// aggregate path
	aggInputs []record.Value // scratch, reused per Execute call under mu
	aggFns    []aggregation.Function
	aggExprs  []logical.Expr

	// join path
	nlj  *join.NLJ
	hash *join.HashJoin

	leftProvider, rightProvider *record.RowProvider
	inProvider                  *record.RowProvider
}

// newWindowBuildStage builds the runtime handler for op, an aggregate
// or join WindowBuild. fns/exprs must already be resolved per
// op.Aggregates for the aggregate case; nlj/hash (mutually exclusive,
// nil for the aggregate case) carry the join implementation
// rules.joinImplementationSelectionRule chose.
func newWindowBuildStage(op *physical.Operator, fns []aggregation.Function, exprs []logical.Expr, nlj *join.NLJ, hash *join.HashJoin) *windowBuildStage {
	s := &windowBuildStage{
		op:       op,
		updater:  watermark.NewUpdater(),
		aggFns:   fns,
		aggExprs: exprs,
		nlj:      nlj,
		hash:     hash,
	}
	if op.Window.Kind == logical.WindowSession {
		s.sessions = map[string]*window.SessionTracker{}
	} else {
		s.assigner = newAssigner(op.Window)
	}
	origins := map[uint64]bool{}
	for _, in := range op.Inputs {
		collectOrigins(in, origins)
	}
	for o := range origins {
		s.updater.RegisterOrigin(o)
	}
	if op.IsJoin {
		s.store = window.NewStore(newLocalJoinState)
		leaf := leafOperator(op.Inputs[0])
		s.leftProvider = record.NewRowProvider(leaf.Schema.WithLayout(schema.Row))
		rightLeaf := leafOperator(op.Inputs[1])
		s.rightProvider = record.NewRowProvider(rightLeaf.Schema.WithLayout(schema.Row))
	} else {
		s.store = window.NewStore(newGroupState(fns))
		leaf := leafOperator(op.Inputs[0])
		s.inProvider = record.NewRowProvider(leaf.Schema.WithLayout(schema.Row))
	}
	return s
}

// localJoinState is a no-op WorkerState placeholder: join build state
// lives directly in the join.NLJ/join.HashJoin's own window.Store
// (localLeft/localRight, or NLJ's embedded Left/Right stores), not in
// this operator's Store, which exists here only so Finalizable/Claim
// have a single directory to drive from for the join case too.
type localJoinState struct{}

func (localJoinState) Merge(window.WorkerState) {}

func newLocalJoinState() window.WorkerState { return localJoinState{} }

func (s *windowBuildStage) Setup() error                          { return nil }
func (s *windowBuildStage) Start() error                           { return nil }
func (s *windowBuildStage) Open(ctx *codegen.WorkerContext) error  { return nil }
func (s *windowBuildStage) Close(ctx *codegen.WorkerContext) error { return nil }
func (s *windowBuildStage) Stop() error                            { return nil }

func (s *windowBuildStage) Execute(buf *buffer.TupleBuffer, ctx *codegen.WorkerContext) (*buffer.TupleBuffer, error) {
	if buf.NumberOfTuples > 0 {
		if s.op.IsJoin {
			if err := s.executeJoin(buf, ctx); err != nil {
				return nil, err
			}
		} else {
			if err := s.executeAggregate(buf, ctx); err != nil {
				return nil, err
			}
		}
	}
	// Runs even for a tupleless barrier buffer: otherwise a watermark-only
	// buffer (no new records, just an advanced barrier) would never
	// unblock Combined() for origins that have gone quiet.
	if buf.WatermarkTs >= 0 {
		if err := s.updater.Advance(buf.OriginID, buf.SequenceNumber, buf.WatermarkTs); err != nil {
			return nil, fmt.Errorf("query: advancing watermark: %w", err)
		}
	}
	return nil, nil
}

func (s *windowBuildStage) executeAggregate(buf *buffer.TupleBuffer, ctx *codegen.WorkerContext) error {
	for i := 0; i < buf.NumberOfTuples; i++ {
		raw, err := s.inProvider.Read(buf, i)
		if err != nil {
			return fmt.Errorf("query: reading record %d: %w", i, err)
		}
		rec, eventTime, keep, err := walkChain(s.op.Inputs[0], raw, buf.CreationTs)
		if err != nil {
			return fmt.Errorf("query: evaluating record %d: %w", i, err)
		}
		if !keep {
			continue
		}
		key, err := groupKey(s.op.GroupBy, rec)
		if err != nil {
			return err
		}
		groupVals := make([]record.Value, len(s.op.GroupBy))
		for gi, g := range s.op.GroupBy {
			groupVals[gi], _ = rec.Field(g)
		}
		inputs := make([]record.Value, len(s.aggFns))
		for ai, e := range s.aggExprs {
			if e == nil {
				inputs[ai] = record.Int(schema.Int64, 1) // count(*)
				continue
			}
			v, err := join.Eval(e, rec)
			if err != nil {
				return err
			}
			inputs[ai] = v
		}

		slices, err := s.slicesFor(key, eventTime)
		if err != nil {
			return err
		}
		for _, sl := range slices {
			_, shard := s.store.Shard(sl, ctx.WorkerID)
			gs := shard.(*groupState)
			if err := gs.lift(key, groupVals, inputs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *windowBuildStage) executeJoin(buf *buffer.TupleBuffer, ctx *codegen.WorkerContext) error {
	isLeft := sameSide(s.op.Inputs[0], buf.OriginID)
	provider := s.leftProvider
	chain := s.op.Inputs[0]
	if !isLeft {
		provider = s.rightProvider
		chain = s.op.Inputs[1]
	}
	assigner := newAssigner(s.op.Window)
	for i := 0; i < buf.NumberOfTuples; i++ {
		raw, err := provider.Read(buf, i)
		if err != nil {
			return fmt.Errorf("query: reading record %d: %w", i, err)
		}
		rec, eventTime, keep, err := walkChain(chain, raw, buf.CreationTs)
		if err != nil {
			return fmt.Errorf("query: evaluating record %d: %w", i, err)
		}
		if !keep {
			continue
		}
		for _, slice := range assigner.Assign(eventTime) {
			if isLeft {
				if err := s.buildLeft(slice, ctx.WorkerID, rec); err != nil {
					return err
				}
			} else {
				if err := s.buildRight(slice, ctx.WorkerID, rec); err != nil {
					return err
				}
			}
			// Touch this operator's own Store too, purely so
			// Finalizable/Claim has an entry to drive probing from;
			// the join implementation owns the real build state.
			s.store.Shard(slice, ctx.WorkerID)
		}
	}
	return nil
}

func (s *windowBuildStage) buildLeft(sl window.Slice, workerID int, rec record.Record) error {
	if s.nlj != nil {
		s.nlj.BuildLeft(sl, workerID, rec)
		return nil
	}
	return s.hash.BuildLeft(sl, workerID, rec)
}

func (s *windowBuildStage) buildRight(sl window.Slice, workerID int, rec record.Record) error {
	if s.nlj != nil {
		s.nlj.BuildRight(sl, workerID, rec)
		return nil
	}
	return s.hash.BuildRight(sl, workerID, rec)
}

// sameSide reports whether buf's origin belongs to chain's set of
// Scan origins, walking every KindScan reachable under chain.
func sameSide(chain *physical.Operator, originID uint64) bool {
	if chain == nil {
		return false
	}
	if chain.Kind == physical.KindScan {
		return chain.OriginID == originID
	}
	for _, in := range chain.Inputs {
		if sameSide(in, originID) {
			return true
		}
	}
	return false
}

// collectOrigins adds every KindScan origin reachable under chain to
// seen, so a WindowBuild's watermark.Updater can pre-register the
// complete, statically known set of origins feeding it (join builds
// have two disjoint sets, one per side; Updater.Combined blocks until
// all of them have reported).
func collectOrigins(chain *physical.Operator, seen map[uint64]bool) {
	if chain == nil {
		return
	}
	if chain.Kind == physical.KindScan {
		seen[chain.OriginID] = true
		return
	}
	for _, in := range chain.Inputs {
		collectOrigins(in, seen)
	}
}

// slicesFor assigns eventTime to its window.Slice(s), using a
// per-group SessionTracker for session windows (Assign/Coalesce must
// run serialized per group, spec §4.5) or the stateless Assigner
// otherwise.
func (s *windowBuildStage) slicesFor(groupKey string, eventTime int64) ([]window.Slice, error) {
	if s.assigner != nil {
		return s.assigner.Assign(eventTime), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.sessions[groupKey]
	if !ok {
		t = &window.SessionTracker{Gap: s.op.Window.Gap}
		s.sessions[groupKey] = t
	}
	before := append([]window.Slice(nil), t.Slices()...)
	got := t.Assign(eventTime)
	t.Coalesce()
	after := t.Slices()
	// Migrate any slice that Coalesce renamed (right-merges-left: the
	// surviving identity is whichever of after's entries now covers
	// got, found by interval containment) so accumulated state stays
	// attached to the tracker's current view.
	for _, b := range before {
		if !containsAny(after, b) {
			for _, a := range after {
				if a.Start <= b.Start && b.End <= a.End {
					s.store.Rename(b, a)
					break
				}
			}
		}
	}
	for _, a := range after {
		if a.Start <= got.Start && got.End <= a.End {
			return []window.Slice{a}, nil
		}
	}
	return []window.Slice{got}, nil
}

func containsAny(slices []window.Slice, s window.Slice) bool {
	for _, sl := range slices {
		if sl == s {
			return true
		}
	}
	return false
}
