package aggregation

import (
	"sort"

	"github.com/flowmesh/streamcore/internal/percentile"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// tdigestCompression bounds the t-digest's centroid count. A digest only
// compresses once it holds more centroids than this value, and
// internal/percentile stores at most 32 centroids, so the value stays
// well below 32.
const tdigestCompression = 16

// medianFn computes an approximate median by default, backed by the
// kept teacher t-digest implementation (internal/percentile), or an
// exact median when exact is set, storing every observed value in a
// paged vector as spec §4.6 allows.
type medianFn struct {
	exact bool
}

func (f *medianFn) Name() string {
	if f.exact {
		return "median_exact"
	}
	return "median"
}

func (f *medianFn) NewState() interface{} {
	if f.exact {
		return &exactMedianState{}
	}
	return &approxMedianState{}
}

type approxMedianState struct {
	digest *percentile.TDigest
}

type exactMedianState struct {
	values []float32 // paged vector of observed values, spec §4.6
}

func (f *medianFn) Lift(state interface{}, v record.Value) error {
	if f.exact {
		s := state.(*exactMedianState)
		s.values = append(s.values, float32(v.AsFloat64()))
		return nil
	}
	s := state.(*approxMedianState)
	sample := []float32{float32(v.AsFloat64())}
	if s.digest == nil {
		s.digest = percentile.NewTDigest(sample, tdigestCompression)
		return nil
	}
	s.digest.Merge(percentile.NewTDigest(sample, tdigestCompression), tdigestCompression)
	return nil
}

func (f *medianFn) Combine(dst, src interface{}) error {
	if f.exact {
		d, s := dst.(*exactMedianState), src.(*exactMedianState)
		d.values = append(d.values, s.values...)
		return nil
	}
	d, s := dst.(*approxMedianState), src.(*approxMedianState)
	if s.digest == nil {
		return nil
	}
	if d.digest == nil {
		d.digest = s.digest
		return nil
	}
	d.digest.Merge(s.digest, tdigestCompression)
	return nil
}

func (f *medianFn) Lower(state interface{}) record.Value {
	if f.exact {
		s := state.(*exactMedianState)
		if len(s.values) == 0 {
			return record.Float(schema.Float64, 0)
		}
		sorted := append([]float32(nil), s.values...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return record.Float(schema.Float64, float64(sorted[mid]))
		}
		return record.Float(schema.Float64, float64(sorted[mid-1]+sorted[mid])/2)
	}
	s := state.(*approxMedianState)
	if s.digest == nil {
		return record.Float(schema.Float64, 0)
	}
	return record.Float(schema.Float64, float64(s.digest.Percentile(0.5)))
}

func (f *medianFn) Reset(state interface{}) {
	if f.exact {
		state.(*exactMedianState).values = nil
		return
	}
	state.(*approxMedianState).digest = nil
}
