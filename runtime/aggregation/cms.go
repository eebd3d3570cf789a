package aggregation

import (
	"encoding/binary"
	"math"

	"github.com/dchest/siphash"

	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// cmsDepth and cmsWidth fix the sketch's error bounds: depth rows,
// each width counters wide, give an expected overcount of at most
// count/width with confidence 1-(1/2)^depth (standard CMS bounds).
const (
	cmsDepth = 4
	cmsWidth = 1 << 12
)

// cmsSeeds are the per-row siphash keys; fixed so two sketches built
// independently (per worker shard) are combinable.
var cmsSeeds = [cmsDepth][2]uint64{
	{0x9ae16a3b2f90404f, 0xc949d7c7519cfef5},
	{0x2545f4914f6cdd1d, 0x9823aeec23827d1f},
	{0xa3f1c1e5d8b4f301, 0x6a09e667f3bcc909},
	{0xbb67ae8584caa73b, 0x3c6ef372fe94f82b},
}

// countMinSketchFn tracks approximate per-value frequencies over the
// window's records, scoped in per Open Question i to exactly this
// fixed-width sketch (no DDSketch/histogram variants, see DESIGN.md).
type countMinSketchFn struct{}

func newCountMinSketchFn() *countMinSketchFn { return &countMinSketchFn{} }

func (*countMinSketchFn) Name() string { return "count_min_sketch" }

func (*countMinSketchFn) NewState() interface{} {
	s := &cmsState{}
	for i := range s.rows {
		s.rows[i] = make([]uint32, cmsWidth)
	}
	return s
}

type cmsState struct {
	rows [cmsDepth][]uint32
}

func keyBytes(v record.Value) []byte {
	if v.Type.IsVariableSized() {
		return v.S
	}
	var b [8]byte
	if v.Type.IsFloat() {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F))
	} else {
		binary.LittleEndian.PutUint64(b[:], uint64(v.I))
	}
	return b[:]
}

func (*countMinSketchFn) Lift(state interface{}, v record.Value) error {
	s := state.(*cmsState)
	key := keyBytes(v)
	for i, seed := range cmsSeeds {
		h := siphash.Hash(seed[0], seed[1], key)
		s.rows[i][h%cmsWidth]++
	}
	return nil
}

func (*countMinSketchFn) Combine(dst, src interface{}) error {
	d, s := dst.(*cmsState), src.(*cmsState)
	for i := range d.rows {
		for j := range d.rows[i] {
			d.rows[i][j] += s.rows[i][j]
		}
	}
	return nil
}

// Estimate returns the minimum counter across rows for key, the CMS
// point-query estimate (never an undercount).
func (s *cmsState) Estimate(v record.Value) uint32 {
	key := keyBytes(v)
	min := uint32(math.MaxUint32)
	for i, seed := range cmsSeeds {
		h := siphash.Hash(seed[0], seed[1], key)
		if c := s.rows[i][h%cmsWidth]; c < min {
			min = c
		}
	}
	return min
}

func (*countMinSketchFn) Lower(state interface{}) record.Value {
	// The sketch itself is the aggregation result; downstream point
	// queries call cmsState.Estimate. Encode the flattened counter
	// matrix as the output VarBinary payload.
	s := state.(*cmsState)
	out := make([]byte, 0, cmsDepth*cmsWidth*4)
	var buf [4]byte
	for i := range s.rows {
		for _, c := range s.rows[i] {
			binary.LittleEndian.PutUint32(buf[:], c)
			out = append(out, buf[:]...)
		}
	}
	return record.Bytes(schema.VarBinary, out)
}

func (*countMinSketchFn) Reset(state interface{}) {
	s := state.(*cmsState)
	for i := range s.rows {
		for j := range s.rows[i] {
			s.rows[i][j] = 0
		}
	}
}
