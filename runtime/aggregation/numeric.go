package aggregation

import (
	"math"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// countFn: state = {count uint64}, 8 bytes.
type countFn struct{}

func (countFn) Name() string          { return "count" }
func (countFn) NewState() interface{} { return make([]byte, 8) }
func (countFn) Lift(state interface{}, v record.Value) error {
	b := state.([]byte)
	ple64(b, le64(b)+1)
	return nil
}
func (countFn) Combine(dst, src interface{}) error {
	d, s := dst.([]byte), src.([]byte)
	ple64(d, le64(d)+le64(s))
	return nil
}
func (countFn) Lower(state interface{}) record.Value {
	return record.Int(schema.Int64, int64(le64(state.([]byte))))
}
func (countFn) Reset(state interface{}) { ple64(state.([]byte), 0) }

// sumFn: state = {sum int64 or sum float64, both 8 bytes}, widened to
// 64-bit per spec §4.6(a); Lift surfaces AggregationOverflow once the
// widened accumulator itself would wrap.
type sumFn struct{ typ schema.DataType }

func (f *sumFn) Name() string          { return "sum" }
func (f *sumFn) NewState() interface{} { return make([]byte, 8) }

func (f *sumFn) Lift(state interface{}, v record.Value) error {
	b := state.([]byte)
	if f.typ.IsFloat() {
		ple64(b, bits64(f64(le64(b))+v.AsFloat64()))
		return nil
	}
	cur := int64(le64(b))
	next := cur + v.AsInt64()
	if (cur > 0 && v.AsInt64() > 0 && next < 0) || (cur < 0 && v.AsInt64() < 0 && next > 0) {
		return errkind.ErrAggregationOverflow
	}
	ple64(b, uint64(next))
	return nil
}

func (f *sumFn) Combine(dst, src interface{}) error {
	d, s := dst.([]byte), src.([]byte)
	if f.typ.IsFloat() {
		ple64(d, bits64(f64(le64(d))+f64(le64(s))))
		return nil
	}
	a, b := int64(le64(d)), int64(le64(s))
	next := a + b
	if (a > 0 && b > 0 && next < 0) || (a < 0 && b < 0 && next > 0) {
		return errkind.ErrAggregationOverflow
	}
	ple64(d, uint64(next))
	return nil
}

func (f *sumFn) Lower(state interface{}) record.Value {
	b := state.([]byte)
	if f.typ.IsFloat() {
		return record.Float(schema.Float64, f64(le64(b)))
	}
	return record.Int(schema.Int64, int64(le64(b)))
}

func (f *sumFn) Reset(state interface{}) { ple64(state.([]byte), 0) }

// minMaxFn: state = {value float64 bits, seen byte as the 9th byte}.
// Comparisons always happen in float64 space so integer and float
// inputs share one code path; "NaN loses" is implemented by never
// letting a NaN replace the current extreme and never letting the
// current extreme become NaN.
type minMaxFn struct {
	typ   schema.DataType
	isMin bool
}

func (f *minMaxFn) Name() string {
	if f.isMin {
		return "min"
	}
	return "max"
}

func (f *minMaxFn) NewState() interface{} { return make([]byte, 9) }

func (f *minMaxFn) Lift(state interface{}, v record.Value) error {
	b := state.([]byte)
	cand := v.AsFloat64()
	if math.IsNaN(cand) {
		return nil
	}
	if b[8] == 0 {
		ple64(b, bits64(cand))
		b[8] = 1
		return nil
	}
	cur := f64(le64(b))
	if (f.isMin && cand < cur) || (!f.isMin && cand > cur) {
		ple64(b, bits64(cand))
	}
	return nil
}

func (f *minMaxFn) Combine(dst, src interface{}) error {
	d, s := dst.([]byte), src.([]byte)
	if s[8] == 0 {
		return nil
	}
	if d[8] == 0 {
		copy(d, s)
		return nil
	}
	dv, sv := f64(le64(d)), f64(le64(s))
	if (f.isMin && sv < dv) || (!f.isMin && sv > dv) {
		ple64(d, bits64(sv))
	}
	return nil
}

func (f *minMaxFn) Lower(state interface{}) record.Value {
	b := state.([]byte)
	v := f64(le64(b))
	if f.typ.IsFloat() {
		return record.Float(f.typ, v)
	}
	return record.Int(f.typ, int64(v))
}

func (f *minMaxFn) Reset(state interface{}) {
	b := state.([]byte)
	ple64(b, 0)
	b[8] = 0
}

// avgFn: state = {sum float64, count uint64}, 16 bytes; lower = sum/count.
type avgFn struct{ typ schema.DataType }

func (avgFn) Name() string          { return "avg" }
func (avgFn) NewState() interface{} { return make([]byte, 16) }

func (f *avgFn) Lift(state interface{}, v record.Value) error {
	b := state.([]byte)
	sum := f64(le64(b[0:8])) + v.AsFloat64()
	count := le64(b[8:16]) + 1
	ple64(b[0:8], bits64(sum))
	ple64(b[8:16], count)
	return nil
}

func (f *avgFn) Combine(dst, src interface{}) error {
	d, s := dst.([]byte), src.([]byte)
	sum := f64(le64(d[0:8])) + f64(le64(s[0:8]))
	count := le64(d[8:16]) + le64(s[8:16])
	ple64(d[0:8], bits64(sum))
	ple64(d[8:16], count)
	return nil
}

func (avgFn) Lower(state interface{}) record.Value {
	b := state.([]byte)
	sum := f64(le64(b[0:8]))
	count := le64(b[8:16])
	if count == 0 {
		return record.Float(schema.Float64, 0)
	}
	return record.Float(schema.Float64, sum/float64(count))
}

func (avgFn) Reset(state interface{}) {
	b := state.([]byte)
	ple64(b[0:8], 0)
	ple64(b[8:16], 0)
}
