// Package aggregation implements the lift/combine/lower/reset
// aggregation interface and the Count, Sum, Min, Max, Avg, Median,
// Array-collect functions, plus a CountMinSketch synopsis operator.
//
// Aggregation state is a raw byte region accessed via typed views
// produced by the code generator wherever that fits. Fixed-width
// accumulators (Count, Sum, Min, Max, Avg) are genuinely byte-backed
// here, encoded with encoding/binary to pack fixed fields densely.
// Median, Array-collect and CountMinSketch own variable-length or
// pointer-heavy payloads (a t-digest, a growable vector, a sketch
// matrix) that don't fit a fixed-size byte region — State is
// `interface{}` instead of `[]byte` for exactly those three,
// documented in DESIGN.md.
package aggregation

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// Function is the four-entry-point aggregation contract of spec §4.6.
type Function interface {
	Name() string
	NewState() interface{}
	Lift(state interface{}, v record.Value) error
	Combine(dst, src interface{}) error
	Lower(state interface{}) record.Value
	Reset(state interface{})
}

// New returns the Function implementing name over input type inType,
// or an error if name is unknown.
func New(name string, inType schema.DataType) (Function, error) {
	switch name {
	case "count":
		return &countFn{}, nil
	case "sum":
		return &sumFn{typ: inType}, nil
	case "min":
		return &minMaxFn{typ: inType, isMin: true}, nil
	case "max":
		return &minMaxFn{typ: inType, isMin: false}, nil
	case "avg":
		return &avgFn{typ: inType}, nil
	case "median":
		return &medianFn{exact: false}, nil
	case "median_exact":
		return &medianFn{exact: true}, nil
	case "array_collect":
		return &arrayCollectFn{typ: inType}, nil
	case "count_min_sketch":
		return newCountMinSketchFn(), nil
	default:
		return nil, fmt.Errorf("%w: unknown aggregation function %q", errkind.ErrConfiguration, name)
	}
}

func float64At(v record.Value) float64 { return v.AsFloat64() }
func int64At(v record.Value) int64     { return v.AsInt64() }

func le64(b []byte) uint64  { return binary.LittleEndian.Uint64(b) }
func ple64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

func f64(bits uint64) float64 { return math.Float64frombits(bits) }
func bits64(f float64) uint64 { return math.Float64bits(f) }
