// Package errkind implements the engine's error taxonomy: sentinel,
// errors.Is-comparable error values that every layer wraps with
// fmt.Errorf("...: %w", ...) as it propagates.
package errkind

import "errors"

// Sentinel errors identifying each failure category. Wrap these with
// fmt.Errorf("%w: ...", errkind.X) to preserve errors.Is matching while
// attaching context.
var (
	// ErrConfiguration is a malformed configuration or submission,
	// rejected before execution.
	ErrConfiguration = errors.New("configuration error")

	// ErrTypeInference is a schema/type mismatch in the logical plan.
	ErrTypeInference = errors.New("type inference error")

	// ErrUnknownField is a field name absent from the current schema.
	ErrUnknownField = errors.New("unknown field")

	// ErrCompilation is an IR verification or backend failure.
	ErrCompilation = errors.New("compilation error")

	// ErrRuntimeOperator is a fault during an operator's execute
	// (arithmetic trap, bad memory reference).
	ErrRuntimeOperator = errors.New("runtime operator error")

	// ErrOriginGap is a per-origin sequencer hole that exceeded the
	// configured timeout.
	ErrOriginGap = errors.New("origin gap error")

	// ErrSink is a persistent downstream sink failure.
	ErrSink = errors.New("sink error")

	// ErrCancellationRequested marks a cooperative stop acknowledged
	// by an operator or source.
	ErrCancellationRequested = errors.New("cancellation requested")

	// ErrAggregationOverflow marks an aggregation accumulator that hit
	// a type-specified bound.
	ErrAggregationOverflow = errors.New("aggregation overflow")
)

// OriginGapError carries the detail spec §4.4/§8 requires when a
// sequencer hole times out.
type OriginGapError struct {
	OriginID   uint64
	MissingSeq uint64
}

func (e *OriginGapError) Error() string {
	return "origin gap: origin " + itoa(e.OriginID) + " missing sequence " + itoa(e.MissingSeq)
}

func (e *OriginGapError) Unwrap() error { return ErrOriginGap }

// TypeInferenceError carries the offending node's description and the
// reason inference failed (spec §4.1).
type TypeInferenceError struct {
	Node   string
	Reason string
}

func (e *TypeInferenceError) Error() string {
	return "type inference failed at " + e.Node + ": " + e.Reason
}

func (e *TypeInferenceError) Unwrap() error { return ErrTypeInference }

// UnknownFieldError is returned when field access names a field absent
// from the current schema.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return "unknown field " + quote(e.Field)
}

func (e *UnknownFieldError) Unwrap() error { return ErrUnknownField }

func quote(s string) string { return "\"" + s + "\"" }

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
