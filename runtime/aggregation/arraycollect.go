package aggregation

import (
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// arrayCollectFn accumulates every lifted value into a paged vector of
// variable-sized items (spec §4.6); its state would participate in
// child-buffer chaining (internal/buffer.TupleBuffer.AddChild) once
// wired into a real memory-provider-backed pipeline stage, so its
// result is already shaped to be written through that path: the
// lowered Value carries the concatenated, length-prefixed item
// encoding a VarBinary field writes into a child buffer.
type arrayCollectFn struct {
	typ schema.DataType
}

func (arrayCollectFn) Name() string          { return "array_collect" }
func (arrayCollectFn) NewState() interface{} { return &arrayCollectState{} }

type arrayCollectState struct {
	items []record.Value
}

func (arrayCollectFn) Lift(state interface{}, v record.Value) error {
	s := state.(*arrayCollectState)
	s.items = append(s.items, v)
	return nil
}

func (arrayCollectFn) Combine(dst, src interface{}) error {
	d, s := dst.(*arrayCollectState), src.(*arrayCollectState)
	d.items = append(d.items, s.items...)
	return nil
}

func (f *arrayCollectFn) Lower(state interface{}) record.Value {
	s := state.(*arrayCollectState)
	return record.Bytes(schema.VarBinary, encodeItems(f.typ, s.items))
}

func (arrayCollectFn) Reset(state interface{}) {
	state.(*arrayCollectState).items = nil
}

// encodeItems packs items as a length-prefixed run, one 8-byte
// little-endian length followed by that many payload bytes per item
// (fixed 8-byte value for numeric kinds, raw bytes for VarBinary).
func encodeItems(typ schema.DataType, items []record.Value) []byte {
	out := make([]byte, 0, len(items)*9)
	for _, v := range items {
		var payload [8]byte
		var b []byte
		if typ.IsVariableSized() {
			b = v.S
		} else if typ.IsFloat() {
			ple64(payload[:], bits64(v.F))
			b = payload[:]
		} else {
			ple64(payload[:], uint64(v.I))
			b = payload[:]
		}
		var lenBuf [8]byte
		ple64(lenBuf[:], uint64(len(b)))
		out = append(out, lenBuf[:]...)
		out = append(out, b...)
	}
	return out
}
