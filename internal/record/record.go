// Package record implements the compile-time view over a tuple
// buffer's rows (spec §3): a MemoryProvider pairs a Schema and a
// Layout with read/write primitives that the code generator's traced
// operator bodies call against, and Record is the logical field-name
// keyed view codegen and the interpreter backend manipulate.
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/schema"
)

// Value is a dynamically typed field value. The code generator's
// tracing front-end and the interpreter backend pass these around;
// the JIT backend compiles through the interpreter backend and so
// handles the same Value shape.
type Value struct {
	Type schema.DataType
	I    int64   // integer kinds, bool (0/1), timestamp (unix micros)
	F    float64 // float kinds
	S    []byte  // fixed-char and var-binary kinds
}

func Int(t schema.DataType, v int64) Value     { return Value{Type: t, I: v} }
func Float(t schema.DataType, v float64) Value { return Value{Type: t, F: v} }
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{Type: schema.Bool, I: i}
}
func Bytes(t schema.DataType, v []byte) Value { return Value{Type: t, S: v} }

func (v Value) AsFloat64() float64 {
	if v.Type.IsFloat() {
		return v.F
	}
	return float64(v.I)
}

func (v Value) AsInt64() int64 {
	if v.Type.IsFloat() {
		return int64(v.F)
	}
	return v.I
}

func (v Value) AsBool() bool { return v.I != 0 }

// Record is the logical field-name -> value view over one row.
type Record struct {
	Schema schema.Schema
	Values []Value
}

// Field returns the named field's value.
func (r Record) Field(name string) (Value, bool) {
	i := r.Schema.IndexOf(name)
	if i < 0 {
		return Value{}, false
	}
	return r.Values[i], true
}

// With returns a copy of r with field name set to v, appending it if
// name is not already present -- the primitive the Map operator uses
// to "overwrite or appends a field" (spec §4.2).
func (r Record) With(name string, v Value) Record {
	i := r.Schema.IndexOf(name)
	if i >= 0 {
		out := r
		out.Values = append([]Value(nil), r.Values...)
		out.Values[i] = v
		return out
	}
	out := Record{
		Schema: schema.Schema{
			Fields: append(append([]schema.Field(nil), r.Schema.Fields...), schema.Field{Name: name, Type: v.Type}),
			Layout: r.Schema.Layout,
		},
		Values: append(append([]Value(nil), r.Values...), v),
	}
	return out
}

// Project restricts the record to the named fields, in schema order.
func (r Record) Project(cols []string) (Record, error) {
	s, err := r.Schema.Project(cols)
	if err != nil {
		return Record{}, err
	}
	vals := make([]Value, len(s.Fields))
	for i, f := range s.Fields {
		v, _ := r.Field(f.Name)
		vals[i] = v
		_ = f
	}
	return Record{Schema: s, Values: vals}, nil
}

// MemoryProvider reads and writes records against a tuple buffer laid
// out according to a fixed Schema. Only ROW layout is implemented
// here; COLUMN layout is handled by ColumnProvider in column.go.
type MemoryProvider interface {
	// NumTuples returns the number of complete records the buffer
	// currently holds.
	NumTuples(buf *buffer.TupleBuffer) int
	// Read returns the idx'th record.
	Read(buf *buffer.TupleBuffer, idx int) (Record, error)
	// Write stores rec at position idx, growing NumberOfTuples if idx
	// is the next free slot. Returns false if the buffer has no room.
	Write(buf *buffer.TupleBuffer, idx int, rec Record) (bool, error)
	// Capacity returns the maximum number of tuples the buffer can
	// hold under this layout.
	Capacity(buf *buffer.TupleBuffer) int
}

// RowProvider implements MemoryProvider for Schema.Row layout: one
// contiguous record per row, fields placed at the schema's Offsets().
type RowProvider struct {
	Schema schema.Schema
}

func NewRowProvider(s schema.Schema) *RowProvider {
	return &RowProvider{Schema: s}
}

func (p *RowProvider) rowSize() int { return p.Schema.RowSize() }

func (p *RowProvider) Capacity(buf *buffer.TupleBuffer) int {
	sz := p.rowSize()
	if sz == 0 {
		return 0
	}
	return len(buf.Bytes()) / sz
}

func (p *RowProvider) NumTuples(buf *buffer.TupleBuffer) int {
	return buf.NumberOfTuples
}

func (p *RowProvider) Read(buf *buffer.TupleBuffer, idx int) (Record, error) {
	if idx < 0 || idx >= buf.NumberOfTuples {
		return Record{}, fmt.Errorf("record: index %d out of range [0,%d)", idx, buf.NumberOfTuples)
	}
	rowSize := p.rowSize()
	offs := p.Schema.Offsets()
	row := buf.Bytes()[idx*rowSize : (idx+1)*rowSize]

	vals := make([]Value, len(p.Schema.Fields))
	for i, f := range p.Schema.Fields {
		off := offs[i]
		vals[i] = decodeValue(buf, f.Type, row[off:off+f.Type.PhysicalSize()])
	}
	return Record{Schema: p.Schema, Values: vals}, nil
}

func (p *RowProvider) Write(buf *buffer.TupleBuffer, idx int, rec Record) (bool, error) {
	if idx >= p.Capacity(buf) {
		return false, nil
	}
	rowSize := p.rowSize()
	offs := p.Schema.Offsets()
	row := buf.Bytes()[idx*rowSize : (idx+1)*rowSize]

	for i, f := range p.Schema.Fields {
		v, ok := rec.Field(f.Name)
		if !ok {
			return false, fmt.Errorf("record: write missing field %q", f.Name)
		}
		off := offs[i]
		if err := encodeValue(buf, f.Type, v, row[off:off+f.Type.PhysicalSize()]); err != nil {
			return false, err
		}
	}
	if idx >= buf.NumberOfTuples {
		buf.NumberOfTuples = idx + 1
	}
	return true, nil
}

func decodeValue(buf *buffer.TupleBuffer, t schema.DataType, slot []byte) Value {
	switch t.Kind {
	case schema.KindInt8:
		return Int(t, int64(int8(slot[0])))
	case schema.KindUint8:
		return Int(t, int64(slot[0]))
	case schema.KindBool:
		return Bool(slot[0] != 0)
	case schema.KindInt16:
		return Int(t, int64(int16(binary.LittleEndian.Uint16(slot))))
	case schema.KindUint16:
		return Int(t, int64(binary.LittleEndian.Uint16(slot)))
	case schema.KindInt32:
		return Int(t, int64(int32(binary.LittleEndian.Uint32(slot))))
	case schema.KindUint32:
		return Int(t, int64(binary.LittleEndian.Uint32(slot)))
	case schema.KindFloat32:
		return Float(t, float64(math.Float32frombits(binary.LittleEndian.Uint32(slot))))
	case schema.KindInt64, schema.KindTimestamp:
		return Int(t, int64(binary.LittleEndian.Uint64(slot)))
	case schema.KindUint64:
		return Value{Type: t, I: int64(binary.LittleEndian.Uint64(slot))}
	case schema.KindFloat64:
		return Float(t, math.Float64frombits(binary.LittleEndian.Uint64(slot)))
	case schema.KindFixedChar:
		return Bytes(t, append([]byte(nil), slot...))
	case schema.KindVarBinary:
		off := binary.LittleEndian.Uint32(slot[0:4])
		child, err := buf.Child(int(off))
		if err != nil {
			return Bytes(t, nil)
		}
		return Bytes(t, child.Data)
	default:
		return Value{Type: t}
	}
}

func encodeValue(buf *buffer.TupleBuffer, t schema.DataType, v Value, slot []byte) error {
	switch t.Kind {
	case schema.KindInt8, schema.KindUint8:
		slot[0] = byte(v.AsInt64())
	case schema.KindBool:
		if v.AsBool() {
			slot[0] = 1
		} else {
			slot[0] = 0
		}
	case schema.KindInt16, schema.KindUint16:
		binary.LittleEndian.PutUint16(slot, uint16(v.AsInt64()))
	case schema.KindInt32, schema.KindUint32:
		binary.LittleEndian.PutUint32(slot, uint32(v.AsInt64()))
	case schema.KindFloat32:
		binary.LittleEndian.PutUint32(slot, math.Float32bits(float32(v.AsFloat64())))
	case schema.KindInt64, schema.KindUint64, schema.KindTimestamp:
		binary.LittleEndian.PutUint64(slot, uint64(v.AsInt64()))
	case schema.KindFloat64:
		binary.LittleEndian.PutUint64(slot, math.Float64bits(v.AsFloat64()))
	case schema.KindFixedChar:
		n := copy(slot, v.S)
		for ; n < len(slot); n++ {
			slot[n] = 0
		}
	case schema.KindVarBinary:
		idx := buf.AddChild(append([]byte(nil), v.S...))
		binary.LittleEndian.PutUint32(slot[0:4], uint32(idx))
		binary.LittleEndian.PutUint32(slot[4:8], uint32(len(v.S)))
	default:
		return fmt.Errorf("record: unsupported field type %s", t)
	}
	return nil
}
