package record

import (
	"fmt"

	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/internal/schema"
)

// ColumnProvider implements MemoryProvider for Schema.Column layout:
// one contiguous array per field, all arrays sized to the buffer's
// shared tuple capacity.
type ColumnProvider struct {
	Schema   schema.Schema
	capacity int
}

func NewColumnProvider(s schema.Schema, capacity int) *ColumnProvider {
	return &ColumnProvider{Schema: s, capacity: capacity}
}

func (p *ColumnProvider) Capacity(buf *buffer.TupleBuffer) int { return p.capacity }

func (p *ColumnProvider) NumTuples(buf *buffer.TupleBuffer) int { return buf.NumberOfTuples }

// columnOffset returns the byte offset of field i's array within the
// buffer: arrays are laid out back-to-back, each sized capacity *
// field.Type.PhysicalSize().
func (p *ColumnProvider) columnOffset(i int) int {
	off := 0
	for j := 0; j < i; j++ {
		off += p.capacity * p.Schema.Fields[j].Type.PhysicalSize()
	}
	return off
}

func (p *ColumnProvider) Read(buf *buffer.TupleBuffer, idx int) (Record, error) {
	if idx < 0 || idx >= buf.NumberOfTuples {
		return Record{}, fmt.Errorf("record: index %d out of range [0,%d)", idx, buf.NumberOfTuples)
	}
	vals := make([]Value, len(p.Schema.Fields))
	bytes := buf.Bytes()
	for i, f := range p.Schema.Fields {
		sz := f.Type.PhysicalSize()
		base := p.columnOffset(i)
		slot := bytes[base+idx*sz : base+(idx+1)*sz]
		vals[i] = decodeValue(buf, f.Type, slot)
	}
	return Record{Schema: p.Schema, Values: vals}, nil
}

func (p *ColumnProvider) Write(buf *buffer.TupleBuffer, idx int, rec Record) (bool, error) {
	if idx >= p.capacity {
		return false, nil
	}
	bytes := buf.Bytes()
	for i, f := range p.Schema.Fields {
		v, ok := rec.Field(f.Name)
		if !ok {
			return false, fmt.Errorf("record: write missing field %q", f.Name)
		}
		sz := f.Type.PhysicalSize()
		base := p.columnOffset(i)
		slot := bytes[base+idx*sz : base+(idx+1)*sz]
		if err := encodeValue(buf, f.Type, v, slot); err != nil {
			return false, err
		}
	}
	if idx >= buf.NumberOfTuples {
		buf.NumberOfTuples = idx + 1
	}
	return true, nil
}

// NewProvider returns the MemoryProvider matching s.Layout.
func NewProvider(s schema.Schema, capacity int) MemoryProvider {
	if s.Layout == schema.Column {
		return NewColumnProvider(s, capacity)
	}
	return NewRowProvider(s)
}
