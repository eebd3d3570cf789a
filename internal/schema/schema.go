package schema

import (
	"fmt"

	"github.com/flowmesh/streamcore/ion"
)

// Layout selects the physical arrangement of a tuple buffer's rows.
type Layout uint8

const (
	// Row lays out one contiguous record per row, with a field-offset
	// table shared by every row in the buffer.
	Row Layout = iota
	// Column lays out one contiguous array per field; all arrays
	// share the buffer's tuple capacity.
	Column
)

func (l Layout) String() string {
	if l == Column {
		return "COLUMN"
	}
	return "ROW"
}

// Field is one named, typed column of a Schema.
type Field struct {
	Name string
	Type DataType
}

// Schema is an ordered list of fields plus the physical layout that a
// MemoryProvider built against it will assume.
type Schema struct {
	Fields []Field
	Layout Layout
}

// New builds a Schema with the given fields in ROW layout.
func New(fields ...Field) Schema {
	return Schema{Fields: fields, Layout: Row}
}

// WithLayout returns a copy of s with a different physical layout.
func (s Schema) WithLayout(l Layout) Schema {
	s.Layout = l
	return s
}

// IndexOf returns the position of the named field, or -1 if absent.
func (s Schema) IndexOf(name string) int {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Field returns the named field and whether it was found.
func (s Schema) Field(name string) (Field, bool) {
	i := s.IndexOf(name)
	if i < 0 {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Equal reports structural equality of field name/type/order, which is
// the equality union and join require (spec §4.1).
func (s Schema) Equal(o Schema) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i].Name != o.Fields[i].Name || s.Fields[i].Type != o.Fields[i].Type {
			return false
		}
	}
	return true
}

// Project returns the subset of s named by cols, preserving s's field
// order among the selected names. Projection(cols) twice is idempotent
// because the result schema only ever contains the requested names.
func (s Schema) Project(cols []string) (Schema, error) {
	want := make(map[string]bool, len(cols))
	for _, c := range cols {
		want[c] = true
	}
	out := Schema{Layout: s.Layout}
	for _, f := range s.Fields {
		if want[f.Name] {
			out.Fields = append(out.Fields, f)
			delete(want, f.Name)
		}
	}
	for name := range want {
		return Schema{}, fmt.Errorf("projection: unknown field %q", name)
	}
	return out, nil
}

// RowSize returns the number of bytes one fixed-width record occupies
// in ROW layout (excluding any child-buffer payload).
func (s Schema) RowSize() int {
	n := 0
	for _, f := range s.Fields {
		n += f.Type.PhysicalSize()
	}
	return n
}

// Offsets returns the byte offset of each field within a ROW-layout
// record, in field order.
func (s Schema) Offsets() []int {
	offs := make([]int, len(s.Fields))
	off := 0
	for i, f := range s.Fields {
		offs[i] = off
		off += f.Type.PhysicalSize()
	}
	return offs
}

// symbol names used when encoding a Schema to ion.
const (
	symSchemaFields = "fields"
	symFieldName    = "name"
	symFieldKind    = "kind"
	symFieldN       = "n"
	symLayout       = "layout"
)

// Serialize encodes the schema as an ion structure. Deserialize(Serialize(s))
// is required to reproduce s exactly (spec §8 round-trip invariant).
func (s Schema) Serialize() []byte {
	var st ion.Symtab
	var buf ion.Buffer

	fsym := st.Intern(symFieldName)
	ksym := st.Intern(symFieldKind)
	nsym := st.Intern(symFieldN)
	lsym := st.Intern(symLayout)
	fieldsSym := st.Intern(symSchemaFields)

	st.Marshal(&buf, true)

	buf.BeginStruct(-1)
	buf.BeginField(lsym)
	buf.WriteInt(int64(s.Layout))

	buf.BeginField(fieldsSym)
	buf.BeginList(-1)
	for _, f := range s.Fields {
		buf.BeginStruct(-1)
		buf.BeginField(fsym)
		buf.WriteString(f.Name)
		buf.BeginField(ksym)
		buf.WriteInt(int64(f.Type.Kind))
		buf.BeginField(nsym)
		buf.WriteInt(int64(f.Type.N))
		buf.EndStruct()
	}
	buf.EndList()
	buf.EndStruct()

	return buf.Bytes()
}

// Deserialize decodes a Schema encoded by Serialize.
func Deserialize(b []byte) (Schema, error) {
	var st ion.Symtab
	b, err := st.Unmarshal(b)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: decoding symbol table: %w", err)
	}
	d, _, err := ion.ReadDatum(&st, b)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: decoding struct: %w", err)
	}
	if _, ok := d.Struct(); !ok {
		return Schema{}, fmt.Errorf("schema: top-level datum is not a struct")
	}

	var out Schema
	if layoutD := d.Field(symLayout); !layoutD.Empty() {
		n, _ := layoutD.Int()
		out.Layout = Layout(n)
	}
	fieldsD := d.Field(symSchemaFields)
	list, ok := fieldsD.List()
	if !ok {
		return Schema{}, fmt.Errorf("schema: %q is not a list", symSchemaFields)
	}
	err = list.Each(func(item ion.Datum) bool {
		if _, ok := item.Struct(); !ok {
			err = fmt.Errorf("schema: field entry is not a struct")
			return false
		}
		name, _ := item.Field(symFieldName).String()
		kind, _ := item.Field(symFieldKind).Int()
		n, _ := item.Field(symFieldN).Int()
		out.Fields = append(out.Fields, Field{
			Name: name,
			Type: DataType{Kind: Kind(kind), N: int(n)},
		})
		return true
	})
	if err != nil {
		return Schema{}, err
	}
	return out, nil
}
