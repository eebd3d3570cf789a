package source

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/utf8"
	"github.com/flowmesh/streamcore/xsv"
)

// maxFieldRunes bounds the decoded rune length of a single variable-
// sized string field, rejecting a malformed or runaway input line
// before it reaches the child buffer allocator.
const maxFieldRunes = 1 << 20

// CSVFormatter decodes one RFC 4180 CSV line per record, field order
// matching the schema, using the kept xsv.CsvChopper field splitter.
type CSVFormatter struct {
	chopper xsv.CsvChopper
}

// NewCSVFormatter returns a formatter using sep as the field
// separator (0 selects xsv's default comma).
func NewCSVFormatter(sep xsv.Delim) *CSVFormatter {
	return &CSVFormatter{chopper: xsv.CsvChopper{Separator: sep}}
}

func (f *CSVFormatter) Parse(line []byte, s schema.Schema) (record.Record, error) {
	fields, err := f.chopper.GetNext(bytes.NewReader(line))
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: csv parse: %v", errkind.ErrRuntimeOperator, err)
	}
	if len(fields) != len(s.Fields) {
		return record.Record{}, fmt.Errorf("%w: csv line has %d fields, schema has %d", errkind.ErrRuntimeOperator, len(fields), len(s.Fields))
	}
	vals := make([]record.Value, len(s.Fields))
	for i, fd := range s.Fields {
		v, err := parseScalar(fields[i], fd.Type)
		if err != nil {
			return record.Record{}, fmt.Errorf("%w: csv field %q: %v", errkind.ErrRuntimeOperator, fd.Name, err)
		}
		vals[i] = v
	}
	return record.Record{Schema: s, Values: vals}, nil
}

// parseScalar converts one text field into a typed record.Value.
func parseScalar(text string, typ schema.DataType) (record.Value, error) {
	switch {
	case typ.IsVariableSized():
		b := []byte(text)
		if n := utf8.ValidStringLength(b); n > maxFieldRunes {
			return record.Value{}, fmt.Errorf("string field has %d runes, exceeds %d-rune limit", n, maxFieldRunes)
		}
		return record.Bytes(typ, b), nil
	case typ.IsFloat():
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return record.Value{}, err
		}
		return record.Float(typ, f), nil
	case typ == schema.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return record.Value{}, err
		}
		return record.Bool(b), nil
	default:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return record.Value{}, err
		}
		return record.Int(typ, i), nil
	}
}
