package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"

	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// CSVFormatter renders a record as one RFC 4180 CSV line, field order
// matching the record's schema, the sink-side mirror of
// adapters/source.CSVFormatter.
type CSVFormatter struct{}

func (CSVFormatter) Format(rec record.Record) ([]byte, error) {
	fields := make([]string, len(rec.Values))
	for i, v := range rec.Values {
		fields[i] = formatScalar(v)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// JSONFormatter renders a record as one NDJSON object keyed by field
// name, the sink-side mirror of adapters/source.JSONFormatter.
type JSONFormatter struct{}

func (JSONFormatter) Format(rec record.Record) ([]byte, error) {
	obj := make(map[string]interface{}, len(rec.Values))
	for i, f := range rec.Schema.Fields {
		obj[f.Name] = scalarToJSON(rec.Values[i])
	}
	return json.Marshal(obj)
}

func formatScalar(v record.Value) string {
	switch {
	case v.Type.IsVariableSized():
		return string(v.S)
	case v.Type.IsFloat():
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case v.Type == schema.Bool:
		return strconv.FormatBool(v.I != 0)
	default:
		return strconv.FormatInt(v.I, 10)
	}
}

func scalarToJSON(v record.Value) interface{} {
	switch {
	case v.Type.IsVariableSized():
		return string(v.S)
	case v.Type.IsFloat():
		return v.F
	case v.Type == schema.Bool:
		return v.I != 0
	default:
		return v.I
	}
}
