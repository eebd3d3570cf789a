package source

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/flowmesh/streamcore/internal/errkind"
	"github.com/flowmesh/streamcore/internal/record"
	"github.com/flowmesh/streamcore/internal/schema"
)

// JSONFormatter decodes one newline-delimited JSON (NDJSON) object per
// line, field values looked up by name against the schema.
type JSONFormatter struct{}

func (JSONFormatter) Parse(line []byte, s schema.Schema) (record.Record, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(line, &obj); err != nil {
		return record.Record{}, fmt.Errorf("%w: ndjson parse: %v", errkind.ErrRuntimeOperator, err)
	}
	vals := make([]record.Value, len(s.Fields))
	for i, f := range s.Fields {
		raw, ok := obj[f.Name]
		if !ok {
			return record.Record{}, fmt.Errorf("%w: ndjson line missing field %q", errkind.ErrRuntimeOperator, f.Name)
		}
		text, ok := stringify(raw)
		if !ok {
			return record.Record{}, fmt.Errorf("%w: ndjson field %q has unsupported JSON type %T", errkind.ErrRuntimeOperator, f.Name, raw)
		}
		v, err := parseScalar(text, f.Type)
		if err != nil {
			return record.Record{}, fmt.Errorf("%w: ndjson field %q: %v", errkind.ErrRuntimeOperator, f.Name, err)
		}
		vals[i] = v
	}
	return record.Record{Schema: s, Values: vals}, nil
}

// stringify renders a decoded JSON scalar back to text so parseScalar
// (shared with CSVFormatter) stays the one place numeric/bool parsing
// happens.
func stringify(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case bool:
		return fmt.Sprintf("%v", x), true
	default:
		return "", false
	}
}
