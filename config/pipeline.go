package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowmesh/streamcore/adapters/sink"
	"github.com/flowmesh/streamcore/adapters/source"
	"github.com/flowmesh/streamcore/internal/schema"
	"github.com/flowmesh/streamcore/logical"
	"github.com/flowmesh/streamcore/xsv"
)

// ParseSchema decodes a "name:type,name:type" schema spec, the compact
// CLI-friendly form SourceSchema accepts. Recognized type names are
// schema.Kind's short forms: i8, i16, i32, i64, u8, u16, u32, u64,
// f32, f64, bool, varbinary, timestamp.
func ParseSchema(spec string) (schema.Schema, error) {
	var fields []schema.Field
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return schema.Schema{}, fmt.Errorf("config: malformed schema field %q, want name:type", part)
		}
		dt, err := parseDataType(typ)
		if err != nil {
			return schema.Schema{}, err
		}
		fields = append(fields, schema.Field{Name: name, Type: dt})
	}
	if len(fields) == 0 {
		return schema.Schema{}, fmt.Errorf("config: empty schema spec")
	}
	return schema.New(fields...), nil
}

func parseDataType(name string) (schema.DataType, error) {
	switch name {
	case "i8":
		return schema.Int8, nil
	case "i16":
		return schema.Int16, nil
	case "i32":
		return schema.Int32, nil
	case "i64":
		return schema.Int64, nil
	case "u8":
		return schema.Uint8, nil
	case "u16":
		return schema.Uint16, nil
	case "u32":
		return schema.Uint32, nil
	case "u64":
		return schema.Uint64, nil
	case "f32":
		return schema.Float32, nil
	case "f64":
		return schema.Float64, nil
	case "bool":
		return schema.Bool, nil
	case "varbinary":
		return schema.VarBinary, nil
	case "timestamp":
		return schema.Timestamp, nil
	default:
		return schema.DataType{}, fmt.Errorf("config: unknown schema type %q", name)
	}
}

// BuildPlan assembles the Scan->[Selection]->Sink logical plan
// cmd/workerd submits: originID identifies the single configured
// source, sinkName is the logical.NewSink name the FileSink or
// PrintSink built by BuildSink is registered under.
func (c Config) BuildPlan(originID uint64, sinkName string) (*logical.Operator, schema.Schema, error) {
	s, err := ParseSchema(c.SourceSchema)
	if err != nil {
		return nil, schema.Schema{}, err
	}
	scan := logical.NewSource(originID, s)
	root := scan
	if c.FilterField != "" {
		f, ok := s.Field(c.FilterField)
		if !ok {
			return nil, schema.Schema{}, fmt.Errorf("config: filter-field %q not present in source-schema", c.FilterField)
		}
		lit, err := literalFor(f.Type, c.FilterGreater)
		if err != nil {
			return nil, schema.Schema{}, err
		}
		root = &logical.Operator{
			Kind:      logical.KindFilter,
			Inputs:    []*logical.Operator{scan},
			Predicate: logical.Bin(logical.OpGt, logical.Field(c.FilterField), lit),
		}
	}
	return logical.NewSink(sinkName, root), s, nil
}

func literalFor(t schema.DataType, v string) (logical.Expr, error) {
	switch t.Kind {
	case schema.KindFloat32, schema.KindFloat64:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: filter-gt %q is not a float: %w", v, err)
		}
		return logical.FloatLiteral(f), nil
	default:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: filter-gt %q is not an integer: %w", v, err)
		}
		return logical.IntLiteral(t, i), nil
	}
}

// BuildSource constructs the adapters/source.BlockingSource BuildPlan's
// Scan feeds from, resolving SourcePath through the TESTDATA/
// convention first.
func (c Config) BuildSource(originID uint64, s schema.Schema) (*source.FileSource, error) {
	if c.SourcePath == "" {
		return nil, fmt.Errorf("config: source path is required")
	}
	f, err := sourceFormatter(c.SourceFormat)
	if err != nil {
		return nil, err
	}
	path := c.ResolveSourcePath(c.SourcePath)
	return source.NewFileSource(path, s, f, originID), nil
}

func sourceFormatter(name string) (source.Formatter, error) {
	switch name {
	case "", "csv":
		return source.NewCSVFormatter(xsv.Comma), nil
	case "json":
		return source.JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("config: unknown source-format %q", name)
	}
}

// BuildSink constructs the adapters/sink.Sink BuildPlan's Emit writes
// through: a FileSink when SinkPath is set, otherwise a stdout
// PrintSink.
func (c Config) BuildSink(s schema.Schema, stdout fmtWriter) (sink.Sink, error) {
	f, err := sinkFormatter(c.SinkFormat)
	if err != nil {
		return nil, err
	}
	if c.SinkPath == "" {
		return &sink.PrintSink{Schema: s, Formatter: f, Writer: stdout}, nil
	}
	return sink.NewFileSink(c.SinkPath, s, f), nil
}

func sinkFormatter(name string) (sink.OutputFormatter, error) {
	switch name {
	case "", "csv":
		return sink.CSVFormatter{}, nil
	case "json":
		return sink.JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("config: unknown sink-format %q", name)
	}
}

// fmtWriter is the minimal io.Writer surface PrintSink needs; named
// here so BuildSink doesn't have to import "io" just for one parameter.
type fmtWriter interface {
	Write(p []byte) (int, error)
}
