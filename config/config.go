// Package config loads the worker's YAML configuration file and layers
// command-line flag overrides on top of it (spec §6).
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/flowmesh/streamcore/adapters/source"
	"github.com/flowmesh/streamcore/query"
)

// Config is the on-disk shape of --config's YAML document plus the
// flag-overridable runtime knobs spec §6 lists: thread count, buffer
// sizes, buffer pool capacity, origin-gap timeout, dump-IR mode, and
// log level.
type Config struct {
	Threads            int    `json:"threads"`
	BufferSize         int    `json:"bufferSize"`
	BufferPoolCapacity int    `json:"bufferPoolCapacity"`
	HighWater          int    `json:"highWater"`
	LowWater           int    `json:"lowWater"`
	OriginGapTimeout   string `json:"originGapTimeout"`
	DumpIR             bool   `json:"dumpIR"`
	DumpDir            string `json:"dumpDir"`
	LogLevel           string `json:"logLevel"`

	// Pipeline fields describe the single demo Scan->[Selection]->Sink
	// pipeline cmd/workerd wires up: a full declarative query language
	// is the SQL/API front-end's job, out of scope here (spec §1).
	SourcePath    string `json:"sourcePath"`
	SourceFormat  string `json:"sourceFormat"` // "csv" or "json"
	SourceSchema  string `json:"sourceSchema"` // "name:type,name:type", e.g. "amount:i64,city:varbinary"
	FilterField   string `json:"filterField"`
	FilterGreater string `json:"filterGreaterThan"` // literal compared against FilterField, if set
	SinkPath      string `json:"sinkPath"`          // empty writes to stdout via PrintSink
	SinkFormat    string `json:"sinkFormat"`        // "csv" or "json"
}

// Default returns the configuration used when no --config file is
// given and no flags override it.
func Default() Config {
	return Config{
		Threads:            1,
		BufferSize:         64 * 1024,
		BufferPoolCapacity: 64,
		HighWater:          1024,
		LowWater:           512,
		OriginGapTimeout:   "30s",
		DumpDir:            "dump",
		LogLevel:           "info",
	}
}

// Load reads and unmarshals a YAML config file. An empty path returns
// Default() unchanged, matching a worker invoked with no --config.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// GapTimeout parses OriginGapTimeout, defaulting to 30s on an empty or
// malformed value rather than failing the whole config load over a
// cosmetic typo.
func (c Config) GapTimeout() time.Duration {
	d, err := time.ParseDuration(c.OriginGapTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// EngineConfig projects the runtime-sizing fields onto query.Config,
// leaving Backend for the caller to fill in (interp vs. jit is a
// main-package decision, not a config-file one).
func (c Config) EngineConfig() query.Config {
	dumpDir := ""
	if c.DumpIR {
		dumpDir = c.DumpDir
	}
	return query.Config{
		Threads:            c.Threads,
		BufferSize:         c.BufferSize,
		BufferPoolCapacity: c.BufferPoolCapacity,
		HighWater:          c.HighWater,
		LowWater:           c.LowWater,
		DumpDir:            dumpDir,
		GapTimeout:         c.GapTimeout(),
	}
}

// ResolveSourcePath rewrites a configured source path through the
// TESTDATA/ convention shared with adapters/source.
func (c Config) ResolveSourcePath(path string) string {
	return source.ResolveTestDataPath(path)
}

// Flags registers --config plus per-field overrides on fs, in the
// style of a small worker binary's init(): one StringVar/IntVar/
// BoolVar per knob, parsed once by the caller's flag.Parse(). Flags
// the user did not pass never override a value Load already set;
// FlagSet.Visit after Parse tells Apply which ones the user actually
// passed.
type Flags struct {
	ConfigPath string

	threads    int
	bufSize    int
	poolCap    int
	highWater  int
	lowWater   int
	gapTimeout string
	dumpIR     bool
	dumpDir    string
	logLevel   string

	sourcePath    string
	sourceFormat  string
	sourceSchema  string
	filterField   string
	filterGreater string
	sinkPath      string
	sinkFormat    string
}

// RegisterFlags binds a Flags value to fs. Call fs.Parse(args) and then
// Apply(fs, cfg) to layer the flags the caller actually passed over a
// loaded Config.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "path to a YAML configuration file")
	fs.IntVar(&f.threads, "threads", 0, "worker thread count (overrides config)")
	fs.IntVar(&f.bufSize, "buffer-size", 0, "tuple buffer size in bytes (overrides config)")
	fs.IntVar(&f.poolCap, "buffer-pool-capacity", 0, "buffer pool capacity (overrides config)")
	fs.IntVar(&f.highWater, "high-water", 0, "task queue high-water mark (overrides config)")
	fs.IntVar(&f.lowWater, "low-water", 0, "task queue low-water mark (overrides config)")
	fs.StringVar(&f.gapTimeout, "origin-gap-timeout", "", "sequencer hole timeout, e.g. 30s (overrides config)")
	fs.BoolVar(&f.dumpIR, "dump-ir", false, "dump compiled pipeline IR to --dump-dir")
	fs.StringVar(&f.dumpDir, "dump-dir", "", "directory for dumped pipeline IR (overrides config)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&f.sourcePath, "source", "", "source file path, TESTDATA/-prefixed paths resolve via NES_TESTDATA_DIR (overrides config)")
	fs.StringVar(&f.sourceFormat, "source-format", "", "source line format: csv or json (overrides config)")
	fs.StringVar(&f.sourceSchema, "source-schema", "", "source schema, e.g. amount:i64,city:varbinary (overrides config)")
	fs.StringVar(&f.filterField, "filter-field", "", "field compared against --filter-gt, if set (overrides config)")
	fs.StringVar(&f.filterGreater, "filter-gt", "", "literal value filter-field must exceed to pass (overrides config)")
	fs.StringVar(&f.sinkPath, "sink", "", "sink file path, empty prints to stdout (overrides config)")
	fs.StringVar(&f.sinkFormat, "sink-format", "", "sink line format: csv or json (overrides config)")
	return f
}

// Apply layers the values of the flags the caller actually set (zero
// values included) onto cfg and returns the result.
// fs.Visit reports only flags the caller actually set, so a boolean
// flag left unset never clobbers a config file's DumpIR: true.
func (f *Flags) Apply(fs *flag.FlagSet, cfg Config) Config {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "threads":
			cfg.Threads = f.threads
		case "buffer-size":
			cfg.BufferSize = f.bufSize
		case "buffer-pool-capacity":
			cfg.BufferPoolCapacity = f.poolCap
		case "high-water":
			cfg.HighWater = f.highWater
		case "low-water":
			cfg.LowWater = f.lowWater
		case "origin-gap-timeout":
			cfg.OriginGapTimeout = f.gapTimeout
		case "dump-ir":
			cfg.DumpIR = f.dumpIR
		case "dump-dir":
			cfg.DumpDir = f.dumpDir
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "source":
			cfg.SourcePath = f.sourcePath
		case "source-format":
			cfg.SourceFormat = f.sourceFormat
		case "source-schema":
			cfg.SourceSchema = f.sourceSchema
		case "filter-field":
			cfg.FilterField = f.filterField
		case "filter-gt":
			cfg.FilterGreater = f.filterGreater
		case "sink":
			cfg.SinkPath = f.sinkPath
		case "sink-format":
			cfg.SinkFormat = f.sinkFormat
		}
	})
	return cfg
}
