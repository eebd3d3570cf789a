// Command workerd is the worker binary spec §6 describes: it loads a
// YAML configuration (optionally overridden by flags), compiles the
// one configured Scan->[Selection]->Sink pipeline, runs it to
// completion or until signaled, and exits 0 on clean shutdown, 1 on a
// fatal configuration error, or 2 on a fatal runtime error. A full
// declarative query language is the SQL/API front-end's job (spec
// §1's non-goals); this binary demonstrates the worker-local execution
// core against one file-backed pipeline per invocation.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flowmesh/streamcore/adapters/sink"
	"github.com/flowmesh/streamcore/adapters/source"
	"github.com/flowmesh/streamcore/codegen/jit"
	"github.com/flowmesh/streamcore/config"
	"github.com/flowmesh/streamcore/internal/buffer"
	"github.com/flowmesh/streamcore/query"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
	sourceOriginID   = 1
	defaultSinkName  = "out"

	// drainGrace bounds how long run() waits, after the source reports
	// exhaustion, for its last buffer to finish propagating through the
	// compiled pipeline before stopping the query. A bounded file
	// source has no other "all output flushed" signal to wait on (spec
	// §4.4 never requires one for the unbounded sources this engine is
	// built around).
	drainGrace = 200 * time.Millisecond
)

// exhaustibleSource wraps a BlockingSource and closes done the moment
// FillBuffer reports source.ErrDone, giving run() a way to notice a
// finite file source has nothing left to read. Unbounded sources
// (TCP, AsyncSource) never close it, leaving waitForCompletion to rely
// on a failure StatusEvent or a termination signal instead.
type exhaustibleSource struct {
	*source.FileSource
	done chan struct{}
	once sync.Once
}

func newExhaustibleSource(s *source.FileSource) *exhaustibleSource {
	return &exhaustibleSource{FileSource: s, done: make(chan struct{})}
}

func (s *exhaustibleSource) FillBuffer(buf *buffer.TupleBuffer, stop <-chan struct{}) (int, error) {
	n, err := s.FileSource.FillBuffer(buf, stop)
	if errors.Is(err, source.ErrDone) {
		s.once.Do(func() { close(s.done) })
	}
	return n, err
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	logger := log.New(stderr, "workerd: ", log.LstdFlags)

	fs := flag.NewFlagSet("workerd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg, err := config.Load(cf.ConfigPath)
	if err != nil {
		logger.Println(err)
		return exitConfigError
	}
	cfg = cf.Apply(fs, cfg)
	logger.SetPrefix(fmt.Sprintf("workerd[%s]: ", cfg.LogLevel))

	if cfg.SourceSchema == "" {
		logger.Println("config error: source-schema is required (e.g. -source-schema amount:i64)")
		return exitConfigError
	}

	plan, schema, err := cfg.BuildPlan(sourceOriginID, defaultSinkName)
	if err != nil {
		logger.Println(err)
		return exitConfigError
	}
	src, err := cfg.BuildSource(sourceOriginID, schema)
	if err != nil {
		logger.Println(err)
		return exitConfigError
	}
	snk, err := cfg.BuildSink(schema, stdout)
	if err != nil {
		logger.Println(err)
		return exitConfigError
	}
	exhSrc := newExhaustibleSource(src)

	backend, usable := jit.New()
	if !usable {
		logger.Println("native codegen unavailable on this host, falling back to the interpreter backend")
	}

	engineCfg := cfg.EngineConfig()
	engineCfg.Backend = backend
	engine := query.NewEngine(engineCfg)
	defer engine.Shutdown()

	q, err := engine.Submit(plan, []interface{}{exhSrc}, map[string]sink.Sink{defaultSinkName: snk})
	if err != nil {
		logger.Printf("submitting query: %v", err)
		return exitRuntimeError
	}
	logger.Printf("query %s running", q.ID())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	runtimeErr := waitForCompletion(q, exhSrc.done, sig, logger)

	if err := engine.Stop(q.ID()); err != nil {
		logger.Printf("stopping query: %v", err)
		if runtimeErr == nil {
			runtimeErr = err
		}
	}

	if runtimeErr != nil {
		return exitRuntimeError
	}
	return exitOK
}

// waitForCompletion blocks until the query fails (a StatusEvent with a
// non-nil ErrorKind), its configured source reports exhaustion (done
// closes), its state leaves Running some other way, or the process
// receives a termination signal. query.Engine never emits an event for
// a source exhausting cleanly, so done is what lets a bounded file
// source end the run instead of waiting on a signal forever.
func waitForCompletion(q *query.Query, done <-chan struct{}, sig <-chan os.Signal, logger *log.Logger) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-q.Status():
			if !ok {
				return nil
			}
			if ev.ErrorKind != nil {
				logger.Printf("query failed: %s: %v", ev.Message, ev.ErrorKind)
				return ev.ErrorKind
			}
			logger.Println(ev.Message)
		case <-done:
			logger.Println("source exhausted, draining remaining output")
			time.Sleep(drainGrace)
			return nil
		case <-sig:
			logger.Println("received termination signal, stopping")
			return nil
		case <-ticker.C:
			if q.State() != query.StateRunning {
				return nil
			}
		}
	}
}
