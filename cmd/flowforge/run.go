package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowforge/internal/builder"
	"github.com/rendis/flowforge/internal/diagram"
	"github.com/rendis/flowforge/internal/engine"
	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/imagegen"
	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/internal/nodes"
	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// offlineRun configures a one-shot simulation of a graph file.
type offlineRun struct {
	name     string
	ordering engine.Ordering
	work     time.Duration
	format   string // ascii or mermaid
	images   imagegen.Generator
	logger   *slog.Logger
}

// execRecorder keeps node executions in memory so the final diagram can
// show per-node status without a store.
type execRecorder struct {
	mu    sync.Mutex
	execs []*schema.NodeExecution
}

func (r *execRecorder) CreateRun(context.Context, *schema.RunRecord) error { return nil }

func (r *execRecorder) RecordNodeExecution(_ context.Context, exec *schema.NodeExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exec
	r.execs = append(r.execs, &cp)
	return nil
}

func (r *execRecorder) FinishRun(context.Context, string, schema.RunStatus, string, time.Time) error {
	return nil
}

func (r *execRecorder) snapshot() []*schema.NodeExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*schema.NodeExecution(nil), r.execs...)
}

func runRun(args []string) error {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	registerFlags(flags, "log-level", "ordering", "work")
	format := flags.String("format", "ascii", "diagram format printed after the run (ascii, mermaid, none)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: flowforge run [flags] <graph.json>")
	}
	path := flags.Arg(0)

	cfg, err := loadConfig(settingsPath(), flags)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return offlineRun{
		name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		ordering: engine.ParseOrdering(cfg.Ordering),
		work:     cfg.SimulatedWork,
		format:   *format,
		images: imagegen.NewReplicateClient(imagegen.Config{
			BaseURL:  cfg.ImageAPIURL,
			APIToken: cfg.ImageAPIKey,
		}, imagegen.WithLogger(logger)),
		logger: logger,
	}.execute(ctx, raw, os.Stdout)
}

// execute validates raw, runs it in a storeless session and prints the
// log followed by the diagram. A failed run is returned as its error.
func (o offlineRun) execute(ctx context.Context, raw []byte, out io.Writer) error {
	var g schema.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "graph file is not valid JSON").WithCause(err)
	}
	checker, err := validation.NewGraphValidator()
	if err != nil {
		return err
	}
	res := checker.Validate(g)
	if !res.Valid() {
		return res.ToError()
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s: %s\n", w.Path, w.Message)
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		return err
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	recorder := &execRecorder{}
	sess := builder.NewSession(uuid.NewString(), o.name, g, builder.Deps{
		Dispatch: nodes.NewBuiltinRegistry(nodes.Deps{
			Images:        o.images,
			Engines:       engines,
			SimulatedWork: o.work,
		}),
		Validator: checker,
		Recorder:  recorder,
		Ordering:  o.ordering,
		Logger:    o.logger,
	})
	defer sess.Close(context.Background())

	result, err := sess.Run(ctx)
	if err != nil {
		return err
	}

	for _, e := range sess.Logs(0) {
		fmt.Fprintf(out, "%s %-7s %s\n", e.Timestamp.Format("15:04:05.000"), e.Severity, e.Message)
	}

	model := diagram.Build(o.name, result.Graph, recorder.snapshot())
	switch o.format {
	case "mermaid":
		fmt.Fprintln(out)
		fmt.Fprint(out, diagram.RenderMermaid(model))
	case "none":
	default:
		fmt.Fprintln(out)
		fmt.Fprint(out, diagram.RenderASCII(model))
	}

	if result.Error != nil {
		return result.Error
	}
	return nil
}
