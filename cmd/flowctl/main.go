package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/flowgraph"
	"github.com/nevindra/flowgraph/codec"
	"github.com/nevindra/flowgraph/internal/config"
	"github.com/nevindra/flowgraph/observe"
	"github.com/nevindra/flowgraph/store/postgres"
	"github.com/nevindra/flowgraph/store/sqlite"
	"github.com/nevindra/flowgraph/subprocess"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load(os.Getenv("FLOWGRAPH_CONFIG"))
	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := flow.DefaultRegistry()
	if err := codec.RegisterOps(reg); err != nil {
		log.Fatal(err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	opts := []flow.EngineOption{
		flow.WithRegistry(reg),
		flow.WithLogger(logger),
		flow.WithStore(st),
	}

	var monitor flow.Monitor
	if cfg.Observer.Enabled {
		inst, shutdown, err := observe.Init(ctx)
		if err != nil {
			log.Fatal(err)
		}
		defer shutdown(context.Background())
		monitor = observe.NewMonitor(ctx, inst)
		opts = append(opts, flow.WithObserver(observe.NewObserver(inst)))
	}

	engine := flow.NewEngine(opts...)

	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, engine, monitor, cfg, os.Args[2:])
	case "validate":
		err = validateCmd(ctx, engine, os.Args[2:])
	case "store":
		err = storeCmd(ctx, engine, os.Args[2:])
	case "list":
		err = listCmd(ctx, st)
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  flowctl run <locator> [--input k=v ...]   execute a workflow
  flowctl validate <locator>                load and check a workflow
  flowctl store <file.json> <key>           persist a workflow definition
  flowctl list                              list stored workflows

A locator is either "file://path.json" or a store key.`)
	os.Exit(2)
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func openStore(ctx context.Context, cfg config.Config) (flow.Store, error) {
	var st flow.Store
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool: %w", err)
		}
		st = postgres.New(pool)
	default:
		st = sqlite.New(cfg.Store.Path)
	}
	if err := st.Init(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// inputFlags collects repeated --input k=v pairs. Values parse as JSON
// when they can, and fall back to plain text.
type inputFlags map[string]any

func (f inputFlags) String() string { return "" }

func (f inputFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("input must be k=v, got %q", s)
	}
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err != nil {
		parsed = v
	}
	f[k] = parsed
	return nil
}

func runCmd(ctx context.Context, engine *flow.Engine, monitor flow.Monitor, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputs := inputFlags{}
	fs.Var(inputs, "input", "workflow input as k=v (repeatable; v parses as JSON when possible)")
	// The locator may come before the flags, as in the usage text; the flag
	// package itself stops parsing at the first non-flag argument.
	var locator string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		locator, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if locator == "" && fs.NArg() == 1 {
		locator = fs.Arg(0)
	} else if locator == "" || fs.NArg() != 0 {
		return fmt.Errorf("run: expected exactly one locator")
	}

	w, err := engine.LoadWorkflow(ctx, locator)
	if err != nil {
		return err
	}
	if cfg.Runner.Driver == "docker" {
		driver, err := subprocess.NewDockerDriver(cfg.Runner.Image,
			subprocess.WithPublishedPorts(cfg.Runner.PublishedPorts...))
		if err != nil {
			return err
		}
		for _, s := range w.Steps() {
			if sp, ok := s.(*flow.SubProcessStep); ok {
				sp.Driver = driver
			}
		}
	}

	out, err := engine.Execute(ctx, w, inputs, monitor)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func validateCmd(ctx context.Context, engine *flow.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("validate: expected exactly one locator")
	}
	w, err := engine.LoadWorkflow(ctx, args[0])
	if err != nil {
		return err
	}
	if err := w.UpdateSources(); err != nil {
		return err
	}
	order := w.SortedSteps()
	fmt.Printf("%s: %d steps, execution order:", w.QualifiedName, len(order))
	for _, s := range order {
		fmt.Printf(" %s", s.ID())
	}
	fmt.Println()
	return nil
}

func storeCmd(ctx context.Context, engine *flow.Engine, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("store: expected <file.json> <key>")
	}
	w, err := engine.LoadWorkflow(ctx, "file://"+strings.TrimPrefix(args[0], "file://"))
	if err != nil {
		return err
	}
	return engine.SaveWorkflow(ctx, args[1], w)
}

func listCmd(ctx context.Context, st flow.Store) error {
	keys, err := st.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}
