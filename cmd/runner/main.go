package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/stringintech/rpc-autotester/autotest"
	"github.com/stringintech/rpc-autotester/fixtures"
	"github.com/stringintech/rpc-autotester/handler"
	"github.com/stringintech/rpc-autotester/telemetry"
)

func main() {
	handlerPath := pflag.String("handler", "", "Path to handler binary")
	handlerArgs := pflag.StringArray("handler-arg", nil, "Argument passed to the handler binary (repeatable)")
	handlerTimeout := pflag.Duration("handler-timeout", 0, "Max time to wait for each handler response (e.g., 10s, 500ms); 0 waits indefinitely")
	tablesPath := pflag.String("tables", "", "txtar archive with positive.json and negative.json sections replacing the embedded tables")
	trace := pflag.Bool("trace", false, "Export traces and metrics of the run to stderr")
	reportPath := pflag.String("report", "", "Write a JSON summary to this file; a .zst suffix compresses it with zstd")
	verboseCount := pflag.CountP("verbose", "v", "Verbose mode: -v logs every protocol line exchanged with the handler")
	pflag.Parse()

	level := slog.LevelInfo
	if *verboseCount >= 1 {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *handlerPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --handler flag is required\n")
		pflag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*handlerPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: handler binary not found: %s\n", *handlerPath)
		os.Exit(1)
	}

	tables := fixtures.Default()
	if *tablesPath != "" {
		var err error
		tables, err = fixtures.LoadTables(os.DirFS(filepath.Dir(*tablesPath)), filepath.Base(*tablesPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading tables: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	flush := func() {}
	var traceConfig *telemetry.Config
	if *trace {
		shutdown, err := telemetry.Setup(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error setting up tracing: %v\n", err)
			os.Exit(1)
		}
		flush = func() {
			if err := shutdown(ctx); err != nil {
				slog.Warn("Failed to flush telemetry", "error", err)
			}
		}
		c := telemetry.DefaultConfig()
		traceConfig = &c
	}
	// os.Exit skips deferred calls
	exit := func(code int) {
		flush()
		os.Exit(code)
	}

	summary, err := run(ctx, runConfig{
		handler: handler.Config{
			Path:    *handlerPath,
			Args:    *handlerArgs,
			Timeout: *handlerTimeout,
		},
		tables:    tables,
		telemetry: traceConfig,
		logger:    logger,
	})
	if err != nil && summary == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}

	printSummary(os.Stdout, tables.Name, summary, term.IsTerminal(int(os.Stdout.Fd())))

	if *reportPath != "" {
		if err := writeReport(*reportPath, newReport(*handlerPath, tables.Name, summary)); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			exit(1)
		}
	}

	if !summary.Passed() {
		exit(1)
	}
	flush()
}

type runConfig struct {
	handler handler.Config
	tables  *fixtures.Tables
	// telemetry enables the tracing hook when set
	telemetry *telemetry.Config
	logger    *slog.Logger
}

// run spawns the handler and runs the battery against it. A nil summary means
// the battery never started.
func run(ctx context.Context, cfg runConfig) (*autotest.Summary, error) {
	h, err := handler.NewHandler(cfg.handler)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	session := handler.NewSession(h, cfg.logger)
	simple, err := session.SimpleClient(ctx)
	if err != nil {
		return nil, err
	}
	proxified, err := session.ProxifiedClient(ctx)
	if err != nil {
		return nil, err
	}
	x, err := handler.Exceptions(cfg.tables.ClassNames()...)
	if err != nil {
		return nil, err
	}

	hooks := []autotest.Hook{autotest.NewLogHook(cfg.logger)}
	if cfg.telemetry != nil {
		tcfg := *cfg.telemetry
		tcfg.X = x
		hooks = append(hooks, telemetry.NewHook(tcfg))
	}

	tester, err := autotest.New(autotest.Config{
		SimpleClient:    simple,
		ProxifiedClient: proxified,
		Server:          session.Server(),
		X:               x,
		Results:         session.Results(),
		Functions:       fixtures.Functions(nil),
		Positive:        cfg.tables.Positive,
		Negative:        cfg.tables.Negative,
		Hooks:           hooks,
		Logger:          cfg.logger,
	})
	if err != nil {
		return nil, err
	}
	return tester.RunAllTests(ctx)
}
