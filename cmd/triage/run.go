package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/triage/internal/duckdb"
	"github.com/tinytelemetry/triage/internal/events"
	"github.com/tinytelemetry/triage/internal/httpserver"
	"github.com/tinytelemetry/triage/internal/index"
	"github.com/tinytelemetry/triage/internal/ingest"
	"github.com/tinytelemetry/triage/internal/logparse"
	"github.com/tinytelemetry/triage/internal/model"
	"github.com/tinytelemetry/triage/internal/pipeline"
	"github.com/tinytelemetry/triage/internal/report"
	"github.com/tinytelemetry/triage/internal/solver"
	"github.com/tinytelemetry/triage/internal/workqueue"
)

// runSummary is what a finished run reports on stdout.
type runSummary struct {
	Pipeline  pipeline.Stats
	Queue     workqueue.Stats
	Solved    []int64
	Failed    int64
	Templates int
	Dropped   int64
	Stopped   bool
}

// runServer runs the pipeline until its input is exhausted or it is told to
// stop. The first SIGINT/SIGTERM lets in-flight work finish; a second one,
// or the shutdown deadline, aborts it.
func runServer(cfg appConfig) error {
	logger, cleanupLogger := configureRuntimeLogger(cfg.LogLevel)
	defer cleanupLogger()

	stop := &model.StopFlag{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nFinishing in-flight work... (press Ctrl+C again to force)")
		stop.Signal()

		// The deadline starts at the first signal.
		deadline := time.NewTimer(cfg.ShutdownTimeout)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, aborting in-flight work.")
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	summary, err := runPipeline(ctx, cfg, stop, logger, func() { printStartupBanner(os.Stdout, cfg) })
	if err != nil {
		return err
	}
	printSummary(os.Stdout, summary)
	return nil
}

// runPipeline wires every component, runs the orchestrator and the worker
// pool to completion, and tears everything down again. banner, when set, is
// called once all components are ready.
func runPipeline(ctx context.Context, cfg appConfig, stop *model.StopFlag, logger *zap.Logger, banner func()) (runSummary, error) {
	var summary runSummary
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, p := range []string{cfg.ParsedPath, cfg.IndexPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return summary, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	parser, err := logparse.NewHeaderParser(cfg.HeaderPattern)
	if err != nil {
		return summary, err
	}
	rules := ingest.DefaultRules()
	if cfg.RulesPath != "" {
		if rules, err = ingest.LoadRules(cfg.RulesPath); err != nil {
			return summary, err
		}
	}
	slv, err := solver.New(solver.Config{Name: cfg.Solver, URL: cfg.SolverURL, Timeout: cfg.SolverTimeout})
	if err != nil {
		return summary, err
	}

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return summary, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.SolutionRetentionDays,
		Logger:        logger,
	})
	defer retentionCleaner.Stop()

	ix, err := index.Open(index.Options{
		ParsedPath: cfg.ParsedPath,
		IndexPath:  cfg.IndexPath,
		Rebuild:    cfg.Rebuild,
		Sync:       cfg.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return summary, err
	}
	defer ix.Close()

	retriever, err := index.NewRetriever(ix.Index(), ix.ParsedPath(), ix.ParsedSize, cfg.OverReadMargin)
	if err != nil {
		return summary, err
	}
	defer retriever.Close()

	reportSink, err := report.OpenFileSink(cfg.ReportPath, cfg.Rebuild)
	if err != nil {
		return summary, err
	}
	defer reportSink.Close()

	bus := events.NewBus(cfg.EventsBuffer)
	var drain errgroup.Group
	drain.Go(func() error {
		events.Log(bus, logger.Named("events"))
		return nil
	})
	defer func() {
		bus.Close()
		_ = drain.Wait()
	}()

	registry := ingest.NewRegistry(cfg.TemplateIDPrefix)
	processor := ingest.NewProcessor(parser, ingest.NewNormalizer(rules), registry)
	queue := workqueue.New(cfg.QueueCapacity)

	orch := pipeline.New(pipeline.Config{
		SourceDir:            cfg.SourceDir,
		SourcePatterns:       cfg.SourcePatterns,
		InterestingLevels:    cfg.InterestingLevels,
		TemplateSaveInterval: cfg.TemplateSaveInterval,
		Rebuild:              cfg.Rebuild,
		ReadUnterminated:     cfg.ReadUnterminated,
		Logger:               logger,
		Observer:             bus,
	}, processor, registry, ix, queue, store, stop)

	pool := workqueue.NewPool(queue, retriever, slv, []model.ResultSink{store, reportSink}, workqueue.PoolConfig{
		Workers:        cfg.Workers,
		Window:         cfg.ContextWindow,
		DequeueTimeout: cfg.DequeueTimeout,
		Logger:         logger,
		Observer:       bus,
	})

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, httpserver.Deps{
			Store:     store,
			Reader:    retriever,
			Templates: registry,
			Queue:     queue,
			Index:     ix.Index(),
			Pipeline:  orch,
			Logger:    logger,
		})
		if err := apiServer.Start(); err != nil {
			return summary, fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	if banner != nil {
		banner()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return pool.Run(gctx) })
	err = g.Wait()

	summary = runSummary{
		Pipeline:  orch.Stats(),
		Queue:     queue.Stats(),
		Solved:    pool.Solved(),
		Failed:    pool.Failed(),
		Templates: registry.Len(),
		Dropped:   bus.Dropped(),
		Stopped:   stop.Stopped(),
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return summary, errors.New("shutdown forced before queued problems were handled")
		}
		return summary, err
	}
	return summary, nil
}

func printStartupBanner(w io.Writer, cfg appConfig) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╦═╗╦╔═╗╔═╗╔═╗
     ║ ╠╦╝║╠═╣║ ╦║╣
     ╩ ╩╚═╩╩ ╩╚═╝╚═╝`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Input"), "")
	lines = append(lines, fmt.Sprintf("    %s  Sources        %s", check, cyan.Render(shortenPath(cfg.SourceDir))))
	lines = append(lines, fmt.Sprintf("    %s  Patterns       %s", check, dim.Render(strings.Join(cfg.SourcePatterns, ", "))))
	lines = append(lines, fmt.Sprintf("    %s  Levels         %s", check, dim.Render(strings.Join(cfg.InterestingLevels, ", "))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"), "")
	mode := "resume"
	if cfg.Rebuild {
		mode = "rebuild"
	}
	lines = append(lines, fmt.Sprintf("    %s  Mode           %s", check, yellow.Render(mode)))
	lines = append(lines, fmt.Sprintf("    %s  Parsed store   %s", check, dim.Render(shortenPath(cfg.ParsedPath))))
	lines = append(lines, fmt.Sprintf("    %s  Offset index   %s", check, dim.Render(shortenPath(cfg.IndexPath))))
	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(cfg.DBPath))))
	lines = append(lines, fmt.Sprintf("    %s  Reports        %s", check, dim.Render(shortenPath(cfg.ReportPath))))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, fmt.Sprintf("    %s  Solver         %s", check, dim.Render(cfg.Solver)))
	lines = append(lines, fmt.Sprintf("    %s  Workers        %s", check, dim.Render(fmt.Sprintf("%d (queue %d, window %d)", cfg.Workers, cfg.QueueCapacity, cfg.ContextWindow))))
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

func printSummary(w io.Writer, s runSummary) {
	var solved int64
	for _, n := range s.Solved {
		solved += n
	}
	state := "input exhausted"
	if s.Stopped {
		state = "stopped"
	}
	fmt.Fprintf(w, "\nRun finished (%s)\n", state)
	fmt.Fprintf(w, "  Sources:    %d\n", s.Pipeline.Sources)
	fmt.Fprintf(w, "  Entries:    %d (skipped %d)\n", s.Pipeline.Entries, s.Pipeline.Skipped)
	fmt.Fprintf(w, "  Templates:  %d\n", s.Templates)
	fmt.Fprintf(w, "  Problems:   %d enqueued, %d solved, %d failed\n", s.Pipeline.Enqueued, solved, s.Failed)
	for i, n := range s.Solved {
		fmt.Fprintf(w, "    worker %d: %d solutions\n", i+1, n)
	}
	if s.Dropped > 0 {
		fmt.Fprintf(w, "  Events dropped: %d\n", s.Dropped)
	}
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
