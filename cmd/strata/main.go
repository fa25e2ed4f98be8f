// cmd/strata/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"strata/internal/adapters/history"
	"strata/internal/adapters/output"
	"strata/internal/adapters/stage"
	"strata/internal/adapters/state"
	"strata/internal/adapters/warehouse"
	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/core/usecases"
	"strata/internal/platform/config"
	"strata/internal/platform/logx"
	"strata/internal/platform/registry"
	"strata/internal/platform/resilience"

	// Import extractors for auto-registration via init()
	_ "strata/internal/adapters/extract/api"
	_ "strata/internal/adapters/extract/dbtable"
	_ "strata/internal/adapters/extract/filebatch"
)

var (
	// Set with -ldflags at build time
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	command, args := splitCommand(os.Args[1:])

	if command == "help" {
		config.PrintHelp()
	}

	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configuration load failed: %v\n", err)
		os.Exit(2)
	}
	if cfg.PrintVersion {
		config.PrintVersion(version, commit, date)
	}

	logger := logx.New()
	logger.Info("strata starting",
		"version", version,
		"command", command,
		"pipeline", cfg.PipelineFile,
		"workers", cfg.Workers,
		"dry_run", cfg.DryRun,
	)

	ctx, cancel := rootContextWithSignals(cfg.TimeoutS)
	defer cancel()

	app, err := wire(ctx, cfg, logger)
	if err != nil {
		logger.Err(err, "phase", "wiring")
		os.Exit(2)
	}
	defer app.close(ctx, logger)

	var runErr error
	switch command {
	case "run":
		runErr = runPipeline(ctx, cfg, app, logger)
	case "status":
		runErr = showStatus(ctx, cfg, app)
	case "reconcile":
		runErr = app.loader.Reconcile(ctx, cfg.Sources)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", command)
		fmt.Fprintln(os.Stderr, "Try: strata help")
		os.Exit(2)
	}

	if runErr != nil {
		logger.Err(runErr, "phase", command)
		os.Exit(1)
	}
}

// splitCommand peels the subcommand off the argument list. A leading
// flag means the default command.
func splitCommand(argv []string) (string, []string) {
	if len(argv) == 0 || strings.HasPrefix(argv[0], "-") {
		return "run", argv
	}
	return argv[0], argv[1:]
}

// app bundles the wired components.
type app struct {
	store      *state.FileStore
	objects    *stage.FSStore
	wh         ports.Warehouse
	archive    ports.RunHistory
	extractors map[string]ports.Extractor
	sched      *usecases.Scheduler
	stager     *usecases.StageWriter
	loader     *usecases.LoadDriver
	presenter  *output.TablePresenter
}

func wire(ctx context.Context, cfg config.Config, logger logx.Logger) (*app, error) {
	store, err := state.NewFileStore(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	objects, err := stage.NewFSStore(cfg.StageDir, logger)
	if err != nil {
		return nil, err
	}

	wh, err := openWarehouse(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	extractors, err := buildExtractorsWithResilience(cfg, logger)
	if err != nil {
		return nil, err
	}

	observers := []ports.Notifier{output.NewLogNotifier(logger)}

	var archive ports.RunHistory
	if cfg.MongoURI != "" {
		archive, err = history.NewMongoHistory(ctx, cfg.MongoURI, logger)
		if err != nil {
			// The archive is optional; a run must not fail because the
			// history backend is down.
			logger.Warn("run history unavailable, continuing without it",
				"error", err.Error())
			archive = nil
		}
	}

	sched := usecases.NewScheduler(usecases.SchedulerOptions{
		Store: store,
		Backoff: resilience.Backoff{
			Base:       cfg.Resilience.BackoffBase,
			Multiplier: cfg.Resilience.BackoffMultiplier,
			Cap:        cfg.Resilience.BackoffCap,
		},
		LeaseTTL:  cfg.Resilience.LeaseTTL,
		Observers: observers,
		Logger:    logger,
	})
	if err := sched.Restore(ctx); err != nil {
		return nil, err
	}

	stager := usecases.NewStageWriter(objects, logger)
	loader := usecases.NewLoadDriver(wh, store, stager, logger)
	loader.DryRun = cfg.DryRun

	return &app{
		store:      store,
		objects:    objects,
		wh:         wh,
		archive:    archive,
		extractors: extractors,
		sched:      sched,
		stager:     stager,
		loader:     loader,
		presenter:  &output.TablePresenter{Disabled: cfg.Outputs.TableDisabled},
	}, nil
}

func openWarehouse(ctx context.Context, cfg config.Config, logger logx.Logger) (ports.Warehouse, error) {
	if cfg.WarehouseDSN == "" {
		if !cfg.DryRun {
			return nil, fmt.Errorf("no warehouse configured; set STRATA_WAREHOUSE_DSN or pass --dry-run")
		}
		return warehouse.NewNullWarehouse(logger), nil
	}

	wh, err := warehouse.NewSQLWarehouse(cfg.WarehouseDSN, logger)
	if err != nil {
		return nil, err
	}
	if err := wh.EnsureSchema(ctx); err != nil {
		wh.Close()
		return nil, err
	}
	for _, src := range cfg.Sources {
		if err := wh.EnsureTargetTable(ctx, src.TargetTable()); err != nil {
			wh.Close()
			return nil, err
		}
	}
	return wh, nil
}

// buildExtractorsWithResilience builds one extractor per source and
// wraps each with a circuit breaker when enabled.
func buildExtractorsWithResilience(cfg config.Config, logger logx.Logger) (map[string]ports.Extractor, error) {
	extractors, err := registry.Global().Build(cfg.Sources, cfg.Extractors, logger)
	if err != nil {
		return nil, fmt.Errorf("building extractors: %w", err)
	}

	if !cfg.Resilience.CircuitBreakerEnabled {
		logger.Debug("circuit breaker disabled, using extractors directly")
		return extractors, nil
	}

	wrapped := make(map[string]ports.Extractor, len(extractors))
	for id, ex := range extractors {
		cb := resilience.NewCircuitBreaker(
			cfg.Resilience.CircuitBreakerThreshold,
			cfg.Resilience.CircuitBreakerTimeout,
			cfg.Resilience.CircuitBreakerHalfOpenMax,
		)
		wrapped[id] = resilience.NewBreakerExtractor(ex, cb, logger)
		logger.Debug("wrapped extractor with circuit breaker", "source", id)
	}
	return wrapped, nil
}

func runPipeline(ctx context.Context, cfg config.Config, a *app, logger logx.Logger) error {
	transforms := make([]usecases.TransformSpec, 0, len(cfg.Transforms))
	for _, t := range cfg.Transforms {
		transforms = append(transforms, usecases.TransformSpec{
			Name:      t.Name,
			Statement: t.Statement,
			Sources:   t.Sources,
		})
	}

	run, err := usecases.BuildRun(usecases.RunSpec{
		Trigger:    domain.TriggerManual,
		Sources:    cfg.Sources,
		Configs:    cfg.Extractors,
		Transforms: transforms,
	}, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := a.sched.Submit(ctx, run); err != nil {
		return err
	}

	exec := usecases.NewExecutor(usecases.ExecutorOptions{
		Scheduler:   a.sched,
		Extractors:  a.extractors,
		Sources:     cfg.Sources,
		Configs:     cfg.Extractors,
		StageWriter: a.stager,
		LoadDriver:  a.loader,
		Warehouse:   a.wh,
		Watermarks:  a.store,
		Logger:      logger,

		Workers:      cfg.Workers,
		StopWhenIdle: true,
	})

	start := time.Now()
	execErr := exec.Run(ctx)
	elapsed := time.Since(start)

	status, err := a.sched.Status(run.ID)
	if err != nil {
		return err
	}

	a.presenter.RenderRun(status)
	if path, err := output.WriteRunSummary(cfg.DataDir, status); err != nil {
		logger.Warn("failed to write run summary", "error", err.Error())
	} else {
		logger.Debug("run summary written", "path", path)
	}

	if a.archive != nil {
		if archived, ok := a.sched.Run(run.ID); ok {
			if err := a.archive.SaveRun(ctx, archived); err != nil {
				logger.Warn("failed to archive run", "run", run.ID, "error", err.Error())
			}
		}
	}

	logger.Info("strata finished",
		"run", run.ID,
		"state", string(status.State),
		"tasks", len(status.Tasks),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if execErr != nil {
		return execErr
	}
	switch status.State {
	case domain.RunSucceeded:
		return nil
	case domain.RunPartial:
		return fmt.Errorf("run %s finished partially", run.ID)
	default:
		return fmt.Errorf("run %s finished %s", run.ID, status.State)
	}
}

func showStatus(ctx context.Context, cfg config.Config, a *app) error {
	statuses := a.sched.Statuses()
	if len(statuses) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, s := range statuses {
		a.presenter.RenderRun(s)
	}
	return nil
}

func (a *app) close(ctx context.Context, logger logx.Logger) {
	for id, ex := range a.extractors {
		if err := ex.Close(); err != nil {
			logger.Warn("failed to close extractor", "source", id, "error", err.Error())
		}
	}
	if a.wh != nil {
		if err := a.wh.Close(); err != nil {
			logger.Warn("failed to close warehouse", "error", err.Error())
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(ctx); err != nil {
			logger.Warn("failed to close run history", "error", err.Error())
		}
	}
}

// rootContextWithSignals creates the root context with optional timeout
// and SIGINT/SIGTERM cancellation.
func rootContextWithSignals(timeoutSeconds int) (context.Context, context.CancelFunc) {
	var base context.Context
	var baseCancel context.CancelFunc

	if timeoutSeconds > 0 {
		base, baseCancel = context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	} else {
		base, baseCancel = context.WithCancel(context.Background())
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ch:
			baseCancel()
		case <-base.Done():
		}
	}()

	cleanup := func() {
		signal.Stop(ch)
		close(ch)
		baseCancel()
	}
	return base, cleanup
}
