// internal/core/usecases/executor.go
package usecases

import (
	"context"
	"sync"
	"time"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
)

// Executor is the worker pool that drives the scheduler: workers pull
// runnable tasks via Poll, dispatch by kind to the extractor / stage
// writer / load driver / warehouse, and report outcomes via Complete.
// No global lock serializes unrelated sources; ordering comes entirely
// from dependency edges.
//
// Extract output reaches the stage task through an in-memory handoff
// keyed by the extract task's ID. If the handoff is gone (the process
// restarted between extract and stage), the stage task re-extracts from
// the range's low watermark — extractors are restartable and the
// warehouse dedup absorbs the duplicates.
type Executor struct {
	sched      *Scheduler
	extractors map[string]ports.Extractor
	sources    map[string]domain.Source
	configs    map[string]ports.ExtractorConfig
	stager     *StageWriter
	loader     *LoadDriver
	warehouse  ports.Warehouse
	watermarks ports.WatermarkStore
	logger     logx.Logger

	workers          int
	pollInterval     time.Duration
	transformTimeout time.Duration
	stopWhenIdle     bool

	mu      sync.Mutex
	handoff map[string]*domain.Batch
}

// ExecutorOptions configures the executor.
type ExecutorOptions struct {
	Scheduler   *Scheduler
	Extractors  map[string]ports.Extractor
	Sources     []domain.Source
	Configs     map[string]ports.ExtractorConfig
	StageWriter *StageWriter
	LoadDriver  *LoadDriver
	Warehouse   ports.Warehouse
	Watermarks  ports.WatermarkStore
	Logger      logx.Logger

	Workers          int
	PollInterval     time.Duration
	TransformTimeout time.Duration

	// StopWhenIdle makes Run return once every submitted task reached a
	// terminal state — the one-shot CLI mode. Without it Run serves until
	// the context is cancelled.
	StopWhenIdle bool
}

// NewExecutor creates an executor.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.TransformTimeout <= 0 {
		opts.TransformTimeout = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logx.New()
	}

	sources := make(map[string]domain.Source, len(opts.Sources))
	for _, s := range opts.Sources {
		sources[s.ID] = s
	}

	return &Executor{
		sched:            opts.Scheduler,
		extractors:       opts.Extractors,
		sources:          sources,
		configs:          opts.Configs,
		stager:           opts.StageWriter,
		loader:           opts.LoadDriver,
		warehouse:        opts.Warehouse,
		watermarks:       opts.Watermarks,
		logger:           opts.Logger.With("component", "executor"),
		workers:          opts.Workers,
		pollInterval:     opts.PollInterval,
		transformTimeout: opts.TransformTimeout,
		stopWhenIdle:     opts.StopWhenIdle,
	}
}

// Run serves tasks until the context is cancelled (or, with StopWhenIdle,
// until the scheduler drains).
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor starting", "workers", e.workers)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(ctx, id)
		}(i)
	}
	wg.Wait()

	e.sched.Drain()
	e.logger.Info("executor stopped")
	return ctx.Err()
}

func (e *Executor) worker(ctx context.Context, id int) {
	logger := e.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok := e.sched.Poll(ctx)
		if !ok {
			if e.stopWhenIdle && e.sched.Idle() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.pollInterval):
			}
			continue
		}

		logger.Debug("task claimed", "task", task.ID, "kind", task.Kind)
		outcome := e.execute(ctx, task)
		if err := e.sched.Complete(ctx, task.ID, outcome); err != nil {
			logger.Err(err, "task", task.ID, "op", "complete")
		}
	}
}

// execute dispatches one claimed task. The task's run may be cancelled
// while it is in flight; a watcher cancels the task context so blocking
// upstream/warehouse calls unwind and release their resources.
func (e *Executor) execute(ctx context.Context, task *domain.Task) Outcome {
	if e.sched.RunCancelled(task.RunID) {
		return Outcome{Err: errors.ErrCancelled}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := e.watchCancellation(taskCtx, cancel, task.RunID)
	defer stopWatch()

	var outcome Outcome
	switch task.Kind {
	case domain.TaskKindExtract:
		outcome = e.runExtract(taskCtx, task)
	case domain.TaskKindStage:
		outcome = e.runStage(taskCtx, task)
	case domain.TaskKindLoad:
		outcome = e.runLoad(taskCtx, task)
	case domain.TaskKindTransform:
		outcome = e.runTransform(taskCtx, task)
	default:
		outcome = Outcome{Err: errors.Errorf("unknown task kind %q", task.Kind)}
	}

	if outcome.Err != nil && e.sched.RunCancelled(task.RunID) {
		outcome.Err = errors.ErrCancelled
	}
	return outcome
}

func (e *Executor) watchCancellation(ctx context.Context, cancel context.CancelFunc, runID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.sched.RunCancelled(runID) {
					cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (e *Executor) runExtract(ctx context.Context, task *domain.Task) Outcome {
	src, cfg, extractor, err := e.resolve(task.SourceID)
	if err != nil {
		return Outcome{Err: err}
	}

	from := domain.ZeroWatermark
	if src.Mode != domain.ModeFullRefresh {
		current, err := e.watermarks.Get(ctx, src.ID)
		if err != nil {
			return Outcome{Err: errors.Wrapf(err, "reading watermark for %s", src.ID)}
		}
		from = current.Value
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	batch, err := extractor.Extract(callCtx, src, from, cfg.BatchSize)
	if err != nil {
		return Outcome{Err: err}
	}
	if batch.Empty() {
		e.logger.Info("nothing to extract", "source", src.ID, "from", from.String())
		return Outcome{}
	}

	rng := domain.WatermarkRange{Low: from, High: batch.NewWatermark}
	if err := rng.Validate(); err != nil {
		return Outcome{Err: errors.Wrapf(errors.ErrSchemaMismatch, "extractor for %s produced %v", src.ID, err)}
	}

	e.mu.Lock()
	if e.handoff == nil {
		e.handoff = make(map[string]*domain.Batch)
	}
	e.handoff[task.ID] = batch
	e.mu.Unlock()

	e.logger.Info("batch extracted",
		"source", src.ID,
		"rows", len(batch.Records),
		"range", rng.String(),
	)
	return Outcome{Range: &rng}
}

func (e *Executor) runStage(ctx context.Context, task *domain.Task) Outcome {
	if task.Range == nil {
		// Upstream extract found nothing; nothing to stage.
		return Outcome{}
	}
	src, cfg, extractor, err := e.resolve(task.SourceID)
	if err != nil {
		return Outcome{Err: err}
	}

	records := e.takeHandoff(task.DependsOn)
	if records == nil {
		// Handoff lost across a restart: re-extract the same range.
		e.logger.Warn("extract handoff missing, re-extracting range",
			"source", src.ID,
			"range", task.Range.String(),
		)
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		batch, err := extractor.Extract(callCtx, src, task.Range.Low, cfg.BatchSize)
		if err != nil {
			return Outcome{Err: err}
		}
		// Keep the manifest honest: drop records past the range's high
		// bound in case the upstream grew since the original extract.
		for _, r := range batch.Records {
			if r.Position <= task.Range.High.Pos || r.Position == 0 {
				records = append(records, r)
			}
		}
	}

	staged, err := e.stager.Stage(ctx, src, records, *task.Range)
	if err != nil {
		return Outcome{Err: err}
	}
	e.logger.Debug("batch staged",
		"source", src.ID,
		"location", staged.Location,
		"rows", staged.RowCount,
	)
	return Outcome{}
}

func (e *Executor) runLoad(ctx context.Context, task *domain.Task) Outcome {
	if task.Range == nil {
		return Outcome{}
	}
	src, cfg, _, err := e.resolve(task.SourceID)
	if err != nil {
		return Outcome{Err: err}
	}

	staged, ok, err := e.stager.Staged(ctx, src.ID, *task.Range)
	if err != nil {
		return Outcome{Err: err}
	}
	if !ok {
		return Outcome{Err: errors.Wrapf(errors.ErrStorageWrite, "no committed manifest for %s %s", src.ID, task.Range)}
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	result, err := e.loader.Load(callCtx, src, staged)
	if err != nil {
		return Outcome{Err: err}
	}
	e.logger.Debug("load finished",
		"source", src.ID,
		"outcome", string(result.Outcome),
		"rows_merged", result.RowsMerged,
	)
	return Outcome{}
}

func (e *Executor) runTransform(ctx context.Context, task *domain.Task) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, e.transformTimeout)
	defer cancel()

	if err := e.warehouse.Exec(callCtx, task.Statement); err != nil {
		return Outcome{Err: err}
	}
	e.logger.Info("transform applied", "task", task.ID)
	return Outcome{}
}

func (e *Executor) resolve(sourceID string) (domain.Source, ports.ExtractorConfig, ports.Extractor, error) {
	src, ok := e.sources[sourceID]
	if !ok {
		return domain.Source{}, ports.ExtractorConfig{}, nil, errors.Wrapf(domain.ErrInvalidSource, "no source registered as %s", sourceID)
	}
	cfg, ok := e.configs[sourceID]
	if !ok {
		cfg = ports.DefaultExtractorConfig()
	}
	extractor, ok := e.extractors[src.ID]
	if !ok {
		return domain.Source{}, ports.ExtractorConfig{}, nil, errors.Wrapf(domain.ErrInvalidSource, "no extractor built for source %s", src.ID)
	}
	return src, cfg, extractor, nil
}

func (e *Executor) takeHandoff(deps []string) []domain.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range deps {
		if batch, ok := e.handoff[dep]; ok {
			delete(e.handoff, dep)
			return batch.Records
		}
	}
	return nil
}
