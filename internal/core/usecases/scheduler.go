// internal/core/usecases/scheduler.go
package usecases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
	"strata/internal/platform/resilience"
)

// Scheduler owns the task table: it decides what is runnable, applies the
// retry/backoff policy, and persists every transition through the state
// store so a restart resumes exactly where the previous process stopped.
//
// Ordering rules it enforces:
//   - a task is runnable only when all its dependencies are succeeded,
//     its state is pending or retrying, and its backoff deadline passed;
//   - load tasks for the same source are chained by dependency edges in
//     watermark order (wired at submit), never by locks;
//   - dependents of a failed task are marked blocked and never run.
type Scheduler struct {
	mu sync.Mutex

	// runs in submission order; index resolves task IDs across runs.
	runs     []*domain.Run
	runsByID map[string]*domain.Run
	tasks    map[string]*taskRef

	// cancelled runs; in-flight tasks of these runs are aborted by the
	// executor and completed with ErrCancelled.
	cancelled map[string]bool

	store     ports.StateStore
	backoff   resilience.Backoff
	leaseTTL  time.Duration
	observers []ports.Notifier
	logger    logx.Logger
	notifyWg  sync.WaitGroup

	// now is swappable for tests.
	now func() time.Time
}

type taskRef struct {
	run  *domain.Run
	task *domain.Task
}

// Outcome is what a worker reports back on task completion. For extract
// tasks the outcome carries the produced range so the scheduler can
// stamp it onto the downstream stage and load tasks; the load task
// re-reads the committed manifest from the object store by that range.
type Outcome struct {
	Err   error
	Range *domain.WatermarkRange
}

// SchedulerOptions configures the scheduler.
type SchedulerOptions struct {
	Store     ports.StateStore
	Backoff   resilience.Backoff
	LeaseTTL  time.Duration
	Observers []ports.Notifier
	Logger    logx.Logger
	Now       func() time.Time
}

// NewScheduler creates a scheduler. Store is required; everything else
// has defaults.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = logx.New()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 5 * time.Minute
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = resilience.DefaultBackoff()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		runsByID:  make(map[string]*domain.Run),
		tasks:     make(map[string]*taskRef),
		cancelled: make(map[string]bool),
		store:     opts.Store,
		backoff:   opts.Backoff,
		leaseTTL:  opts.LeaseTTL,
		observers: opts.Observers,
		logger:    opts.Logger.With("component", "scheduler"),
		now:       opts.Now,
	}
}

// Restore loads persisted runs and requeues tasks whose worker died.
// A task found `running` with an expired lease goes back to `retrying`
// without consuming an attempt: crash recovery never assumes success.
func (s *Scheduler) Restore(ctx context.Context) error {
	runs, err := s.store.LoadRuns(ctx)
	if err != nil {
		return errors.Wrap(err, "restoring scheduler state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, run := range runs {
		s.index(run)
		requeued := 0
		for _, t := range run.Tasks {
			if t.State == domain.TaskRunning && now.After(t.LeaseExpiry) {
				if err := t.Requeue(); err != nil {
					return err
				}
				requeued++
			}
		}
		if requeued > 0 {
			s.logger.Info("requeued orphaned tasks", "run", run.ID, "count", requeued)
			if err := s.store.SaveRun(ctx, run); err != nil {
				return errors.Wrap(err, "persisting requeued tasks")
			}
		}
	}

	s.logger.Info("scheduler state restored", "runs", len(runs))
	return nil
}

// Submit validates and registers a run. The task graph must be a DAG and
// every dependency must resolve to a task in this run or an earlier one.
// Load tasks are additionally chained behind any unfinished load for the
// same source from earlier runs, keeping watermark order across runs.
func (s *Scheduler) Submit(ctx context.Context, run *domain.Run) error {
	if len(run.Tasks) == 0 {
		return domain.ErrNoSourcesEnabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.runsByID[run.ID]; dup {
		return errors.Errorf("run %s already submitted", run.ID)
	}

	s.chainSameSourceLoads(run)

	if err := validateGraph(run, s.tasks); err != nil {
		return err
	}

	if err := s.store.SaveRun(ctx, run); err != nil {
		return errors.Wrap(err, "persisting submitted run")
	}
	s.index(run)

	s.logger.Info("run submitted", "run", run.ID, "trigger", run.Trigger, "tasks", len(run.Tasks))
	s.notify(ctx, ports.NewEvent(ports.EventRunSubmitted, run.ID, "", "", len(run.Tasks)))
	return nil
}

// Poll claims the next runnable task for a worker, stamping its lease.
// Returns false when nothing is runnable right now.
func (s *Scheduler) Poll(ctx context.Context) (*domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, run := range s.runs {
		if s.cancelled[run.ID] {
			continue
		}
		for _, t := range run.OrderedTasks() {
			if !t.Runnable(now) || !s.depsSucceeded(t) {
				continue
			}
			if err := t.MarkRunning(now, now.Add(s.leaseTTL)); err != nil {
				s.logger.Err(err, "task", t.ID)
				continue
			}
			if err := s.store.SaveRun(ctx, run); err != nil {
				// Roll the claim back; better to retry later than to
				// run a task whose `running` state is not durable.
				t.State = domain.TaskRetrying
				t.Attempts--
				t.LeaseExpiry = time.Time{}
				s.logger.Err(err, "task", t.ID, "op", "claim")
				return nil, false
			}
			claimed := *t
			return &claimed, true
		}
	}
	return nil, false
}

// Complete records a task outcome and applies the retry policy.
func (s *Scheduler) Complete(ctx context.Context, taskID string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.tasks[taskID]
	if !ok {
		return domain.ErrUnknownTask
	}
	run, task := ref.run, ref.task
	now := s.now()

	if outcome.Err == nil {
		if err := task.MarkSucceeded(now); err != nil {
			return err
		}
		s.stampDownstream(run, task, outcome)
		s.notify(ctx, ports.NewEvent(ports.EventTaskSucceeded, run.ID, task.ID, task.SourceID, nil))
	} else if err := s.completeFailure(ctx, run, task, outcome, now); err != nil {
		return err
	}

	if err := s.store.SaveRun(ctx, run); err != nil {
		return errors.Wrap(err, "persisting task completion")
	}

	if run.State() == domain.RunSucceeded || run.State() == domain.RunFailed || run.State() == domain.RunPartial {
		s.notify(ctx, ports.NewEvent(ports.EventRunCompleted, run.ID, "", "", run.State()))
	}
	return nil
}

func (s *Scheduler) completeFailure(ctx context.Context, run *domain.Run, task *domain.Task, outcome Outcome, now time.Time) error {
	cause := &domain.TaskError{
		Kind:    errors.Kind(outcome.Err),
		Message: outcome.Err.Error(),
		Attempt: task.Attempts,
		Range:   task.Range,
		At:      now,
	}

	switch {
	case errors.Is(outcome.Err, errors.ErrCancelled), errors.Is(outcome.Err, context.Canceled):
		if err := task.MarkCancelled(now); err != nil {
			return err
		}
		s.logger.Info("task cancelled", "task", task.ID)

	case errors.Retryable(outcome.Err) && task.RetryBudgetLeft():
		delay := s.backoff.Delay(task.Attempts - 1)
		if err := task.MarkRetrying(now, delay, cause); err != nil {
			return err
		}
		s.logger.Warn("task retrying",
			"task", task.ID,
			"attempt", task.Attempts,
			"backoff_ms", delay.Milliseconds(),
			"error", outcome.Err.Error(),
		)
		s.notify(ctx, ports.NewEvent(ports.EventTaskRetrying, run.ID, task.ID, task.SourceID, cause))

	default:
		if err := task.MarkFailed(now, cause); err != nil {
			return err
		}
		s.blockDependents(task.ID)
		s.logger.Warn("task failed",
			"task", task.ID,
			"kind", cause.Kind,
			"attempts", task.Attempts,
			"error", outcome.Err.Error(),
		)
		s.notify(ctx, ports.NewEvent(ports.EventTaskFailed, run.ID, task.ID, task.SourceID, cause))
	}
	return nil
}

// stampDownstream copies the range produced by an extract task onto its
// same-source stage and load siblings, so they know what they cover.
func (s *Scheduler) stampDownstream(run *domain.Run, task *domain.Task, outcome Outcome) {
	if outcome.Range == nil {
		return
	}
	task.Range = outcome.Range
	for _, t := range run.Tasks {
		if t.SourceID == task.SourceID && t.Range == nil &&
			(t.Kind == domain.TaskKindStage || t.Kind == domain.TaskKindLoad) {
			r := *outcome.Range
			t.Range = &r
		}
	}
}

// blockDependents transitively blocks every task that depends on failed.
func (s *Scheduler) blockDependents(failedID string) {
	frontier := []string{failedID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, ref := range s.tasks {
			t := ref.task
			if t.State.Terminal() || t.State == domain.TaskRunning {
				continue
			}
			for _, dep := range t.DependsOn {
				if dep != id {
					continue
				}
				if err := t.MarkBlocked(); err == nil {
					frontier = append(frontier, t.ID)
				}
				break
			}
		}
	}
}

// Cancel aborts a run: waiting tasks go straight to cancelled, in-flight
// tasks are aborted by the executor (which observes RunCancelled) and
// complete with ErrCancelled.
func (s *Scheduler) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runsByID[runID]
	if !ok {
		return domain.ErrUnknownRun
	}
	s.cancelled[runID] = true

	now := s.now()
	for _, t := range run.Tasks {
		if t.State == domain.TaskPending || t.State == domain.TaskRetrying {
			if err := t.MarkCancelled(now); err != nil {
				return err
			}
		}
	}
	s.logger.Info("run cancelled", "run", runID)
	return errors.Wrap(s.store.SaveRun(ctx, run), "persisting cancellation")
}

// RunCancelled reports whether a run has been cancelled; the executor
// consults it to abort in-flight work.
func (s *Scheduler) RunCancelled(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[runID]
}

// Retrigger starts a fresh attempt chain for a failed task. The original
// stays failed in history; a clone with a new ID enters the graph as
// pending and blocked dependents are rewired to it and released.
func (s *Scheduler) Retrigger(ctx context.Context, taskID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.tasks[taskID]
	if !ok {
		return "", domain.ErrUnknownTask
	}
	run, failed := ref.run, ref.task
	if failed.State != domain.TaskFailed {
		return "", errors.Errorf("task %s is %s, only failed tasks can be re-triggered", taskID, failed.State)
	}

	clone := *failed
	clone.ID = nextAttemptID(taskID, s.tasks)
	clone.State = domain.TaskPending
	clone.Attempts = 0
	clone.NotBefore = time.Time{}
	clone.LeaseExpiry = time.Time{}
	clone.LastError = nil
	clone.StartedAt = time.Time{}
	clone.EndedAt = time.Time{}
	clone.CreatedAt = s.now()

	run.Tasks[clone.ID] = &clone
	run.TaskOrder = append(run.TaskOrder, clone.ID)
	s.tasks[clone.ID] = &taskRef{run: run, task: &clone}

	// Release blocked dependents onto the new attempt.
	for _, other := range s.tasks {
		t := other.task
		if t.State != domain.TaskBlocked {
			continue
		}
		rewired := false
		for i, dep := range t.DependsOn {
			if dep == taskID {
				t.DependsOn[i] = clone.ID
				rewired = true
			}
		}
		if rewired {
			t.State = domain.TaskPending
		}
	}

	s.logger.Info("task re-triggered", "failed", taskID, "new", clone.ID)
	if err := s.store.SaveRun(ctx, run); err != nil {
		return "", errors.Wrap(err, "persisting re-trigger")
	}
	return clone.ID, nil
}

// Status returns a point-in-time snapshot of a run.
func (s *Scheduler) Status(runID string) (RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runsByID[runID]
	if !ok {
		return RunStatus{}, domain.ErrUnknownRun
	}
	return snapshotRun(run), nil
}

// Statuses returns snapshots of all runs in submission order.
func (s *Scheduler) Statuses() []RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunStatus, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, snapshotRun(run))
	}
	return out
}

// Run returns the live run object for archival. Callers must not mutate it.
func (s *Scheduler) Run(runID string) (*domain.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runsByID[runID]
	return run, ok
}

// Idle reports whether no task is waiting or in flight.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range s.tasks {
		if !ref.task.State.Terminal() {
			return false
		}
	}
	return true
}

// Drain waits for all notification goroutines to finish.
func (s *Scheduler) Drain() {
	s.notifyWg.Wait()
}

func (s *Scheduler) index(run *domain.Run) {
	s.runs = append(s.runs, run)
	s.runsByID[run.ID] = run
	for _, t := range run.Tasks {
		s.tasks[t.ID] = &taskRef{run: run, task: t}
	}
}

func (s *Scheduler) depsSucceeded(t *domain.Task) bool {
	for _, dep := range t.DependsOn {
		ref, ok := s.tasks[dep]
		if !ok || ref.task.State != domain.TaskSucceeded {
			return false
		}
	}
	return true
}

// chainSameSourceLoads wires each load task of the new run behind the
// newest unfinished load for the same source from earlier runs, so a
// later watermark range can never load before an earlier one commits.
func (s *Scheduler) chainSameSourceLoads(run *domain.Run) {
	for _, t := range run.Tasks {
		if t.Kind != domain.TaskKindLoad {
			continue
		}
		for i := len(s.runs) - 1; i >= 0; i-- {
			prior := latestLoadFor(s.runs[i], t.SourceID)
			if prior == nil {
				continue
			}
			if prior.State != domain.TaskSucceeded {
				t.DependsOn = append(t.DependsOn, prior.ID)
			}
			break
		}
	}
}

func latestLoadFor(run *domain.Run, sourceID string) *domain.Task {
	for i := len(run.TaskOrder) - 1; i >= 0; i-- {
		t := run.Tasks[run.TaskOrder[i]]
		if t != nil && t.Kind == domain.TaskKindLoad && t.SourceID == sourceID {
			return t
		}
	}
	return nil
}

func nextAttemptID(taskID string, existing map[string]*taskRef) string {
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s#%d", taskID, n)
		if _, taken := existing[candidate]; !taken {
			return candidate
		}
	}
}

// notify fans an event out to all observers without blocking scheduling.
func (s *Scheduler) notify(ctx context.Context, event ports.Event) {
	const notificationTimeout = 5 * time.Second

	for _, observer := range s.observers {
		s.notifyWg.Add(1)
		go func(n ports.Notifier) {
			defer s.notifyWg.Done()

			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
			defer cancel()

			if err := n.Notify(notifyCtx, event); err != nil {
				s.logger.Warn("notification failed", "event", event.Type, "error", err.Error())
			}
		}(observer)
	}
}
