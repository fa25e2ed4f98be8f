// internal/core/usecases/scheduler_test.go
package usecases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/resilience"
	"strata/internal/testutil"
)

func testSource(id string) domain.Source {
	return domain.Source{
		ID:       id,
		Type:     domain.SourceTypeDBTable,
		Mode:     domain.ModeIncremental,
		KeyField: "id",
		Table:    id,
	}
}

// testClock is a manually advanced clock for deterministic backoff tests.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestScheduler(t *testing.T, store ports.StateStore, clock *testClock) *Scheduler {
	t.Helper()
	return NewScheduler(SchedulerOptions{
		Store:    store,
		Backoff:  resilience.Backoff{Base: time.Second, Multiplier: 2.0, Cap: 60 * time.Second},
		LeaseTTL: 5 * time.Minute,
		Logger:   testutil.NewTestLogger(),
		Now:      clock.Now,
	})
}

func submitSingleSourceRun(t *testing.T, sched *Scheduler, sourceID string) *domain.Run {
	t.Helper()
	run, err := BuildRun(RunSpec{
		RunID:   "run-" + sourceID,
		Trigger: domain.TriggerSchedule,
		Sources: []domain.Source{testSource(sourceID)},
	}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	testutil.AssertNoError(t, err, "BuildRun")
	testutil.AssertNoError(t, sched.Submit(context.Background(), run), "Submit")
	return run
}

func TestScheduler_PollRespectsDependencies(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)
	run := submitSingleSourceRun(t, sched, "orders")

	task, ok := sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "first poll should claim a task")
	testutil.AssertEqual(t, task.Kind, domain.TaskKindExtract, "extract runs first")

	// Stage and load must wait for the extract.
	_, ok = sched.Poll(ctx)
	testutil.AssertFalse(t, ok, "nothing else runnable while extract in flight")

	produced := &domain.WatermarkRange{Low: domain.Watermark{Pos: 0}, High: domain.Watermark{Pos: 150}}
	testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{Range: produced}), "complete extract")

	task, ok = sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "stage claimable after extract")
	testutil.AssertEqual(t, task.Kind, domain.TaskKindStage, "stage runs second")
	testutil.AssertNotNil(t, task.Range, "range stamped onto stage task")
	testutil.AssertEqual(t, task.Range.High.Pos, int64(150), "stamped range high")

	testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{}), "complete stage")

	task, ok = sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "load claimable after stage")
	testutil.AssertEqual(t, task.Kind, domain.TaskKindLoad, "load runs last")
	testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{}), "complete load")

	status, err := sched.Status(run.ID)
	testutil.AssertNoError(t, err, "Status")
	testutil.AssertEqual(t, status.State, domain.RunSucceeded, "run state")
}

func TestScheduler_RetryBackoffSequence(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)
	submitSingleSourceRun(t, sched, "orders")

	// Attempt 1 fails with a retryable error; backoff is 1s.
	task, ok := sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "claim attempt 1")
	fail := errors.Wrap(errors.ErrSourceUnavailable, "db down")
	testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{Err: fail}), "fail attempt 1")

	_, ok = sched.Poll(ctx)
	testutil.AssertFalse(t, ok, "backoff deadline not reached")

	clock.Advance(time.Second)
	task, ok = sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "claim attempt 2 after 1s")
	testutil.AssertEqual(t, task.Attempts, 2, "attempt counter")
	testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{Err: fail}), "fail attempt 2")

	// Second retry backs off 2s.
	clock.Advance(time.Second)
	_, ok = sched.Poll(ctx)
	testutil.AssertFalse(t, ok, "1s is not enough for the second backoff")

	clock.Advance(time.Second)
	task, ok = sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "claim attempt 3 after 2s")
	testutil.AssertEqual(t, task.Attempts, 3, "attempt counter")
	testutil.AssertNoError(t, sched.Complete(ctx, task.ID,
		Outcome{Range: &domain.WatermarkRange{High: domain.Watermark{Pos: 10}}}), "attempt 3 succeeds")

	status, _ := sched.Status("run-orders")
	for _, ts := range status.Tasks {
		if ts.Kind == domain.TaskKindExtract {
			testutil.AssertEqual(t, ts.State, domain.TaskSucceeded, "extract eventually succeeded")
			testutil.AssertEqual(t, ts.Attempts, 3, "attempt history preserved")
		}
	}
}

func TestScheduler_ExhaustedBudgetBlocksDependents(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)
	run := submitSingleSourceRun(t, sched, "orders")

	fail := errors.Wrap(errors.ErrSourceUnavailable, "db down")
	for attempt := 1; attempt <= 3; attempt++ {
		clock.Advance(time.Minute)
		task, ok := sched.Poll(ctx)
		testutil.AssertTrue(t, ok, fmt.Sprintf("claim attempt %d", attempt))
		testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{Err: fail}), "complete")
	}

	status, _ := sched.Status(run.ID)
	testutil.AssertEqual(t, status.State, domain.RunFailed, "run failed")
	states := map[domain.TaskKind]domain.TaskState{}
	for _, ts := range status.Tasks {
		states[ts.Kind] = ts.State
	}
	testutil.AssertEqual(t, states[domain.TaskKindExtract], domain.TaskFailed, "extract failed")
	testutil.AssertEqual(t, states[domain.TaskKindStage], domain.TaskBlocked, "stage blocked")
	testutil.AssertEqual(t, states[domain.TaskKindLoad], domain.TaskBlocked, "load blocked transitively")

	_, ok := sched.Poll(ctx)
	testutil.AssertFalse(t, ok, "blocked tasks never claimable")
}

func TestScheduler_NonRetryableFailsImmediately(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)
	submitSingleSourceRun(t, sched, "orders")

	task, _ := sched.Poll(ctx)
	fail := errors.Wrap(errors.ErrSchemaMismatch, "column vanished")
	testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{Err: fail}), "complete")

	status, _ := sched.Status("run-orders")
	for _, ts := range status.Tasks {
		if ts.Kind == domain.TaskKindExtract {
			testutil.AssertEqual(t, ts.State, domain.TaskFailed, "no retries for schema mismatch")
			testutil.AssertEqual(t, ts.Attempts, 1, "single attempt")
			testutil.AssertEqual(t, ts.LastError.Kind, "SchemaMismatch", "error kind recorded")
		}
	}
}

func TestScheduler_RestoreRequeuesExpiredLeases(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStateStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	sched := newTestScheduler(t, store, clock)
	submitSingleSourceRun(t, sched, "orders")
	task, ok := sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "claim before crash")

	// Simulated crash: a new scheduler restores from the same store
	// after the lease expired.
	clock.Advance(10 * time.Minute)
	revived := newTestScheduler(t, store, clock)
	testutil.AssertNoError(t, revived.Restore(ctx), "Restore")

	reclaimed, ok := revived.Poll(ctx)
	testutil.AssertTrue(t, ok, "orphaned task claimable after restore")
	testutil.AssertEqual(t, reclaimed.ID, task.ID, "same task")
	testutil.AssertEqual(t, reclaimed.Attempts, 1, "requeue did not consume an attempt")
}

func TestScheduler_RestoreKeepsLiveLeases(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStateStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	sched := newTestScheduler(t, store, clock)
	submitSingleSourceRun(t, sched, "orders")
	_, ok := sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "claim")

	// Lease still valid: the task stays running after restore.
	clock.Advance(time.Minute)
	revived := newTestScheduler(t, store, clock)
	testutil.AssertNoError(t, revived.Restore(ctx), "Restore")

	_, ok = revived.Poll(ctx)
	testutil.AssertFalse(t, ok, "task with a live lease must not be reclaimed")
}

func TestScheduler_CancelRun(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)
	run := submitSingleSourceRun(t, sched, "orders")

	task, _ := sched.Poll(ctx)
	testutil.AssertNoError(t, sched.Cancel(ctx, run.ID), "Cancel")
	testutil.AssertTrue(t, sched.RunCancelled(run.ID), "RunCancelled")

	// The in-flight extract is aborted by its worker and completes with
	// the cancellation error; waiting tasks are already cancelled.
	err := sched.Complete(ctx, task.ID, Outcome{Err: errors.ErrCancelled})
	testutil.AssertNoError(t, err, "complete cancelled task")

	status, _ := sched.Status(run.ID)
	testutil.AssertEqual(t, status.State, domain.RunCancelled, "run cancelled")
	for _, ts := range status.Tasks {
		testutil.AssertEqual(t, ts.State, domain.TaskCancelled, "every task cancelled: "+ts.ID)
	}
}

func TestScheduler_RetriggerReleasesBlockedDependents(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)
	run := submitSingleSourceRun(t, sched, "orders")

	task, _ := sched.Poll(ctx)
	fail := errors.Wrap(errors.ErrSchemaMismatch, "bad shape")
	testutil.AssertNoError(t, sched.Complete(ctx, task.ID, Outcome{Err: fail}), "fail extract")

	newID, err := sched.Retrigger(ctx, task.ID)
	testutil.AssertNoError(t, err, "Retrigger")
	testutil.AssertEqual(t, newID, task.ID+"#2", "attempt chain id")

	// The failed original stays in history; the clone is claimable and
	// the dependents run once it succeeds.
	claimed, ok := sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "clone claimable")
	testutil.AssertEqual(t, claimed.ID, newID, "clone claimed")
	testutil.AssertNoError(t, sched.Complete(ctx, claimed.ID,
		Outcome{Range: &domain.WatermarkRange{High: domain.Watermark{Pos: 5}}}), "clone succeeds")

	stage, ok := sched.Poll(ctx)
	testutil.AssertTrue(t, ok, "stage released")
	testutil.AssertEqual(t, stage.Kind, domain.TaskKindStage, "stage next")

	status, _ := sched.Status(run.ID)
	var sawFailed bool
	for _, ts := range status.Tasks {
		if ts.ID == task.ID {
			sawFailed = ts.State == domain.TaskFailed
		}
	}
	testutil.AssertTrue(t, sawFailed, "original failed task kept in history")
}

func TestScheduler_RetriggerOnlyFailedTasks(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)
	run := submitSingleSourceRun(t, sched, "orders")

	_, err := sched.Retrigger(ctx, run.TaskOrder[0])
	testutil.AssertError(t, err, "pending task cannot be re-triggered")
}

func TestScheduler_CrossRunLoadsChainPerSource(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)

	run1 := submitSingleSourceRun(t, sched, "orders")
	run2, err := BuildRun(RunSpec{
		RunID:   "run-orders-2",
		Trigger: domain.TriggerSchedule,
		Sources: []domain.Source{testSource("orders")},
	}, clock.Now())
	testutil.AssertNoError(t, err, "BuildRun run2")
	testutil.AssertNoError(t, sched.Submit(ctx, run2), "Submit run2")

	load1 := run1.ID + "/load:orders"
	load2 := run2.Tasks[run2.ID+"/load:orders"]
	testutil.AssertNotNil(t, load2, "run2 load task")
	testutil.AssertContains(t, load2.DependsOn, load1, "run2 load chained behind run1 load")

	// Unrelated sources are not chained.
	run3, _ := BuildRun(RunSpec{
		RunID:   "run-users",
		Trigger: domain.TriggerSchedule,
		Sources: []domain.Source{testSource("users")},
	}, clock.Now())
	testutil.AssertNoError(t, sched.Submit(ctx, run3), "Submit run3")
	load3 := run3.Tasks[run3.ID+"/load:users"]
	testutil.AssertEqual(t, len(load3.DependsOn), 1, "users load depends only on its stage")
}

func TestScheduler_NotifierReceivesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	recorder := &testutil.RecordingNotifier{}
	sched := NewScheduler(SchedulerOptions{
		Store:     testutil.NewMemStateStore(),
		Backoff:   resilience.Backoff{Base: time.Second, Multiplier: 2.0, Cap: time.Minute},
		Observers: []ports.Notifier{recorder},
		Logger:    testutil.NewTestLogger(),
		Now:       clock.Now,
	})
	submitSingleSourceRun(t, sched, "orders")

	for {
		task, ok := sched.Poll(ctx)
		if !ok {
			break
		}
		sched.Complete(ctx, task.ID, Outcome{})
	}
	sched.Drain()

	testutil.AssertEqual(t, len(recorder.EventsOfType(ports.EventRunSubmitted)), 1, "run.submitted")
	testutil.AssertEqual(t, len(recorder.EventsOfType(ports.EventTaskSucceeded)), 3, "task.succeeded per task")
	testutil.AssertEqual(t, len(recorder.EventsOfType(ports.EventRunCompleted)), 1, "run.completed")
}

func TestScheduler_DuplicateRunRejected(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sched := newTestScheduler(t, testutil.NewMemStateStore(), clock)

	run := submitSingleSourceRun(t, sched, "orders")
	err := sched.Submit(ctx, run)
	testutil.AssertError(t, err, "duplicate run id must be rejected")
}
