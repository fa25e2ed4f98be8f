// internal/core/domain/task.go
package domain

import (
	"fmt"
	"time"
)

// TaskKind is the unit-of-work type inside a run.
type TaskKind string

const (
	TaskKindExtract   TaskKind = "extract"
	TaskKindStage     TaskKind = "stage"
	TaskKindLoad      TaskKind = "load"
	TaskKindTransform TaskKind = "transform"
)

// TaskState is the lifecycle state of a task.
//
//	pending → running → succeeded
//	                  → retrying → running (loop)
//	                  → failed
//
// succeeded, failed and cancelled are terminal. failed is sticky: further
// execution requires an explicit operator re-trigger, which starts a new
// attempt chain and leaves history untouched. blocked marks dependents of a
// failed task; they never run.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskRetrying  TaskState = "retrying"
	TaskBlocked   TaskState = "blocked"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled || s == TaskBlocked
}

// TaskError captures a failure with enough context for an operator to
// replay it without re-deriving state from logs.
type TaskError struct {
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
	Attempt int             `json:"attempt"`
	Range   *WatermarkRange `json:"range,omitempty"`
	At      time.Time       `json:"at"`
}

// Task is one schedulable unit of work.
type Task struct {
	ID       string    `json:"id"`
	RunID    string    `json:"run_id"`
	SourceID string    `json:"source_id,omitempty"`
	Kind     TaskKind  `json:"kind"`
	State    TaskState `json:"state"`

	// DependsOn lists task IDs that must be succeeded before this task
	// may run. Dependencies always point to tasks in the same or an
	// earlier run, never forward.
	DependsOn []string `json:"depends_on,omitempty"`

	// Range is the watermark range the task covers (stage and load tasks).
	Range *WatermarkRange `json:"range,omitempty"`

	// Statement is the SQL executed by transform tasks.
	Statement string `json:"statement,omitempty"`

	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	NotBefore   time.Time  `json:"not_before,omitempty"`
	LeaseExpiry time.Time  `json:"lease_expiry,omitempty"`
	LastError   *TaskError `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Runnable reports whether the task itself is in a claimable state at now.
// Dependency readiness is the scheduler's call, not the task's.
func (t *Task) Runnable(now time.Time) bool {
	if t.State != TaskPending && t.State != TaskRetrying {
		return false
	}
	return !now.Before(t.NotBefore)
}

// MarkRunning claims the task for a worker until leaseExpiry.
func (t *Task) MarkRunning(now, leaseExpiry time.Time) error {
	if t.State != TaskPending && t.State != TaskRetrying {
		return fmt.Errorf("task %s: %s → running: %w", t.ID, t.State, ErrInvalidTransition)
	}
	t.State = TaskRunning
	t.Attempts++
	t.LeaseExpiry = leaseExpiry
	if t.StartedAt.IsZero() {
		t.StartedAt = now
	}
	return nil
}

// MarkSucceeded finishes the task successfully.
func (t *Task) MarkSucceeded(now time.Time) error {
	if t.State != TaskRunning {
		return fmt.Errorf("task %s: %s → succeeded: %w", t.ID, t.State, ErrInvalidTransition)
	}
	t.State = TaskSucceeded
	t.EndedAt = now
	t.LeaseExpiry = time.Time{}
	return nil
}

// MarkRetrying schedules another attempt after the backoff delay.
func (t *Task) MarkRetrying(now time.Time, backoff time.Duration, cause *TaskError) error {
	if t.State != TaskRunning {
		return fmt.Errorf("task %s: %s → retrying: %w", t.ID, t.State, ErrInvalidTransition)
	}
	t.State = TaskRetrying
	t.NotBefore = now.Add(backoff)
	t.LeaseExpiry = time.Time{}
	t.LastError = cause
	return nil
}

// Requeue returns a lease-expired running task to retrying without
// consuming an attempt. Used by crash recovery: a crash between running
// and succeeded must never be assumed successful.
func (t *Task) Requeue() error {
	if t.State != TaskRunning {
		return fmt.Errorf("task %s: %s → retrying (requeue): %w", t.ID, t.State, ErrInvalidTransition)
	}
	t.State = TaskRetrying
	t.Attempts--
	t.LeaseExpiry = time.Time{}
	return nil
}

// MarkFailed terminates the task. Failed is sticky.
func (t *Task) MarkFailed(now time.Time, cause *TaskError) error {
	if t.State != TaskRunning {
		return fmt.Errorf("task %s: %s → failed: %w", t.ID, t.State, ErrInvalidTransition)
	}
	t.State = TaskFailed
	t.EndedAt = now
	t.LeaseExpiry = time.Time{}
	t.LastError = cause
	return nil
}

// MarkBlocked marks a dependent of a failed task. Blocked tasks never run
// and are surfaced to the caller.
func (t *Task) MarkBlocked() error {
	if t.State.Terminal() || t.State == TaskRunning {
		return fmt.Errorf("task %s: %s → blocked: %w", t.ID, t.State, ErrInvalidTransition)
	}
	t.State = TaskBlocked
	return nil
}

// MarkCancelled terminates the task without counting against retry history.
func (t *Task) MarkCancelled(now time.Time) error {
	if t.State.Terminal() {
		return fmt.Errorf("task %s: %s → cancelled: %w", t.ID, t.State, ErrInvalidTransition)
	}
	t.State = TaskCancelled
	t.EndedAt = now
	t.LeaseExpiry = time.Time{}
	return nil
}

// RetryBudgetLeft reports whether another retry attempt is allowed.
func (t *Task) RetryBudgetLeft() bool {
	return t.Attempts < t.MaxAttempts
}
