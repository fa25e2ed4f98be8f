// internal/core/domain/run.go
package domain

import "time"

// TriggerKind identifies what started a run. All trigger kinds produce the
// same run shape; the mechanism behind them stays outside the core.
type TriggerKind string

const (
	TriggerSchedule TriggerKind = "schedule"
	TriggerSensor   TriggerKind = "sensor"
	TriggerManual   TriggerKind = "manual"
)

// RunState is derived from the states of a run's tasks, never stored.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunPartial   RunState = "partial"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Run groups one scheduling trigger's worth of tasks across sources.
// A run succeeds iff all its tasks succeed. Partial success (some sources
// loaded, others failed or blocked) is representable and does not block
// unrelated runs.
type Run struct {
	ID        string      `json:"id"`
	Trigger   TriggerKind `json:"trigger"`
	CreatedAt time.Time   `json:"created_at"`

	// TaskOrder preserves submission order for stable status output.
	TaskOrder []string         `json:"task_order"`
	Tasks     map[string]*Task `json:"tasks"`
}

// State derives the run state from its tasks.
func (r *Run) State() RunState {
	if len(r.Tasks) == 0 {
		return RunPending
	}
	var succeeded, failed, cancelled, terminal, running int
	for _, t := range r.Tasks {
		switch t.State {
		case TaskSucceeded:
			succeeded++
			terminal++
		case TaskFailed, TaskBlocked:
			failed++
			terminal++
		case TaskCancelled:
			cancelled++
			terminal++
		case TaskRunning:
			running++
		}
	}
	switch {
	case succeeded == len(r.Tasks):
		return RunSucceeded
	case cancelled > 0 && terminal == len(r.Tasks):
		return RunCancelled
	case failed > 0 && terminal == len(r.Tasks):
		if succeeded > 0 {
			return RunPartial
		}
		return RunFailed
	case running > 0 || terminal > 0:
		return RunRunning
	default:
		return RunPending
	}
}

// Task returns the task with the given ID, if present.
func (r *Run) Task(id string) (*Task, bool) {
	t, ok := r.Tasks[id]
	return t, ok
}

// OrderedTasks returns the run's tasks in submission order.
func (r *Run) OrderedTasks() []*Task {
	out := make([]*Task, 0, len(r.TaskOrder))
	for _, id := range r.TaskOrder {
		if t, ok := r.Tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}
