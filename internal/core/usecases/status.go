// internal/core/usecases/status.go
package usecases

import (
	"time"

	"strata/internal/core/domain"
)

// TaskStatus is the externally visible view of one task: state, attempt
// count and last error, enough for monitoring to act without log
// archaeology.
type TaskStatus struct {
	ID        string
	Kind      domain.TaskKind
	SourceID  string
	State     domain.TaskState
	Attempts  int
	Range     string
	NotBefore time.Time
	LastError *domain.TaskError
}

// RunStatus is the externally visible view of one run.
type RunStatus struct {
	RunID     string
	Trigger   domain.TriggerKind
	State     domain.RunState
	CreatedAt time.Time
	Tasks     []TaskStatus
}

func snapshotRun(run *domain.Run) RunStatus {
	status := RunStatus{
		RunID:     run.ID,
		Trigger:   run.Trigger,
		State:     run.State(),
		CreatedAt: run.CreatedAt,
		Tasks:     make([]TaskStatus, 0, len(run.TaskOrder)),
	}
	for _, t := range run.OrderedTasks() {
		ts := TaskStatus{
			ID:        t.ID,
			Kind:      t.Kind,
			SourceID:  t.SourceID,
			State:     t.State,
			Attempts:  t.Attempts,
			NotBefore: t.NotBefore,
		}
		if t.Range != nil {
			ts.Range = t.Range.String()
		}
		if t.LastError != nil {
			cause := *t.LastError
			ts.LastError = &cause
		}
		status.Tasks = append(status.Tasks, ts)
	}
	return status
}
