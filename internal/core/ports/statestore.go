// internal/core/ports/statestore.go
package ports

import (
	"context"

	"strata/internal/core/domain"
)

// StateStore durably persists the scheduler's task table. The scheduler
// saves after every transition, so a crash between `running` and
// `succeeded` leaves the task as `running` on disk; restart recovery
// requeues lease-expired running tasks instead of assuming success.
type StateStore interface {
	// SaveRun persists a run and all its tasks atomically.
	SaveRun(ctx context.Context, run *domain.Run) error

	// LoadRuns returns every persisted run. An empty or absent store
	// yields an empty slice, not an error.
	LoadRuns(ctx context.Context) ([]*domain.Run, error)
}

// RunFilter narrows ListRuns queries on the history repository.
type RunFilter struct {
	Trigger domain.TriggerKind
	State   domain.RunState
	Limit   int
}

// RunHistory archives finished runs for external monitoring. History
// writes are best-effort: a failure to archive is logged, never allowed
// to fail the run itself.
type RunHistory interface {
	SaveRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*domain.Run, error)
	Close(ctx context.Context) error
}
