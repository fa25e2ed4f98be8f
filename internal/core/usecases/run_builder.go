// internal/core/usecases/run_builder.go
package usecases

import (
	"fmt"
	"time"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
)

// TransformSpec declares a warehouse transform executed once the loads it
// reads from have all succeeded — the consistent snapshot boundary for
// downstream aggregation.
type TransformSpec struct {
	// Name identifies the transform inside the run.
	Name string

	// Statement is the SQL handed to the warehouse.
	Statement string

	// Sources lists the source IDs whose loads the transform depends on.
	// Empty means every source in the run.
	Sources []string
}

// RunSpec is the input to run construction. Cron triggers, file sensors
// and manual invocations all produce the same spec; only Trigger differs.
type RunSpec struct {
	RunID      string
	Trigger    domain.TriggerKind
	Sources    []domain.Source
	Configs    map[string]ports.ExtractorConfig
	Transforms []TransformSpec
}

// BuildRun expands a spec into the run's task DAG: one extract → stage →
// load chain per source, plus transform tasks depending on the loads they
// aggregate. Cross-source chains get no edges; unrelated sources run
// fully in parallel.
func BuildRun(spec RunSpec, now time.Time) (*domain.Run, error) {
	if len(spec.Sources) == 0 {
		return nil, domain.ErrNoSourcesEnabled
	}
	if spec.RunID == "" {
		spec.RunID = fmt.Sprintf("run-%s", now.UTC().Format("20060102-150405.000000"))
	}
	trigger := spec.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	run := &domain.Run{
		ID:        spec.RunID,
		Trigger:   trigger,
		CreatedAt: now,
		Tasks:     make(map[string]*domain.Task),
	}

	loadIDs := make(map[string]string, len(spec.Sources))
	for _, src := range spec.Sources {
		if err := src.Validate(); err != nil {
			return nil, err
		}

		maxAttempts := 3
		if cfg, ok := spec.Configs[src.ID]; ok && cfg.MaxAttempts > 0 {
			maxAttempts = cfg.MaxAttempts
		}

		extractID := taskID(run.ID, domain.TaskKindExtract, src.ID)
		stageID := taskID(run.ID, domain.TaskKindStage, src.ID)
		loadID := taskID(run.ID, domain.TaskKindLoad, src.ID)
		loadIDs[src.ID] = loadID

		addTask(run, &domain.Task{
			ID:          extractID,
			RunID:       run.ID,
			SourceID:    src.ID,
			Kind:        domain.TaskKindExtract,
			State:       domain.TaskPending,
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
		})
		addTask(run, &domain.Task{
			ID:          stageID,
			RunID:       run.ID,
			SourceID:    src.ID,
			Kind:        domain.TaskKindStage,
			State:       domain.TaskPending,
			DependsOn:   []string{extractID},
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
		})
		addTask(run, &domain.Task{
			ID:          loadID,
			RunID:       run.ID,
			SourceID:    src.ID,
			Kind:        domain.TaskKindLoad,
			State:       domain.TaskPending,
			DependsOn:   []string{stageID},
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
		})
	}

	for _, tf := range spec.Transforms {
		if tf.Name == "" || tf.Statement == "" {
			return nil, fmt.Errorf("transform needs name and statement: %w", domain.ErrInvalidSource)
		}
		deps := make([]string, 0)
		wanted := tf.Sources
		if len(wanted) == 0 {
			for _, src := range spec.Sources {
				wanted = append(wanted, src.ID)
			}
		}
		for _, sourceID := range wanted {
			loadID, ok := loadIDs[sourceID]
			if !ok {
				return nil, fmt.Errorf("transform %s depends on unknown source %s: %w", tf.Name, sourceID, domain.ErrUnknownTask)
			}
			deps = append(deps, loadID)
		}
		addTask(run, &domain.Task{
			ID:          fmt.Sprintf("%s/transform:%s", run.ID, tf.Name),
			RunID:       run.ID,
			Kind:        domain.TaskKindTransform,
			State:       domain.TaskPending,
			DependsOn:   deps,
			Statement:   tf.Statement,
			MaxAttempts: 3,
			CreatedAt:   now,
		})
	}

	return run, nil
}

func taskID(runID string, kind domain.TaskKind, sourceID string) string {
	return fmt.Sprintf("%s/%s:%s", runID, kind, sourceID)
}

func addTask(run *domain.Run, t *domain.Task) {
	run.Tasks[t.ID] = t
	run.TaskOrder = append(run.TaskOrder, t.ID)
}
