// internal/core/usecases/dependency_graph.go
package usecases

import (
	"fmt"

	"strata/internal/core/domain"
)

// validateGraph checks a submitted run's task graph: every dependency
// must resolve to a task in this run or an already-indexed earlier run,
// and the edges inside the run must form a DAG. Kahn's algorithm over
// in-degrees; anything left unprocessed sits on a cycle.
func validateGraph(run *domain.Run, known map[string]*taskRef) error {
	n := len(run.TaskOrder)
	if n == 0 {
		return domain.ErrNoSourcesEnabled
	}

	// node index within the run; dependencies outside the run must
	// already exist (same-or-earlier run rule).
	nodes := make(map[string]int, n)
	for i, id := range run.TaskOrder {
		nodes[id] = i
	}

	adjacency := make(map[int][]int)
	inDegree := make(map[int]int, n)
	for i := range run.TaskOrder {
		inDegree[i] = 0
	}

	for i, id := range run.TaskOrder {
		t := run.Tasks[id]
		if t == nil {
			return fmt.Errorf("task order references unknown task %s: %w", id, domain.ErrUnknownTask)
		}
		for _, dep := range t.DependsOn {
			if j, inRun := nodes[dep]; inRun {
				adjacency[j] = append(adjacency[j], i)
				inDegree[i]++
				continue
			}
			if _, earlier := known[dep]; !earlier {
				return fmt.Errorf("task %s depends on %s which is in no submitted run: %w", id, dep, domain.ErrUnknownTask)
			}
		}
	}

	// Kahn's BFS: peel zero in-degree nodes until none remain.
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	processed := 0
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		processed++

		for _, dependent := range adjacency[idx] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed != n {
		cyclic := make([]string, 0)
		for i, id := range run.TaskOrder {
			if inDegree[i] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		return fmt.Errorf("%w: involving tasks %v", domain.ErrCycleDetected, cyclic)
	}
	return nil
}
