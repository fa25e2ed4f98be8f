// internal/adapters/output/table.go
package output

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"strata/internal/core/domain"
	"strata/internal/core/usecases"
)

// TablePresenter renders run status to the terminal with pterm.
type TablePresenter struct {
	Disabled bool
}

// RenderRun prints a run summary panel and a per-task table.
func (p *TablePresenter) RenderRun(status usecases.RunStatus) {
	if p.Disabled {
		return
	}

	pterm.Println()
	panel := pterm.DefaultBox.
		WithTitle("Run " + status.RunID).
		WithTitleTopCenter().
		WithRightPadding(4).
		WithLeftPadding(4).
		WithBoxStyle(stateStyle(status.State))

	content := fmt.Sprintf("State:     %s\n", stateStyle(status.State).Sprint(string(status.State)))
	content += fmt.Sprintf("Trigger:   %s\n", string(status.Trigger))
	content += fmt.Sprintf("Submitted: %s\n", status.CreatedAt.Format(time.RFC3339))
	content += fmt.Sprintf("Tasks:     %d", len(status.Tasks))
	panel.Println(content)

	if len(status.Tasks) == 0 {
		return
	}

	tableData := pterm.TableData{
		{"Task", "Kind", "Source", "State", "Attempts", "Range", "Last Error"},
	}
	for _, t := range status.Tasks {
		lastErr := ""
		if t.LastError != nil {
			lastErr = fmt.Sprintf("[%s] %s", t.LastError.Kind, truncate(t.LastError.Message, 48))
		}
		tableData = append(tableData, []string{
			t.ID,
			string(t.Kind),
			t.SourceID,
			taskStateStyle(t.State).Sprint(string(t.State)),
			fmt.Sprintf("%d", t.Attempts),
			t.Range,
			lastErr,
		})
	}

	pterm.DefaultTable.
		WithHasHeader().
		WithBoxed().
		WithData(tableData).
		Render()
	pterm.Println()
}

func stateStyle(state domain.RunState) *pterm.Style {
	switch state {
	case domain.RunSucceeded:
		return pterm.NewStyle(pterm.FgGreen)
	case domain.RunFailed, domain.RunCancelled:
		return pterm.NewStyle(pterm.FgRed)
	case domain.RunPartial:
		return pterm.NewStyle(pterm.FgYellow)
	default:
		return pterm.NewStyle(pterm.FgCyan)
	}
}

func taskStateStyle(state domain.TaskState) *pterm.Style {
	switch state {
	case domain.TaskSucceeded:
		return pterm.NewStyle(pterm.FgGreen)
	case domain.TaskFailed, domain.TaskBlocked, domain.TaskCancelled:
		return pterm.NewStyle(pterm.FgRed)
	case domain.TaskRetrying:
		return pterm.NewStyle(pterm.FgYellow)
	case domain.TaskRunning:
		return pterm.NewStyle(pterm.FgCyan)
	default:
		return pterm.NewStyle(pterm.FgGray)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
