// internal/adapters/output/json.go
package output

import (
	"encoding/json"
	"os"
	"path/filepath"

	"strata/internal/core/usecases"
	"strata/internal/platform/errors"
)

// WriteRunSummary writes the run status as pretty JSON next to the run
// state, for machine consumers that do not scrape terminal output.
func WriteRunSummary(dir string, status usecases.RunStatus) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating summary dir %s", dir)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "encoding summary for run %s", status.RunID)
	}

	path := filepath.Join(dir, status.RunID+".summary.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing summary %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "finalizing summary %s", path)
	}
	return path, nil
}
