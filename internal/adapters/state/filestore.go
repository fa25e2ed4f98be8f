// internal/adapters/state/filestore.go
package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
)

const (
	runsFile       = "runs.json"
	watermarksFile = "watermarks.json"
)

// FileStore persists the scheduler task table and the per-source
// watermarks as JSON files with write-temp-then-rename saves. A corrupt
// or absent file yields fresh state rather than an error, so a wiped
// state directory is a valid cold start.
//
// Watermarks are versioned rows: Advance is compare-and-swap, rejects
// stale versions, and logs-and-ignores regressions — the monotonicity
// guarantee lives here, not in callers.
type FileStore struct {
	dir    string
	logger logx.Logger

	mu         sync.Mutex
	runs       map[string]*domain.Run
	watermarks map[string]ports.VersionedWatermark
	loaded     bool
}

var _ ports.StateStore = (*FileStore)(nil)
var _ ports.WatermarkStore = (*FileStore)(nil)

// NewFileStore creates (and if needed, initializes) a state directory.
func NewFileStore(dir string, logger logx.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logx.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating state dir %s", dir)
	}
	return &FileStore{
		dir:        dir,
		logger:     logger.With("component", "file-state"),
		runs:       make(map[string]*domain.Run),
		watermarks: make(map[string]ports.VersionedWatermark),
	}, nil
}

// SaveRun persists a run and all its tasks atomically.
func (f *FileStore) SaveRun(ctx context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return err
	}
	f.runs[run.ID] = run
	return f.flushRuns()
}

// LoadRuns returns every persisted run, oldest first.
func (f *FileStore) LoadRuns(ctx context.Context) ([]*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]*domain.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns the stored watermark, or the zero watermark at version 0
// for a source never advanced.
func (f *FileStore) Get(ctx context.Context, sourceID string) (ports.VersionedWatermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return ports.VersionedWatermark{}, err
	}
	return f.watermarks[sourceID], nil
}

// Advance moves a source's watermark forward under compare-and-swap.
func (f *FileStore) Advance(ctx context.Context, sourceID string, next domain.Watermark, expectedVersion int64) (ports.VersionedWatermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return ports.VersionedWatermark{}, err
	}

	current := f.watermarks[sourceID]
	if current.Version != expectedVersion {
		return current, ports.ErrStaleWatermark
	}
	if !current.Value.Before(next) {
		// Regressions never happen on the load driver's success path;
		// when they show up they signal a replayed older range. No-op.
		f.logger.Warn("watermark regression rejected",
			"source", sourceID,
			"stored", current.Value.String(),
			"proposed", next.String(),
		)
		return current, nil
	}

	updated := ports.VersionedWatermark{Value: next, Version: current.Version + 1}
	f.watermarks[sourceID] = updated
	if err := f.flushWatermarks(); err != nil {
		f.watermarks[sourceID] = current
		return current, err
	}
	f.logger.Debug("watermark advanced",
		"source", sourceID,
		"to", next.String(),
		"version", updated.Version,
	)
	return updated, nil
}

// Reset rewinds a source's watermark. Operator action only.
func (f *FileStore) Reset(ctx context.Context, sourceID string, to domain.Watermark) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return err
	}
	current := f.watermarks[sourceID]
	f.watermarks[sourceID] = ports.VersionedWatermark{Value: to, Version: current.Version + 1}
	f.logger.Warn("watermark reset",
		"source", sourceID,
		"from", current.Value.String(),
		"to", to.String(),
	)
	return f.flushWatermarks()
}

func (f *FileStore) ensureLoaded() error {
	if f.loaded {
		return nil
	}
	if err := readJSON(filepath.Join(f.dir, runsFile), &f.runs); err != nil {
		f.logger.Warn("runs file unreadable, starting fresh", "error", err.Error())
		f.runs = make(map[string]*domain.Run)
	}
	if err := readJSON(filepath.Join(f.dir, watermarksFile), &f.watermarks); err != nil {
		f.logger.Warn("watermarks file unreadable, starting fresh", "error", err.Error())
		f.watermarks = make(map[string]ports.VersionedWatermark)
	}
	f.loaded = true
	return nil
}

func (f *FileStore) flushRuns() error {
	return writeJSONAtomic(filepath.Join(f.dir, runsFile), f.runs)
}

func (f *FileStore) flushWatermarks() error {
	return writeJSONAtomic(filepath.Join(f.dir, watermarksFile), f.watermarks)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// writeJSONAtomic writes via a temp file in the same directory and
// renames it over the target, so readers only ever see a complete file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "replacing %s", path)
	}
	return nil
}
