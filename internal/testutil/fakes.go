// internal/testutil/fakes.go
package testutil

import (
	"context"
	"strings"
	"sync"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
)

// FakeExtractor serves scripted batches. FailFirst injects retryable
// upstream failures before the first successful call.
type FakeExtractor struct {
	mu        sync.Mutex
	SourceTyp domain.SourceType
	Batches   []*domain.Batch
	FailFirst int
	Calls     int
	// ExtractFn overrides the scripted behavior entirely when set.
	ExtractFn func(ctx context.Context, source domain.Source, from domain.Watermark, limit int) (*domain.Batch, error)
}

var _ ports.Extractor = (*FakeExtractor)(nil)

func (f *FakeExtractor) Name() string { return "fake" }

func (f *FakeExtractor) Type() domain.SourceType {
	if f.SourceTyp == "" {
		return domain.SourceTypeDBTable
	}
	return f.SourceTyp
}

func (f *FakeExtractor) Extract(ctx context.Context, source domain.Source, from domain.Watermark, limit int) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++

	if f.ExtractFn != nil {
		return f.ExtractFn(ctx, source, from, limit)
	}
	if f.Calls <= f.FailFirst {
		return nil, errors.Wrapf(errors.ErrSourceUnavailable, "scripted failure %d", f.Calls)
	}
	idx := f.Calls - f.FailFirst - 1
	if idx >= len(f.Batches) {
		return &domain.Batch{NewWatermark: from, Exhausted: true}, nil
	}
	return f.Batches[idx], nil
}

func (f *FakeExtractor) Close() error { return nil }

// MemObjectStore is an in-memory ObjectStore with the same
// commit-last contract as the filesystem implementation.
type MemObjectStore struct {
	mu        sync.Mutex
	payloads  map[string][]byte
	manifests map[string]domain.StagedObject

	// FailPuts makes PutPayload fail that many times, as a retryable
	// storage fault.
	FailPuts int
	Puts     int
	Commits  int
}

var _ ports.ObjectStore = (*MemObjectStore)(nil)

func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{
		payloads:  make(map[string][]byte),
		manifests: make(map[string]domain.StagedObject),
	}
}

func (m *MemObjectStore) PutPayload(ctx context.Context, key string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	if m.Puts <= m.FailPuts {
		return "", errors.Wrapf(errors.ErrStorageWrite, "scripted put failure %d", m.Puts)
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.payloads[key] = buf
	return key, nil
}

func (m *MemObjectStore) CommitManifest(ctx context.Context, key string, manifest domain.StagedObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commits++
	m.manifests[key] = manifest
	return nil
}

func (m *MemObjectStore) Manifest(ctx context.Context, key string) (domain.StagedObject, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.manifests[key]
	return obj, ok, nil
}

func (m *MemObjectStore) Payload(ctx context.Context, location string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.payloads[location]
	if !ok {
		return nil, errors.Wrapf(errors.ErrStorageWrite, "no payload at %s", location)
	}
	return payload, nil
}

func (m *MemObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.manifests {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// MemWarehouse records applied loads in memory. Rows holds the merged
// record per key, mirroring the canonical target table shape.
type MemWarehouse struct {
	mu     sync.Mutex
	ledger map[string]domain.StagedObject
	Rows   map[string]map[string]domain.Record // table -> record key -> latest
	Execs  []string

	// FailApplies injects retryable warehouse outages.
	FailApplies int
	Applies     int
}

var _ ports.Warehouse = (*MemWarehouse)(nil)

func NewMemWarehouse() *MemWarehouse {
	return &MemWarehouse{
		ledger: make(map[string]domain.StagedObject),
		Rows:   make(map[string]map[string]domain.Record),
	}
}

func (w *MemWarehouse) AlreadyApplied(ctx context.Context, ledgerKey string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.ledger[ledgerKey]
	return ok, nil
}

func (w *MemWarehouse) Apply(ctx context.Context, staged domain.StagedObject, records []domain.Record, keyField, table string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Applies++
	if w.Applies <= w.FailApplies {
		return 0, errors.Wrapf(errors.ErrWarehouseUnavailable, "scripted apply failure %d", w.Applies)
	}

	rows, ok := w.Rows[table]
	if !ok {
		rows = make(map[string]domain.Record)
		w.Rows[table] = rows
	}
	merged := 0
	for _, r := range records {
		if r.Key == "" {
			return 0, errors.Wrapf(errors.ErrLoadRejected, "record without %s key", keyField)
		}
		prev, exists := rows[r.Key]
		if exists && prev.ExtractedAt.After(r.ExtractedAt) {
			continue
		}
		if exists && prev.ExtractedAt.Equal(r.ExtractedAt) && prev.Position > r.Position {
			continue
		}
		rows[r.Key] = r
		merged++
	}
	w.ledger[staged.LedgerKey()] = staged
	return merged, nil
}

func (w *MemWarehouse) LedgerHigh(ctx context.Context, sourceID string) (domain.Watermark, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var high domain.Watermark
	found := false
	for _, staged := range w.ledger {
		if staged.SourceID != sourceID {
			continue
		}
		if !found || staged.Range.High.Pos > high.Pos {
			high = staged.Range.High
			found = true
		}
	}
	return high, found, nil
}

func (w *MemWarehouse) Exec(ctx context.Context, statement string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Execs = append(w.Execs, statement)
	return nil
}

func (w *MemWarehouse) Close() error { return nil }

// LedgerSize reports the number of ledger entries.
func (w *MemWarehouse) LedgerSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ledger)
}

// MemStateStore holds runs and watermarks in memory, implementing both
// the state store and watermark store ports.
type MemStateStore struct {
	mu         sync.Mutex
	runs       map[string]*domain.Run
	order      []string
	watermarks map[string]ports.VersionedWatermark

	// FailSaves injects persistence failures.
	FailSaves int
	Saves     int
}

var (
	_ ports.StateStore     = (*MemStateStore)(nil)
	_ ports.WatermarkStore = (*MemStateStore)(nil)
)

func NewMemStateStore() *MemStateStore {
	return &MemStateStore{
		runs:       make(map[string]*domain.Run),
		watermarks: make(map[string]ports.VersionedWatermark),
	}
}

func (s *MemStateStore) SaveRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	if s.Saves <= s.FailSaves {
		return errors.Wrapf(errors.ErrStorageWrite, "scripted save failure %d", s.Saves)
	}
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemStateStore) LoadRuns(ctx context.Context) ([]*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	return out, nil
}

func (s *MemStateStore) Get(ctx context.Context, sourceID string) (ports.VersionedWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermarks[sourceID], nil
}

func (s *MemStateStore) Advance(ctx context.Context, sourceID string, next domain.Watermark, expectedVersion int64) (ports.VersionedWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.watermarks[sourceID]
	if current.Version != expectedVersion {
		return current, ports.ErrStaleWatermark
	}
	if !current.Value.Before(next) {
		return current, nil
	}
	updated := ports.VersionedWatermark{Value: next, Version: current.Version + 1}
	s.watermarks[sourceID] = updated
	return updated, nil
}

func (s *MemStateStore) Reset(ctx context.Context, sourceID string, to domain.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.watermarks[sourceID]
	s.watermarks[sourceID] = ports.VersionedWatermark{Value: to, Version: current.Version + 1}
	return nil
}

// RecordingNotifier captures events for assertions.
type RecordingNotifier struct {
	mu     sync.Mutex
	Events []ports.Event
}

var _ ports.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) Notify(ctx context.Context, event ports.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, event)
	return nil
}

func (n *RecordingNotifier) Close() error { return nil }

// EventsOfType returns the captured events with the given type.
func (n *RecordingNotifier) EventsOfType(t ports.EventType) []ports.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []ports.Event
	for _, e := range n.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
