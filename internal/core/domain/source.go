// internal/core/domain/source.go
package domain

import "fmt"

// SourceType identifies the extractor implementation a source uses.
type SourceType string

const (
	// SourceTypeDBTable extracts from a relational table via keyset pagination.
	SourceTypeDBTable SourceType = "db-table"

	// SourceTypeFileBatch extracts from files matched by a glob pattern.
	SourceTypeFileBatch SourceType = "file-batch"

	// SourceTypeAPIEndpoint extracts from a cursor-paginated HTTP API.
	SourceTypeAPIEndpoint SourceType = "api-endpoint"
)

// ExtractionMode controls how much history an extraction run pulls.
type ExtractionMode string

const (
	// ModeIncremental pulls only records past the stored watermark.
	ModeIncremental ExtractionMode = "incremental"

	// ModeFullRefresh pulls everything from the zero watermark on every run.
	ModeFullRefresh ExtractionMode = "full-refresh"
)

// Source describes one upstream system the orchestrator pulls from.
// Connection contents are opaque to the core; only the owning extractor
// adapter interprets them.
type Source struct {
	// ID is the unique, stable identifier of the source (e.g. "orders").
	ID string

	// Type selects the extractor adapter.
	Type SourceType

	// Mode selects incremental or full-refresh extraction.
	Mode ExtractionMode

	// KeyField names the primary key field inside extracted records,
	// used by the warehouse dedup step.
	KeyField string

	// Table is the destination table in the warehouse.
	Table string

	// Connection holds adapter-specific settings (DSN, glob, URL, ...).
	Connection map[string]string
}

// Validate checks the source descriptor is usable.
func (s Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source id is required: %w", ErrInvalidSource)
	}
	switch s.Type {
	case SourceTypeDBTable, SourceTypeFileBatch, SourceTypeAPIEndpoint:
	default:
		return fmt.Errorf("source %s: unknown type %q: %w", s.ID, s.Type, ErrInvalidSource)
	}
	switch s.Mode {
	case ModeIncremental, ModeFullRefresh, "":
	default:
		return fmt.Errorf("source %s: unknown mode %q: %w", s.ID, s.Mode, ErrInvalidSource)
	}
	if s.KeyField == "" {
		return fmt.Errorf("source %s: key field is required: %w", s.ID, ErrInvalidSource)
	}
	return nil
}

// TargetTable returns the warehouse table the source loads into,
// defaulting to the source ID.
func (s Source) TargetTable() string {
	if s.Table != "" {
		return s.Table
	}
	return s.ID
}
