// internal/core/ports/extractor.go
package ports

import (
	"context"
	"time"

	"strata/internal/core/domain"
)

// Extractor is the primary port for pulling records out of an upstream
// system. One implementation exists per source type (db-table, file-batch,
// api-endpoint); they differ only in how they read, not in this contract.
//
// Extract must be restartable: invoked again with the same `from` watermark
// after a crash it reproduces an equal-or-superset batch. At-least-once
// read semantics are fine because the stage/load path dedups downstream.
// The batch is always bounded by limit; an extractor never returns an
// unbounded sequence.
type Extractor interface {
	// Name returns the adapter name (e.g. "dbtable").
	Name() string

	// Type returns the source type this extractor serves.
	Type() domain.SourceType

	// Extract pulls records past `from`, at most `limit` of them.
	// Unreachable upstream → errors.ErrSourceUnavailable (retryable).
	// Record shape violations → errors.ErrSchemaMismatch (non-retryable).
	// The context deadline is the call's budget; exceeding it surfaces as
	// a retryable failure, never a hang.
	Extract(ctx context.Context, source domain.Source, from domain.Watermark, limit int) (*domain.Batch, error)

	// Close releases connections and other resources held by the extractor.
	Close() error
}

// ExtractorConfig carries per-source tuning applied when an extractor is
// built from the registry at run-submission time.
type ExtractorConfig struct {
	// Enabled gates whether the source participates in runs.
	Enabled bool

	// Timeout is the per-Extract call deadline.
	Timeout time.Duration

	// BatchSize bounds the records pulled per extract task.
	BatchSize int

	// PageCap bounds pages walked per extract for paginated APIs.
	PageCap int

	// RateLimit caps upstream requests per second (0 = unlimited).
	RateLimit float64

	// MaxAttempts is the scheduler retry budget for this source's tasks.
	MaxAttempts int

	// Custom holds adapter-specific settings.
	Custom map[string]any
}

// DefaultExtractorConfig returns the baseline tuning.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Enabled:     true,
		Timeout:     30 * time.Second,
		BatchSize:   500,
		PageCap:     20,
		RateLimit:   0,
		MaxAttempts: 3,
		Custom:      make(map[string]any),
	}
}
