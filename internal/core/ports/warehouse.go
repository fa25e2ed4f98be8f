// internal/core/ports/warehouse.go
package ports

import (
	"context"

	"strata/internal/core/domain"
)

// Warehouse is the port for the analytical destination. Implementations
// provide a set-based, idempotent apply: load into a staging table,
// deduplicate by primary key keeping the most recently extracted version
// (tie-break: highest watermark position), merge into the target table,
// and record the load-ledger entry — all inside one transaction, so the
// merge and its ledger entry never diverge.
//
// Unreachable warehouse → errors.ErrWarehouseUnavailable (retryable).
// Malformed data or constraint violations → errors.ErrLoadRejected
// (non-retryable).
type Warehouse interface {
	// AlreadyApplied reports whether the ledger holds an entry for the
	// staged object's (source id, watermark range) key.
	AlreadyApplied(ctx context.Context, ledgerKey string) (bool, error)

	// Apply merges the staged records into table, dedups them by
	// keyField, and writes the ledger entry transactionally. Returns the
	// number of rows merged into the target.
	Apply(ctx context.Context, staged domain.StagedObject, records []domain.Record, keyField, table string) (int, error)

	// LedgerHigh returns the highest applied watermark for a source,
	// derived from the ledger. Recovery uses it as the source of truth
	// when the watermark store lags a committed load.
	LedgerHigh(ctx context.Context, sourceID string) (domain.Watermark, bool, error)

	// Exec runs a transform statement. Transform tasks call it once all
	// their dependency loads have succeeded.
	Exec(ctx context.Context, statement string) error

	// Close releases the warehouse connection.
	Close() error
}

// LoadOutcome distinguishes a fresh merge from an idempotent replay.
type LoadOutcome string

const (
	// LoadApplied means the staged object was merged by this call.
	LoadApplied LoadOutcome = "applied"

	// LoadSkipped means the ledger already held the range; nothing was
	// reapplied.
	LoadSkipped LoadOutcome = "skipped"
)

// LoadResult is what a load task reports back to the scheduler.
type LoadResult struct {
	Outcome    LoadOutcome
	RowsMerged int
	Watermark  domain.Watermark
}
