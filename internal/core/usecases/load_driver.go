// internal/core/usecases/load_driver.go
package usecases

import (
	"context"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
)

// LoadDriver applies staged objects to the warehouse with at-most-one
// effective application per staged object. The load ledger inside the
// warehouse is the idempotency record: a range already in the ledger is
// skipped, so replaying a load after a crash is a no-op with a success
// result. The watermark store advances only after the ledger entry is
// durable; if the process dies between the two, Reconcile re-derives the
// watermark from the ledger — the ledger is the source of truth.
type LoadDriver struct {
	warehouse  ports.Warehouse
	watermarks ports.WatermarkStore
	stage      *StageWriter
	logger     logx.Logger

	// DryRun reports what would load without touching the warehouse.
	DryRun bool
}

// NewLoadDriver creates a load driver.
func NewLoadDriver(warehouse ports.Warehouse, watermarks ports.WatermarkStore, stage *StageWriter, logger logx.Logger) *LoadDriver {
	if logger == nil {
		logger = logx.New()
	}
	return &LoadDriver{
		warehouse:  warehouse,
		watermarks: watermarks,
		stage:      stage,
		logger:     logger.With("component", "load-driver"),
	}
}

// Load applies one staged object. Safe to call twice with the same
// object: the second call sees the ledger entry and skips the merge.
func (d *LoadDriver) Load(ctx context.Context, source domain.Source, staged domain.StagedObject) (ports.LoadResult, error) {
	if err := staged.Validate(); err != nil {
		return ports.LoadResult{}, errors.Wrapf(errors.ErrLoadRejected, "%v", err)
	}

	applied, err := d.warehouse.AlreadyApplied(ctx, staged.LedgerKey())
	if err != nil {
		return ports.LoadResult{}, errors.Wrapf(err, "checking load ledger for %s", staged.LedgerKey())
	}
	if applied {
		d.logger.Info("load already applied, skipping merge",
			"source", staged.SourceID,
			"range", staged.Range.String(),
		)
		// The merge committed before a previous crash; make sure the
		// watermark caught up with it.
		if err := d.advance(ctx, staged.SourceID, staged.Range.High); err != nil {
			return ports.LoadResult{}, err
		}
		return ports.LoadResult{Outcome: ports.LoadSkipped, Watermark: staged.Range.High}, nil
	}

	records, err := d.stage.VerifyAndDecode(ctx, staged)
	if err != nil {
		return ports.LoadResult{}, err
	}

	if d.DryRun {
		d.logger.Info("[dry run] would merge staged object",
			"source", staged.SourceID,
			"range", staged.Range.String(),
			"rows", len(records),
		)
		return ports.LoadResult{Outcome: ports.LoadSkipped, RowsMerged: 0, Watermark: staged.Range.High}, nil
	}

	rows, err := d.warehouse.Apply(ctx, staged, records, source.KeyField, source.TargetTable())
	if err != nil {
		return ports.LoadResult{}, errors.Wrapf(err, "applying %s to %s", staged.LedgerKey(), source.TargetTable())
	}

	if err := d.advance(ctx, staged.SourceID, staged.Range.High); err != nil {
		return ports.LoadResult{}, err
	}

	d.logger.Info("staged object loaded",
		"source", staged.SourceID,
		"range", staged.Range.String(),
		"rows_staged", staged.RowCount,
		"rows_merged", rows,
	)
	return ports.LoadResult{Outcome: ports.LoadApplied, RowsMerged: rows, Watermark: staged.Range.High}, nil
}

// advance moves the watermark to high with compare-and-swap, retrying on
// version races. A regression (high not past stored) is the store's
// logged no-op, not an error here.
func (d *LoadDriver) advance(ctx context.Context, sourceID string, high domain.Watermark) error {
	for {
		current, err := d.watermarks.Get(ctx, sourceID)
		if err != nil {
			return errors.Wrapf(err, "reading watermark for %s", sourceID)
		}
		if !current.Value.Before(high) {
			return nil
		}
		_, err = d.watermarks.Advance(ctx, sourceID, high, current.Version)
		if err == nil {
			return nil
		}
		if errors.Is(err, ports.ErrStaleWatermark) {
			// Another worker advanced concurrently; re-read and re-check.
			continue
		}
		return errors.Wrapf(err, "advancing watermark for %s", sourceID)
	}
}

// Reconcile aligns the watermark store with the load ledger at startup.
// A crash between ledger write and watermark advance leaves the store
// behind the ledger; the ledger wins.
func (d *LoadDriver) Reconcile(ctx context.Context, sources []domain.Source) error {
	for _, src := range sources {
		high, ok, err := d.warehouse.LedgerHigh(ctx, src.ID)
		if err != nil {
			return errors.Wrapf(err, "reading ledger high for %s", src.ID)
		}
		if !ok {
			continue
		}
		current, err := d.watermarks.Get(ctx, src.ID)
		if err != nil {
			return errors.Wrapf(err, "reading watermark for %s", src.ID)
		}
		if current.Value.Before(high) {
			d.logger.Warn("watermark behind ledger, reconciling",
				"source", src.ID,
				"stored", current.Value.String(),
				"ledger", high.String(),
			)
			if err := d.advance(ctx, src.ID, high); err != nil {
				return err
			}
		}
	}
	return nil
}
