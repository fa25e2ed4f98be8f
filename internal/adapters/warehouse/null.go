// internal/adapters/warehouse/null.go
package warehouse

import (
	"context"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/logx"
)

// NullWarehouse backs dry runs that have no warehouse configured. The
// ledger is always empty and nothing is ever applied; the load driver's
// own dry-run short circuit keeps Apply from being reached.
type NullWarehouse struct {
	logger logx.Logger
}

var _ ports.Warehouse = (*NullWarehouse)(nil)

// NewNullWarehouse builds a warehouse that accepts nothing.
func NewNullWarehouse(logger logx.Logger) *NullWarehouse {
	if logger == nil {
		logger = logx.New()
	}
	return &NullWarehouse{logger: logger.With("component", "null-warehouse")}
}

func (w *NullWarehouse) AlreadyApplied(ctx context.Context, ledgerKey string) (bool, error) {
	return false, nil
}

func (w *NullWarehouse) Apply(ctx context.Context, staged domain.StagedObject, records []domain.Record, keyField, table string) (int, error) {
	w.logger.Warn("apply called without a warehouse; dropping batch",
		"ledger_key", staged.LedgerKey(), "rows", len(records))
	return 0, nil
}

func (w *NullWarehouse) LedgerHigh(ctx context.Context, sourceID string) (domain.Watermark, bool, error) {
	return domain.ZeroWatermark, false, nil
}

func (w *NullWarehouse) Exec(ctx context.Context, statement string) error {
	w.logger.Warn("transform skipped without a warehouse")
	return nil
}

func (w *NullWarehouse) Close() error { return nil }
