// internal/adapters/warehouse/sqlwarehouse_test.go
package warehouse

import (
	"context"
	"net"
	"testing"
	"time"

	"strata/internal/core/domain"
	"strata/internal/platform/errors"
	"strata/internal/testutil"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "dial tcp: connection refused" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}

func newTestWarehouse(t *testing.T) *SQLWarehouse {
	t.Helper()
	// sql.Open validates lazily; no server is needed for helper tests.
	w, err := NewSQLWarehouse("server=localhost;database=dw", testutil.NewTestLogger())
	testutil.AssertNoError(t, err, "NewSQLWarehouse")
	t.Cleanup(func() { w.Close() })
	return w
}

func TestClassify_Taxonomy(t *testing.T) {
	w := newTestWarehouse(t)

	testutil.AssertNil(t, w.classify(nil, "merge"), "nil passes through")

	err := w.classify(fakeNetError{}, "merge")
	testutil.AssertTrue(t, errors.Is(err, errors.ErrWarehouseUnavailable), "network fault is retryable")

	err = w.classify(errors.New("connection reset by peer"), "merge")
	testutil.AssertTrue(t, errors.Is(err, errors.ErrWarehouseUnavailable), "connection text is retryable")

	err = w.classify(errors.New("Violation of PRIMARY KEY constraint"), "merge")
	testutil.AssertTrue(t, errors.Is(err, errors.ErrLoadRejected), "constraint violation is not retryable")

	testutil.AssertTrue(t, w.classify(context.Canceled, "merge") == context.Canceled, "cancellation passes through")

	err = w.classify(context.DeadlineExceeded, "merge")
	testutil.AssertTrue(t, errors.Is(err, errors.ErrWarehouseUnavailable), "deadline maps to the retryable kind")
	testutil.AssertEqual(t, errors.Kind(err), "WarehouseUnavailable", "task record carries the taxonomy kind")
}

func TestValidIdentifier(t *testing.T) {
	for _, name := range []string{"fact_orders", "Orders2026", "strata_stage_orders"} {
		testutil.AssertNoError(t, validIdentifier(name), name)
	}
	for _, name := range []string{"", "orders; DROP TABLE x", "a-b", "[orders]"} {
		err := validIdentifier(name)
		testutil.AssertTrue(t, errors.Is(err, errors.ErrLoadRejected), "rejected: "+name)
	}
}

func TestNullWarehouse_DropsEverything(t *testing.T) {
	ctx := context.Background()
	w := NewNullWarehouse(testutil.NewTestLogger())

	applied, err := w.AlreadyApplied(ctx, "orders/x")
	testutil.AssertNoError(t, err, "AlreadyApplied")
	testutil.AssertFalse(t, applied, "ledger is always empty")

	staged := domain.StagedObject{
		SourceID: "orders",
		Range: domain.WatermarkRange{
			Low:  domain.Watermark{Pos: 100},
			High: domain.Watermark{Pos: 150},
		},
		Location:  "sources/orders/x",
		Checksum:  "abc",
		RowCount:  2,
		CreatedAt: time.Now(),
	}
	rows, err := w.Apply(ctx, staged, []domain.Record{{Key: "1"}, {Key: "2"}}, "id", "orders")
	testutil.AssertNoError(t, err, "Apply")
	testutil.AssertEqual(t, rows, 0, "nothing merged")

	_, ok, err := w.LedgerHigh(ctx, "orders")
	testutil.AssertNoError(t, err, "LedgerHigh")
	testutil.AssertFalse(t, ok, "no ledger history")

	testutil.AssertNoError(t, w.Exec(ctx, "UPDATE agg SET n = 1"), "Exec is a no-op")
	testutil.AssertNoError(t, w.Close(), "Close")
}
