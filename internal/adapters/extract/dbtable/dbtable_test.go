// internal/adapters/extract/dbtable/dbtable_test.go
package dbtable

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"strata/internal/core/domain"
	"strata/internal/platform/errors"
	"strata/internal/testutil"
)

func TestAsInt64(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   any
		want int64
	}{
		{"int64", int64(42), 42},
		{"int", 42, 42},
		{"int32", int32(42), 42},
		{"float64", float64(42.9), 42},
		{"time", ts, ts.UnixNano()},
		{"numeric string", "42", 42},
		{"json number", json.Number("42"), 42},
		{"garbage string", "abc", 0},
		{"nil", nil, 0},
		{"unsupported", struct{}{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testutil.AssertEqual(t, asInt64(tc.in), tc.want, "conversion")
		})
	}
}

func TestNormalize(t *testing.T) {
	testutil.AssertEqual(t, normalize([]byte("hello")), "hello", "byte slices become strings")
	testutil.AssertEqual(t, normalize(int64(7)), int64(7), "other values pass through")
}

func TestValidColumn(t *testing.T) {
	for _, name := range []string{"order_id", "dbo.orders", "Col9"} {
		testutil.AssertNoError(t, validColumn(name), name)
	}
	for _, name := range []string{"", "id; DROP TABLE x", "a b", "col'"} {
		err := validColumn(name)
		testutil.AssertTrue(t, errors.Is(err, domain.ErrInvalidSource), "rejected: "+name)
	}
}

func TestClassify(t *testing.T) {
	testutil.AssertTrue(t, classify(context.Canceled, "orders") == context.Canceled, "cancellation passes through")

	err := classify(context.DeadlineExceeded, "orders")
	testutil.AssertTrue(t, errors.Is(err, errors.ErrSourceUnavailable), "deadline maps to the retryable kind")
	testutil.AssertEqual(t, errors.Kind(err), "SourceUnavailable", "task record carries the taxonomy kind")

	err = classify(errors.New("dial tcp: connection refused"), "orders")
	testutil.AssertTrue(t, errors.Is(err, errors.ErrSourceUnavailable), "driver fault is retryable")
}

func TestNew_OpensPool(t *testing.T) {
	// sql.Open validates lazily; construction succeeds without a server.
	e, err := New(Options{DSN: "server=localhost;database=erp", Logger: testutil.NewTestLogger()})
	testutil.AssertNoError(t, err, "New")
	defer e.Close()

	testutil.AssertEqual(t, e.Name(), "db-table", "name")
	testutil.AssertEqual(t, e.Type(), domain.SourceTypeDBTable, "type")
	testutil.AssertEqual(t, e.config.BatchSize, 500, "defaults applied")
}
