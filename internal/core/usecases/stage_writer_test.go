// internal/core/usecases/stage_writer_test.go
package usecases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"strata/internal/core/domain"
	"strata/internal/platform/errors"
	"strata/internal/testutil"
)

func testRange(low, high int64) domain.WatermarkRange {
	return domain.WatermarkRange{
		Low:  domain.Watermark{Pos: low},
		High: domain.Watermark{Pos: high},
	}
}

func testRecords(n int, startPos int64) []domain.Record {
	extracted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		pos := startPos + int64(i)
		out = append(out, domain.Record{
			Key:         fmt.Sprintf("k-%d", pos),
			Position:    pos,
			ExtractedAt: extracted,
			Fields:      map[string]any{"amount": float64(i)},
		})
	}
	return out
}

func TestStageWriter_StageCommitsManifest(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemObjectStore()
	w := NewStageWriter(store, testutil.NewTestLogger())

	rng := testRange(100, 150)
	staged, err := w.Stage(ctx, testSource("orders"), testRecords(3, 101), rng)
	testutil.AssertNoError(t, err, "Stage")

	testutil.AssertEqual(t, staged.SourceID, "orders", "manifest source")
	testutil.AssertEqual(t, staged.RowCount, 3, "manifest row count")
	testutil.AssertNotEqual(t, staged.Checksum, "", "checksum recorded")
	testutil.AssertEqual(t, staged.Location,
		"sources/orders/00000000000000000100-00000000000000000150", "deterministic stage key")

	got, ok, err := w.Staged(ctx, "orders", rng)
	testutil.AssertNoError(t, err, "Staged")
	testutil.AssertTrue(t, ok, "manifest committed")
	testutil.AssertEqual(t, got.Checksum, staged.Checksum, "manifest round-trips")
}

func TestStageWriter_RestageSameRangeOverwrites(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemObjectStore()
	w := NewStageWriter(store, testutil.NewTestLogger())

	rng := testRange(100, 150)
	first, err := w.Stage(ctx, testSource("orders"), testRecords(3, 101), rng)
	testutil.AssertNoError(t, err, "first stage")
	second, err := w.Stage(ctx, testSource("orders"), testRecords(3, 101), rng)
	testutil.AssertNoError(t, err, "restage")

	testutil.AssertEqual(t, second.Location, first.Location, "same range, same object")
	testutil.AssertEqual(t, second.Checksum, first.Checksum, "same records, same checksum")

	keys, err := store.List(ctx, "sources/orders/")
	testutil.AssertNoError(t, err, "List")
	testutil.AssertEqual(t, len(keys), 1, "restage does not grow the store")
}

func TestStageWriter_InvalidRangeRejected(t *testing.T) {
	w := NewStageWriter(testutil.NewMemObjectStore(), testutil.NewTestLogger())
	_, err := w.Stage(context.Background(), testSource("orders"), nil, testRange(150, 100))
	testutil.AssertTrue(t, errors.Is(err, domain.ErrInvalidRange), "inverted range rejected")
}

func TestStageWriter_PutFailureSurfacesAsStorageWrite(t *testing.T) {
	store := testutil.NewMemObjectStore()
	store.FailPuts = 1
	w := NewStageWriter(store, testutil.NewTestLogger())

	_, err := w.Stage(context.Background(), testSource("orders"), testRecords(1, 101), testRange(100, 150))
	testutil.AssertTrue(t, errors.Is(err, errors.ErrStorageWrite), "write fault propagates")
	testutil.AssertEqual(t, store.Commits, 0, "no manifest after a failed payload write")
}

func TestStageWriter_VerifyAndDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemObjectStore()
	w := NewStageWriter(store, testutil.NewTestLogger())

	records := testRecords(5, 101)
	staged, err := w.Stage(ctx, testSource("orders"), records, testRange(100, 150))
	testutil.AssertNoError(t, err, "Stage")

	got, err := w.VerifyAndDecode(ctx, staged)
	testutil.AssertNoError(t, err, "VerifyAndDecode")
	testutil.AssertEqual(t, len(got), 5, "record count survives")
	testutil.AssertEqual(t, got[0].Key, records[0].Key, "keys survive")
	testutil.AssertEqual(t, got[4].Position, records[4].Position, "positions survive")
}

func TestStageWriter_VerifyRejectsCorruptPayload(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemObjectStore()
	w := NewStageWriter(store, testutil.NewTestLogger())

	staged, err := w.Stage(ctx, testSource("orders"), testRecords(2, 101), testRange(100, 150))
	testutil.AssertNoError(t, err, "Stage")

	// Clobber the payload after the manifest committed.
	_, err = store.PutPayload(ctx, staged.Location, []byte("garbage"))
	testutil.AssertNoError(t, err, "overwrite payload")

	_, err = w.VerifyAndDecode(ctx, staged)
	testutil.AssertTrue(t, errors.Is(err, errors.ErrLoadRejected), "checksum mismatch is not loadable")
}

func TestStageWriter_VerifyMissingPayload(t *testing.T) {
	w := NewStageWriter(testutil.NewMemObjectStore(), testutil.NewTestLogger())
	_, err := w.VerifyAndDecode(context.Background(), domain.StagedObject{
		SourceID: "orders",
		Range:    testRange(100, 150),
		Location: "sources/orders/nowhere",
		Checksum: "00",
	})
	testutil.AssertError(t, err, "missing payload is an error")
}
