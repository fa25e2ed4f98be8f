// internal/adapters/extract/filebatch/filebatch_test.go
package filebatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/testutil"
)

func writeCSV(t *testing.T, dir, name, content string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testutil.AssertNoError(t, os.WriteFile(path, []byte(content), 0o644), "write csv")
	testutil.AssertNoError(t, os.Chtimes(path, mod, mod), "set mod time")
	return path
}

func fileSource(dir string) domain.Source {
	return domain.Source{
		ID:         "invoices",
		Type:       domain.SourceTypeFileBatch,
		Mode:       domain.ModeIncremental,
		KeyField:   "id",
		Connection: map[string]string{"glob": filepath.Join(dir, "*.csv")},
	}
}

func newFileExtractor() *Extractor {
	return New(ports.DefaultExtractorConfig(), testutil.NewTestLogger())
}

func TestFileBatch_ReadsMatchingFilesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	writeCSV(t, dir, "b.csv", "id,amount\n3,30\n4,40\n", base.Add(time.Hour))
	writeCSV(t, dir, "a.csv", "id,amount\n1,10\n2,20\n", base)

	batch, err := newFileExtractor().Extract(context.Background(), fileSource(dir), domain.ZeroWatermark, 100)
	testutil.AssertNoError(t, err, "Extract")

	testutil.AssertEqual(t, len(batch.Records), 4, "both files read")
	testutil.AssertEqual(t, batch.Records[0].Key, "1", "oldest file first")
	testutil.AssertEqual(t, batch.Records[2].Key, "3", "newer file after")
	testutil.AssertEqual(t, batch.Records[0].Fields["amount"], "10", "column mapped")
	testutil.AssertEqual(t, batch.Records[0].Fields["_file"], "a.csv", "origin recorded")
	testutil.AssertTrue(t, batch.Exhausted, "everything consumed")

	testutil.AssertEqual(t, batch.NewWatermark.Pos, base.Add(time.Hour).UnixNano(), "watermark at newest file")
	testutil.AssertEqual(t, filepath.Base(batch.NewWatermark.Token), "b.csv", "watermark names the file")
}

func TestFileBatch_SkipsFilesAtOrBeforeWatermark(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	writeCSV(t, dir, "old.csv", "id\n1\n", base)
	writeCSV(t, dir, "new.csv", "id\n2\n", base.Add(time.Hour))

	from := domain.Watermark{Pos: base.UnixNano()}
	batch, err := newFileExtractor().Extract(context.Background(), fileSource(dir), from, 100)
	testutil.AssertNoError(t, err, "Extract")

	testutil.AssertEqual(t, len(batch.Records), 1, "only the newer file")
	testutil.AssertEqual(t, batch.Records[0].Key, "2", "right record")
}

func TestFileBatch_FileIsAtomicUnit(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	writeCSV(t, dir, "a.csv", "id\n1\n2\n3\n", base)
	writeCSV(t, dir, "b.csv", "id\n4\n5\n6\n", base.Add(time.Hour))

	// Limit 4 fits the first file but not the second; the second file
	// must wait whole rather than split.
	batch, err := newFileExtractor().Extract(context.Background(), fileSource(dir), domain.ZeroWatermark, 4)
	testutil.AssertNoError(t, err, "Extract")

	testutil.AssertEqual(t, len(batch.Records), 3, "second file deferred")
	testutil.AssertFalse(t, batch.Exhausted, "more files remain")
	testutil.AssertEqual(t, batch.NewWatermark.Pos, base.UnixNano(), "watermark stops at the consumed file")

	// Resuming from the returned watermark picks up the deferred file.
	rest, err := newFileExtractor().Extract(context.Background(), fileSource(dir), batch.NewWatermark, 4)
	testutil.AssertNoError(t, err, "resume")
	testutil.AssertEqual(t, len(rest.Records), 3, "deferred file read whole")
	testutil.AssertEqual(t, rest.Records[0].Key, "4", "no records lost")
}

func TestFileBatch_RaggedRowIsSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "bad.csv", "id,amount\n1,10\n2\n", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	_, err := newFileExtractor().Extract(context.Background(), fileSource(dir), domain.ZeroWatermark, 100)
	testutil.AssertTrue(t, errors.Is(err, errors.ErrSchemaMismatch), "ragged row rejected")
}

func TestFileBatch_EmptyFileYieldsNoRecords(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "empty.csv", "", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	batch, err := newFileExtractor().Extract(context.Background(), fileSource(dir), domain.ZeroWatermark, 100)
	testutil.AssertNoError(t, err, "Extract")
	testutil.AssertEqual(t, len(batch.Records), 0, "nothing extracted")
	testutil.AssertTrue(t, batch.Exhausted, "no pending files")
}

func TestFileBatch_MissingGlobRejected(t *testing.T) {
	src := fileSource(t.TempDir())
	src.Connection = map[string]string{}

	_, err := newFileExtractor().Extract(context.Background(), src, domain.ZeroWatermark, 100)
	testutil.AssertTrue(t, errors.Is(err, domain.ErrInvalidSource), "glob required")
}
