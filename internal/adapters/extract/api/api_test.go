// internal/adapters/extract/api/api_test.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/httpclient"
	"strata/internal/testutil"
)

func apiSource(url string) domain.Source {
	return domain.Source{
		ID:         "tickets",
		Type:       domain.SourceTypeAPIEndpoint,
		Mode:       domain.ModeIncremental,
		KeyField:   "id",
		Connection: map[string]string{"url": url},
	}
}

func newAPIExtractor(cfg ports.ExtractorConfig) *Extractor {
	client := httpclient.New(httpclient.Config{
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}, testutil.NewTestLogger())
	return New(client, cfg, testutil.NewTestLogger())
}

// pagedServer serves two fixed pages linked by an opaque cursor.
func pagedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"records":[{"id":1},{"id":2}],"next_cursor":"c2","has_more":true}`)
		case "c2":
			fmt.Fprint(w, `{"records":[{"id":3}],"next_cursor":"","has_more":false}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
}

func TestAPI_WalksPagesToExhaustion(t *testing.T) {
	server := pagedServer(t)
	defer server.Close()

	e := newAPIExtractor(ports.DefaultExtractorConfig())
	batch, err := e.Extract(context.Background(), apiSource(server.URL), domain.ZeroWatermark, 100)
	testutil.AssertNoError(t, err, "Extract")

	testutil.AssertEqual(t, len(batch.Records), 3, "both pages consumed")
	testutil.AssertEqual(t, batch.Records[0].Key, "1", "first record key")
	testutil.AssertEqual(t, batch.Records[2].Key, "3", "last record key")
	testutil.AssertEqual(t, batch.Records[2].Position, int64(3), "positions count consumed records")
	testutil.AssertTrue(t, batch.Exhausted, "endpoint reported no more pages")
	testutil.AssertEqual(t, batch.NewWatermark.Pos, int64(3), "watermark counts consumption")
	testutil.AssertEqual(t, batch.NewWatermark.Token, "", "final cursor cleared")
}

func TestAPI_ResumesFromCursor(t *testing.T) {
	server := pagedServer(t)
	defer server.Close()

	e := newAPIExtractor(ports.DefaultExtractorConfig())
	from := domain.Watermark{Pos: 2, Token: "c2"}
	batch, err := e.Extract(context.Background(), apiSource(server.URL), from, 100)
	testutil.AssertNoError(t, err, "Extract")

	testutil.AssertEqual(t, len(batch.Records), 1, "only the unconsumed page")
	testutil.AssertEqual(t, batch.Records[0].Key, "3", "resume picks up where it left off")
	testutil.AssertEqual(t, batch.Records[0].Position, int64(3), "position continues the count")
}

func TestAPI_MidWalkFaultKeepsConsumedPages(t *testing.T) {
	// Page one succeeds, page two faults: the consumed page must come
	// back as a partial batch with its cursor, not vanish behind the
	// error, so the next extraction resumes at the fault point.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"records":[{"id":1},{"id":2}],"next_cursor":"c2","has_more":true}`)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	e := newAPIExtractor(ports.DefaultExtractorConfig())
	batch, err := e.Extract(context.Background(), apiSource(server.URL), domain.ZeroWatermark, 100)
	testutil.AssertNoError(t, err, "consumed pages survive the fault")

	testutil.AssertEqual(t, len(batch.Records), 2, "first page kept")
	testutil.AssertEqual(t, batch.NewWatermark.Token, "c2", "watermark holds the consumed page's cursor")
	testutil.AssertEqual(t, batch.NewWatermark.Pos, int64(2), "position covers consumed records only")
	testutil.AssertFalse(t, batch.Exhausted, "the walk did not finish")
}

func TestAPI_FaultOnFirstPageStillFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	e := newAPIExtractor(ports.DefaultExtractorConfig())
	_, err := e.Extract(context.Background(), apiSource(server.URL), domain.ZeroWatermark, 100)
	testutil.AssertTrue(t, errors.Is(err, errors.ErrSourceUnavailable), "no progress means the fault surfaces")
}

func TestAPI_LimitStopsMidWalk(t *testing.T) {
	server := pagedServer(t)
	defer server.Close()

	e := newAPIExtractor(ports.DefaultExtractorConfig())
	batch, err := e.Extract(context.Background(), apiSource(server.URL), domain.ZeroWatermark, 2)
	testutil.AssertNoError(t, err, "Extract")

	testutil.AssertEqual(t, len(batch.Records), 2, "limit respected")
	testutil.AssertFalse(t, batch.Exhausted, "more pages remain")
	testutil.AssertEqual(t, batch.NewWatermark.Token, "c2", "watermark holds the next cursor")
}

func TestAPI_PageCapBoundsOneExtraction(t *testing.T) {
	var served int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		fmt.Fprintf(w, `{"records":[{"id":%d}],"next_cursor":"c%d","has_more":true}`, served, served)
	}))
	defer server.Close()

	cfg := ports.DefaultExtractorConfig()
	cfg.PageCap = 3
	e := newAPIExtractor(cfg)

	batch, err := e.Extract(context.Background(), apiSource(server.URL), domain.ZeroWatermark, 100)
	testutil.AssertNoError(t, err, "Extract")
	testutil.AssertEqual(t, served, 3, "page cap limits requests")
	testutil.AssertEqual(t, len(batch.Records), 3, "one record per page")
	testutil.AssertFalse(t, batch.Exhausted, "endpoint still had more")
}

func TestAPI_MalformedPageIsSchemaMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"records": [not json`)
	}))
	defer server.Close()

	e := newAPIExtractor(ports.DefaultExtractorConfig())
	_, err := e.Extract(context.Background(), apiSource(server.URL), domain.ZeroWatermark, 100)
	testutil.AssertTrue(t, errors.Is(err, errors.ErrSchemaMismatch), "malformed page rejected")
}

func TestAPI_ServerErrorIsSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	e := newAPIExtractor(ports.DefaultExtractorConfig())
	_, err := e.Extract(context.Background(), apiSource(server.URL), domain.ZeroWatermark, 100)
	testutil.AssertTrue(t, errors.Is(err, errors.ErrSourceUnavailable), "outage is retryable")
}

func TestAPI_MissingURLRejected(t *testing.T) {
	e := newAPIExtractor(ports.DefaultExtractorConfig())
	src := apiSource("")
	src.Connection = map[string]string{}

	_, err := e.Extract(context.Background(), src, domain.ZeroWatermark, 100)
	testutil.AssertTrue(t, errors.Is(err, domain.ErrInvalidSource), "url required")
}
