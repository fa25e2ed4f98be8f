// internal/adapters/extract/api/api.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/httpclient"
	"strata/internal/platform/logx"
)

// Extractor pulls records from a cursor-paginated JSON API. The
// watermark token carries the opaque page cursor and the position
// counts records consumed, so a resumed extraction re-requests the
// last fully consumed page's successor rather than guessing offsets.
type Extractor struct {
	client *httpclient.Client
	config ports.ExtractorConfig
	logger logx.Logger
}

var _ ports.Extractor = (*Extractor)(nil)

// page is the wire shape the endpoint returns.
type page struct {
	Records    []map[string]any `json:"records"`
	NextCursor string           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// New builds an API extractor. A nil client gets a default one with the
// config's rate limit and timeout applied.
func New(client *httpclient.Client, config ports.ExtractorConfig, logger logx.Logger) *Extractor {
	if logger == nil {
		logger = logx.New()
	}
	if config.BatchSize <= 0 {
		config = ports.DefaultExtractorConfig()
	}
	if client == nil {
		client = httpclient.New(httpclient.Config{
			Timeout:   config.Timeout,
			RateLimit: config.RateLimit,
		}, logger)
	}
	return &Extractor{
		client: client,
		config: config,
		logger: logger.With("extractor", "api-endpoint"),
	}
}

func (e *Extractor) Name() string { return "api-endpoint" }

func (e *Extractor) Type() domain.SourceType { return domain.SourceTypeAPIEndpoint }

// Extract walks pages from the cursor in from.Token until limit records
// are collected, the endpoint reports no more pages, or the page cap is
// hit. The watermark only ever advances past fully consumed pages; when
// a later page faults after at least one page was consumed, the consumed
// pages are returned as a partial batch so they stage and load, and the
// next extraction resumes from the last consumed page's cursor.
func (e *Extractor) Extract(ctx context.Context, source domain.Source, from domain.Watermark, limit int) (*domain.Batch, error) {
	if limit <= 0 {
		limit = e.config.BatchSize
	}
	endpoint := source.Connection["url"]
	if endpoint == "" {
		return nil, errors.Wrapf(domain.ErrInvalidSource, "source %s: api-endpoint needs a url", source.ID)
	}
	pageCap := e.config.PageCap
	if pageCap <= 0 {
		pageCap = 20
	}

	batch := &domain.Batch{NewWatermark: from}
	cursor := from.Token
	consumed := from.Pos
	extractedAt := time.Now().UTC()

	for pages := 0; pages < pageCap; pages++ {
		if err := ctx.Err(); err != nil {
			return e.keepConsumed(batch, from, source, err)
		}
		pageURL, err := buildPageURL(endpoint, cursor, limit-len(batch.Records))
		if err != nil {
			return nil, errors.Wrapf(domain.ErrInvalidSource, "source %s: %v", source.ID, err)
		}

		body, err := e.client.FetchJSON(ctx, pageURL)
		if err != nil {
			return e.keepConsumed(batch, from, source, err)
		}
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errors.Wrapf(errors.ErrSchemaMismatch, "source %s: malformed page: %v", source.ID, err)
		}

		for _, fields := range p.Records {
			consumed++
			key := ""
			if v, ok := fields[source.KeyField]; ok {
				key = fmt.Sprintf("%v", v)
			}
			batch.Records = append(batch.Records, domain.Record{
				Key:         key,
				Position:    consumed,
				ExtractedAt: extractedAt,
				Fields:      fields,
			})
		}

		// The page is fully consumed: the watermark may now advance.
		cursor = p.NextCursor
		batch.NewWatermark = domain.Watermark{Pos: consumed, Token: cursor}

		if !p.HasMore {
			batch.Exhausted = true
			break
		}
		if len(batch.Records) >= limit {
			break
		}
	}

	e.logger.Debug("extracted api pages",
		"source", source.ID, "rows", len(batch.Records), "cursor", cursor)
	return batch, nil
}

// keepConsumed decides what a mid-pagination fault returns. Pages fully
// consumed before the fault are kept as a partial batch (the watermark
// already sits on the last consumed page's cursor), so they stage and
// load normally and the retry requests only what failed. With no
// progress the fault itself surfaces; cancellation always does.
func (e *Extractor) keepConsumed(batch *domain.Batch, from domain.Watermark, source domain.Source, err error) (*domain.Batch, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, errors.ErrCancelled) {
		return nil, err
	}
	if batch.NewWatermark == from {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(errors.ErrSourceUnavailable, "source %s: %v", source.ID, err)
		}
		return nil, err
	}
	e.logger.Warn("pagination aborted, keeping consumed pages",
		"source", source.ID,
		"rows", len(batch.Records),
		"cursor", batch.NewWatermark.Token,
		"error", err.Error(),
	)
	return batch, nil
}

func (e *Extractor) Close() error { return nil }

func buildPageURL(endpoint, cursor string, pageSize int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("bad endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if pageSize > 0 {
		q.Set("limit", strconv.Itoa(pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
