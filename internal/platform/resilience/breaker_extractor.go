// internal/platform/resilience/breaker_extractor.go
package resilience

import (
	"context"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
)

// BreakerExtractor wraps an Extractor with a circuit breaker. Repeated
// upstream failures open the circuit; while open, Extract fails fast with
// ErrSourceUnavailable instead of hammering a source that is down. The
// scheduler still sees a retryable failure, so its backoff keeps working
// and the half-open probe eventually lets traffic through again.
type BreakerExtractor struct {
	inner   ports.Extractor
	breaker *CircuitBreaker
	logger  logx.Logger
}

// NewBreakerExtractor wraps inner with cb.
func NewBreakerExtractor(inner ports.Extractor, cb *CircuitBreaker, logger logx.Logger) *BreakerExtractor {
	return &BreakerExtractor{
		inner:   inner,
		breaker: cb,
		logger:  logger.With("component", "breaker-extractor", "extractor", inner.Name()),
	}
}

// Name returns the wrapped extractor's name.
func (b *BreakerExtractor) Name() string { return b.inner.Name() }

// Type returns the wrapped extractor's source type.
func (b *BreakerExtractor) Type() domain.SourceType { return b.inner.Type() }

// Extract consults the breaker, delegates, and records the outcome.
// Only retryable upstream failures count against the breaker; schema
// mismatches are the data's fault, not the upstream's availability.
func (b *BreakerExtractor) Extract(ctx context.Context, source domain.Source, from domain.Watermark, limit int) (*domain.Batch, error) {
	if b.breaker != nil && !b.breaker.Allow() {
		b.logger.Warn("circuit open, skipping upstream call", "source", source.ID)
		return nil, errors.Wrapf(errors.ErrSourceUnavailable, "circuit open for source %s", source.ID)
	}

	batch, err := b.inner.Extract(ctx, source, from, limit)
	if b.breaker != nil {
		switch {
		case err == nil:
			b.breaker.RecordSuccess()
		case errors.Is(err, errors.ErrSourceUnavailable):
			b.breaker.RecordFailure()
		}
	}
	return batch, err
}

// Close closes the wrapped extractor.
func (b *BreakerExtractor) Close() error { return b.inner.Close() }
