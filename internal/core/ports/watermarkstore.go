// internal/core/ports/watermarkstore.go
package ports

import (
	"context"
	"errors"

	"strata/internal/core/domain"
)

// ErrStaleWatermark is returned by Advance when the caller's expected
// version no longer matches the stored row: another worker advanced the
// source first. Callers re-read and re-decide rather than overwrite.
var ErrStaleWatermark = errors.New("stale watermark version")

// VersionedWatermark is a watermark with its compare-and-swap version.
// Modeling the per-source watermark as a versioned row instead of a
// shared variable is what prevents lost updates under parallel workers.
type VersionedWatermark struct {
	Value   domain.Watermark `json:"value"`
	Version int64            `json:"version"`
}

// WatermarkStore durably records the last successfully loaded position
// per source. It is updated exactly by the load driver's success path —
// never by the extractor or the scheduler — and only after the
// corresponding load commit is durable.
type WatermarkStore interface {
	// Get returns the stored watermark for a source; a source never seen
	// before returns the zero watermark at version 0.
	Get(ctx context.Context, sourceID string) (VersionedWatermark, error)

	// Advance moves the watermark forward with compare-and-swap
	// semantics. A next value not greater than the stored one is
	// rejected as a logged no-op (monotonicity); a version mismatch
	// returns ErrStaleWatermark. Never rewinds automatically — rewinding
	// is explicit operator action via Reset.
	Advance(ctx context.Context, sourceID string, next domain.Watermark, expectedVersion int64) (VersionedWatermark, error)

	// Reset rewinds a source's watermark. Operator action only.
	Reset(ctx context.Context, sourceID string, to domain.Watermark) error
}
