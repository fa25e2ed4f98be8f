// internal/core/domain/staged.go
package domain

import (
	"fmt"
	"time"
)

// StagedObject is the immutable manifest of one staged batch: records
// serialized and committed to object storage before warehouse load.
// Write-once; never mutated after manifest commit. Referenced by at most
// one load task, retained for audit after that load applies.
type StagedObject struct {
	SourceID  string         `json:"source_id"`
	Range     WatermarkRange `json:"range"`
	Location  string         `json:"location"`
	Checksum  string         `json:"checksum"`
	RowCount  int            `json:"row_count"`
	CreatedAt time.Time      `json:"created_at"`
}

// LedgerKey is the idempotency key `(source id, watermark range)` recorded
// in the warehouse load ledger.
func (s StagedObject) LedgerKey() string {
	return fmt.Sprintf("%s/%s", s.SourceID, s.Range.Key())
}

// Validate checks the manifest is complete.
func (s StagedObject) Validate() error {
	if s.SourceID == "" || s.Location == "" || s.Checksum == "" {
		return fmt.Errorf("incomplete staged object manifest for %s: %w", s.SourceID, ErrInvalidManifest)
	}
	return s.Range.Validate()
}
