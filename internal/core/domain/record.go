// internal/core/domain/record.go
package domain

import "time"

// Record is one extracted row. Records are schemaless at the core level;
// the warehouse adapter maps Fields onto columns.
type Record struct {
	// Key is the primary key value, stringified. Duplicate keys across
	// overlapping extractions collapse during the warehouse dedup step.
	Key string

	// Position is the record's place in the source's watermark order.
	Position int64

	// ExtractedAt is when the extractor read the record. It is the first
	// dedup tie-breaker: the most recently extracted version of a key wins.
	ExtractedAt time.Time

	// Fields holds the column values.
	Fields map[string]any
}

// Batch is a bounded, ordered sequence of records plus the watermark
// reached after reading them.
type Batch struct {
	Records      []Record
	NewWatermark Watermark

	// Exhausted reports whether the source had no more records past
	// NewWatermark at extraction time.
	Exhausted bool
}

// Empty reports whether the batch carries no records.
func (b Batch) Empty() bool { return len(b.Records) == 0 }
