// internal/core/domain/watermark.go
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Watermark marks the last source position successfully and durably loaded.
//
// Pos is the ordered component: an auto-increment id, a unix-nano timestamp,
// or a page ordinal for cursor-paginated APIs. Token optionally carries an
// opaque resume cursor alongside it; ordering is decided by Pos alone, the
// token just rides along so extraction can resume where the upstream left off.
type Watermark struct {
	Pos   int64
	Token string
}

// ZeroWatermark is the position before any record.
var ZeroWatermark = Watermark{}

// Compare returns -1, 0 or +1 ordering w against other by position.
func (w Watermark) Compare(other Watermark) int {
	switch {
	case w.Pos < other.Pos:
		return -1
	case w.Pos > other.Pos:
		return 1
	default:
		return 0
	}
}

// Before reports whether w is strictly earlier than other.
func (w Watermark) Before(other Watermark) bool { return w.Compare(other) < 0 }

// IsZero reports whether w is the zero position.
func (w Watermark) IsZero() bool { return w.Pos == 0 && w.Token == "" }

// String encodes the watermark for persistence and logging.
func (w Watermark) String() string {
	if w.Token == "" {
		return strconv.FormatInt(w.Pos, 10)
	}
	return fmt.Sprintf("%d@%s", w.Pos, w.Token)
}

// ParseWatermark decodes the String representation.
func ParseWatermark(s string) (Watermark, error) {
	if s == "" {
		return ZeroWatermark, nil
	}
	pos := s
	token := ""
	if i := strings.IndexByte(s, '@'); i >= 0 {
		pos, token = s[:i], s[i+1:]
	}
	n, err := strconv.ParseInt(pos, 10, 64)
	if err != nil {
		return ZeroWatermark, fmt.Errorf("malformed watermark %q: %w", s, err)
	}
	return Watermark{Pos: n, Token: token}, nil
}

// WatermarkRange is the half-open interval [Low, High) covered by one
// extraction batch. Low is the watermark the extraction started from,
// High the watermark it produced.
type WatermarkRange struct {
	Low  Watermark
	High Watermark
}

// Validate rejects inverted or empty ranges.
func (r WatermarkRange) Validate() error {
	if !r.Low.Before(r.High) {
		return fmt.Errorf("range [%s,%s) is empty or inverted: %w", r.Low, r.High, ErrInvalidRange)
	}
	return nil
}

// Key returns the deterministic identity of the range, used for staging
// object keys and load-ledger entries. Re-deriving the key for the same
// range always yields the same value.
func (r WatermarkRange) Key() string {
	return fmt.Sprintf("%020d-%020d", r.Low.Pos, r.High.Pos)
}

// String implements fmt.Stringer.
func (r WatermarkRange) String() string {
	return fmt.Sprintf("[%s,%s)", r.Low, r.High)
}
