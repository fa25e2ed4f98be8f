// internal/core/domain/watermark_test.go
package domain

import (
	"errors"
	"testing"
)

func TestWatermark_Ordering(t *testing.T) {
	low := Watermark{Pos: 100}
	high := Watermark{Pos: 150}

	if !low.Before(high) {
		t.Errorf("100 should be before 150")
	}
	if high.Before(low) {
		t.Errorf("150 should not be before 100")
	}
	if low.Compare(Watermark{Pos: 100, Token: "cursor-x"}) != 0 {
		t.Errorf("ordering must ignore the token")
	}
	if !ZeroWatermark.IsZero() {
		t.Errorf("zero watermark should report IsZero")
	}
	if (Watermark{Token: "c"}).IsZero() {
		t.Errorf("a token makes the watermark non-zero")
	}
}

func TestWatermark_StringRoundTrip(t *testing.T) {
	cases := []Watermark{
		{},
		{Pos: 42},
		{Pos: 1700000000000000000},
		{Pos: 7, Token: "page-cursor-xyz"},
	}
	for _, w := range cases {
		got, err := ParseWatermark(w.String())
		if err != nil {
			t.Fatalf("parse %q: %v", w.String(), err)
		}
		if got != w {
			t.Errorf("round trip %q: got %+v, want %+v", w.String(), got, w)
		}
	}
}

func TestParseWatermark_Malformed(t *testing.T) {
	for _, s := range []string{"abc", "12x", "@cursor", "-@-"} {
		if _, err := ParseWatermark(s); err == nil {
			t.Errorf("parse %q: expected error", s)
		}
	}
}

func TestWatermarkRange_Validate(t *testing.T) {
	if err := (WatermarkRange{Low: Watermark{Pos: 101}, High: Watermark{Pos: 150}}).Validate(); err != nil {
		t.Errorf("valid range rejected: %v", err)
	}

	empty := WatermarkRange{Low: Watermark{Pos: 5}, High: Watermark{Pos: 5}}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty range: got %v, want ErrInvalidRange", err)
	}

	inverted := WatermarkRange{Low: Watermark{Pos: 10}, High: Watermark{Pos: 2}}
	if err := inverted.Validate(); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("inverted range: got %v, want ErrInvalidRange", err)
	}
}

func TestWatermarkRange_KeyIsDeterministic(t *testing.T) {
	a := WatermarkRange{Low: Watermark{Pos: 101, Token: "t1"}, High: Watermark{Pos: 150, Token: "t2"}}
	b := WatermarkRange{Low: Watermark{Pos: 101}, High: Watermark{Pos: 150}}

	if a.Key() != b.Key() {
		t.Errorf("same positions must derive the same key: %s vs %s", a.Key(), b.Key())
	}
	if a.Key() != "00000000000000000101-00000000000000000150" {
		t.Errorf("unexpected key encoding: %s", a.Key())
	}

	c := WatermarkRange{Low: Watermark{Pos: 101}, High: Watermark{Pos: 151}}
	if a.Key() == c.Key() {
		t.Errorf("different ranges must derive different keys")
	}
}
