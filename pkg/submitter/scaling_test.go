// Copyright 2025 Certen Protocol
//
// Unit tests for on-chain price scaling.

package submitter

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestScaleRoundTrip(t *testing.T) {
	cases := []string{
		"0.00000001",
		"1",
		"50000",
		"123.45678901",
		"92233720368.54775807", // MaxSafePrice exactly
	}

	for _, c := range cases {
		p, err := decimal.NewFromString(c)
		if err != nil {
			t.Fatalf("bad test input %q: %v", c, err)
		}
		scaled, clamped := ScalePrice(p)
		if clamped {
			t.Errorf("Value %s within range should not clamp", c)
		}
		if back := DescalePrice(scaled); !back.Equal(p) {
			t.Errorf("Round trip failed for %s: scaled=%d, back=%s", c, scaled, back)
		}
	}
}

func TestScaleOverflowClamps(t *testing.T) {
	scaled, clamped := ScalePrice(decimal.NewFromFloat(1e14))
	if !clamped {
		t.Error("Expected clamp flag for overflowing price")
	}
	if scaled != math.MaxInt64 {
		t.Errorf("Expected clamp to MaxInt64, got %d", scaled)
	}
}

func TestScaleNonPositive(t *testing.T) {
	for _, v := range []float64{0, -1, -50000} {
		scaled, clamped := ScalePrice(decimal.NewFromFloat(v))
		if scaled != 0 || clamped {
			t.Errorf("Non-positive price %f should scale to 0 without clamping, got %d", v, scaled)
		}
	}
}

func TestMaxSafePriceScalesToMaxInt64(t *testing.T) {
	scaled, clamped := ScalePrice(MaxSafePrice)
	if clamped {
		t.Error("MaxSafePrice itself must not clamp")
	}
	if scaled != math.MaxInt64 {
		t.Errorf("Expected MaxInt64, got %d", scaled)
	}
}
