package testutil

import (
	"math"
	"testing"
)

// RequireSliceNearlyEqual fails t if got and want differ in length or if
// any element pair differs by more than eps.
func RequireSliceNearlyEqual(t *testing.T, got, want []float64, eps float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		diff := math.Abs(got[i] - want[i])
		if diff > eps {
			t.Fatalf("index %d: got %v, want %v (diff %v > eps %v)", i, got[i], want[i], diff, eps)
		}
	}
}

// RequireFinite fails t if any element is NaN or Inf.
func RequireFinite(t *testing.T, data []float64) {
	t.Helper()
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("index %d: non-finite value %v", i, v)
		}
	}
}

// RequirePanics fails t unless fn panics.
func RequirePanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

// PeakAbs returns the largest absolute sample value in data.
func PeakAbs(data []float64) float64 {
	peak := 0.0
	for _, v := range data {
		peak = max(peak, math.Abs(v))
	}
	return peak
}

// FirstAbove returns the index of the first sample whose magnitude exceeds
// level, or -1.
func FirstAbove(data []float64, level float64) int {
	for i, v := range data {
		if math.Abs(v) > level {
			return i
		}
	}
	return -1
}
