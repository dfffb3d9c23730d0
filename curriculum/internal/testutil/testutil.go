// Package testutil provides shared assertion helpers for the curriculum
// test packages.
package testutil

import (
	"math"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// LinearAlphas returns a strictly decreasing coefficient curve over [0, n)
// running from just below 1 down to 0.01. Handy where the exact curve does
// not matter.
func LinearAlphas(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.999 - 0.989*float64(i)/float64(max(n-1, 1))
	}
	return out
}
