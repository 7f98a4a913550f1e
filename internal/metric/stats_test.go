package metric

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	cases := []struct {
		v, lo, hi, want float64
	}{
		{-5, 0, 100, 0},
		{150, 0, 100, 100},
		{42, 0, 100, 42},
		{0.5, 0, 1, 0.5},
		{1.7, 0, 1, 1},
	}
	for _, c := range cases {
		if got := Clamp(c.v, c.lo, c.hi); got != c.want {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v", c.v, c.lo, c.hi, got, c.want)
		}
	}
}

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Errorf("Expected mean 0 for empty series, got %v", got)
	}
	if got := Mean([]float64{2, 4, 6}); got != 4 {
		t.Errorf("Expected mean 4, got %v", got)
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{5}); got != 0 {
		t.Errorf("Expected stddev 0 below two samples, got %v", got)
	}

	// Population stddev of {2,4,4,4,5,5,7,9} is exactly 2.
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("Expected stddev 2, got %v", got)
	}

	if got := StdDev([]float64{3, 3, 3, 3}); got != 0 {
		t.Errorf("Expected stddev 0 for constant series, got %v", got)
	}
}

func TestSpread(t *testing.T) {
	if got := Spread([]float64{0.1, -0.05, 0.2, 0.0}); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("Expected spread 0.25, got %v", got)
	}
	if got := Spread(nil); got != 0 {
		t.Errorf("Expected spread 0 for empty series, got %v", got)
	}
}

func TestHalfSplit(t *testing.T) {
	first, second := HalfSplit([]float64{10, 10, 10, 20, 20, 20}, 0.5)
	if first != 10 || second != 20 {
		t.Errorf("Expected halves 10/20, got %v/%v", first, second)
	}
}

func TestHalfSplit_BelowMinWindowReturnsNeutral(t *testing.T) {
	first, second := HalfSplit([]float64{1, 2, 3}, 0.5)
	if first != 0.5 || second != 0.5 {
		t.Errorf("Expected neutral 0.5 halves below min window, got %v/%v", first, second)
	}
}

func TestFraction(t *testing.T) {
	series := []float64{10, 60, 70, 20}
	got := Fraction(series, func(v float64) bool { return v > 50 })
	if got != 0.5 {
		t.Errorf("Expected fraction 0.5, got %v", got)
	}
	if Fraction(nil, func(float64) bool { return true }) != 0 {
		t.Error("Expected fraction 0 for empty series")
	}
}
