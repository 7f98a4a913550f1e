package metric

import "math"

// MinWindow is the minimum series depth below which windowed estimators
// return their neutral default instead of a real figure.
const MinWindow = 5

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to the fusion-internal [0,1] range.
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp100 bounds v to the display [0,100] range.
func Clamp100(v float64) float64 {
	return Clamp(v, 0, 100)
}

// Mean returns the arithmetic mean, or 0 for an empty series.
func Mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// StdDev returns the population standard deviation, or 0 below two
// samples.
func StdDev(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	mean := Mean(series)
	sum := 0.0
	for _, v := range series {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(series)))
}

// Spread returns max-min, or 0 for an empty series.
func Spread(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	lo, hi := series[0], series[0]
	for _, v := range series[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

// HalfSplit returns the means of the first and second halves of the
// series. Comparing the halves of a sustained window is how the
// temporal stage detects directional drift that a static threshold
// cannot; a single-frame snapshot has no direction.
// Below MinWindow both halves report the neutral mid value.
func HalfSplit(series []float64, neutral float64) (first, second float64) {
	if len(series) < MinWindow {
		return neutral, neutral
	}
	mid := len(series) / 2
	return Mean(series[:mid]), Mean(series[mid:])
}

// Fraction returns the share of samples for which pred holds, or 0 for
// an empty series.
func Fraction(series []float64, pred func(float64) bool) float64 {
	if len(series) == 0 {
		return 0
	}
	n := 0
	for _, v := range series {
		if pred(v) {
			n++
		}
	}
	return float64(n) / float64(len(series))
}
