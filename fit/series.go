// Package fit holds the numeric primitives for growth-curve analysis:
// sliding-window exponential fits, windowed linear regression, local
// polynomial smoothing and NaN-masked summary statistics. Missing values are
// represented as NaN throughout.
package fit

import (
	"fmt"
	"math"
)

// Series is an ordered sequence of (time, value) measurements for a single
// well. Time must be strictly increasing.
type Series struct {
	Time  []float64
	Value []float64
}

// NewSeries validates and wraps a time/value pair of slices.
func NewSeries(time, value []float64) (Series, error) {
	if len(time) != len(value) {
		return Series{}, fmt.Errorf("fit: time has %d points but value has %d", len(time), len(value))
	}
	if len(time) < 2 {
		return Series{}, fmt.Errorf("fit: need at least 2 points, got %d", len(time))
	}
	for i := 1; i < len(time); i++ {
		if !(time[i] > time[i-1]) {
			return Series{}, fmt.Errorf("fit: time not strictly increasing at index %d (%g then %g)", i, time[i-1], time[i])
		}
	}
	return Series{Time: time, Value: value}, nil
}

// FitError reports that a series carried too little usable signal for any
// growth parameter to be derived (too few points, or no window converged).
type FitError struct {
	Reason string
}

func (e *FitError) Error() string {
	return "fit: " + e.Reason
}

// Diff returns the left derivative dy/dt, one entry shorter than the input.
func Diff(t, y []float64) []float64 {
	d := make([]float64, len(y)-1)
	for i := range d {
		d[i] = (y[i+1] - y[i]) / (t[i+1] - t[i])
	}
	return d
}

// MaskedMeanVar returns the mean and the unbiased sample variance of the
// non-NaN entries. The mean is NaN when no entry is valid and the variance
// is NaN when fewer than two are.
func MaskedMeanVar(vals []float64) (mean, variance float64) {
	n := 0
	sum := 0.0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		n++
		sum += v
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, math.NaN()
	}
	ss := 0.0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		ss += (v - mean) * (v - mean)
	}
	return mean, ss / float64(n-1)
}

// MaskedColumnMeanVar applies MaskedMeanVar per column over equal-length
// rows, e.g. to average per-window fits over the wells of a replicate group.
func MaskedColumnMeanVar(rows [][]float64) (mean, variance []float64) {
	if len(rows) == 0 {
		return nil, nil
	}
	cols := len(rows[0])
	mean = make([]float64, cols)
	variance = make([]float64, cols)
	column := make([]float64, len(rows))
	for c := 0; c < cols; c++ {
		for r := range rows {
			column[r] = rows[r][c]
		}
		mean[c], variance[c] = MaskedMeanVar(column)
	}
	return mean, variance
}
