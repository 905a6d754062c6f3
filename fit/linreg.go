package fit

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// WindowSlope holds a windowed least-squares line fit.
type WindowSlope struct {
	Slope     float64
	Intercept float64
	// Stderr is the standard error of the slope estimate.
	Stderr float64
}

// WindowSlopes fits a straight line over every sliding window of w points
// and returns the per-window slope, intercept and slope standard error.
func WindowSlopes(t, y []float64, w int) ([]WindowSlope, error) {
	if w < 3 {
		return nil, &FitError{Reason: "window too small for a line fit"}
	}
	if len(y) <= w {
		return nil, &FitError{Reason: "series shorter than one window"}
	}

	out := make([]WindowSlope, len(y)-w)
	for i := range out {
		tw := t[i : i+w]
		yw := y[i : i+w]
		if anyNaN(yw) {
			out[i] = WindowSlope{Slope: math.NaN(), Intercept: math.NaN(), Stderr: math.NaN()}
			continue
		}
		alpha, beta := stat.LinearRegression(tw, yw, nil, false)
		out[i] = WindowSlope{
			Slope:     beta,
			Intercept: alpha,
			Stderr:    slopeStderr(tw, yw, alpha, beta),
		}
	}
	return out, nil
}

// slopeStderr is sqrt(SSE/(n-2)/Sxx), the classical standard error of the
// slope in simple linear regression.
func slopeStderr(t, y []float64, alpha, beta float64) float64 {
	n := len(t)
	if n < 3 {
		return math.NaN()
	}
	tmean := stat.Mean(t, nil)
	sse, sxx := 0.0, 0.0
	for i := range t {
		r := y[i] - (alpha + beta*t[i])
		sse += r * r
		d := t[i] - tmean
		sxx += d * d
	}
	if sxx == 0 {
		return math.NaN()
	}
	return math.Sqrt(sse / float64(n-2) / sxx)
}

// WindowMeanVar returns the mean and the population variance (ddof 0) of
// every sliding window of w points.
func WindowMeanVar(y []float64, w int) (mean, variance []float64, err error) {
	if w < 1 || len(y) <= w {
		return nil, nil, &FitError{Reason: "series shorter than one window"}
	}
	mean = make([]float64, len(y)-w)
	variance = make([]float64, len(y)-w)
	for i := range mean {
		win := y[i : i+w]
		m := 0.0
		for _, v := range win {
			m += v
		}
		m /= float64(w)
		ss := 0.0
		for _, v := range win {
			ss += (v - m) * (v - m)
		}
		mean[i] = m
		variance[i] = ss / float64(w)
	}
	return mean, variance, nil
}

func anyNaN(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
