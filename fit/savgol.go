package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Smooth applies a local polynomial (Savitzky-Golay style) smoother: at every
// point a polynomial of the given degree is least-squares fitted to the
// surrounding window and evaluated at the point itself. The window does not
// shrink at the edges; it slides inward so every point keeps a full fit.
// Points whose window contains a NaN are returned as NaN.
func Smooth(t, y []float64, window, degree int) ([]float64, error) {
	if degree < 1 {
		return nil, &FitError{Reason: "smoothing degree must be at least 1"}
	}
	if window <= degree {
		return nil, &FitError{Reason: "smoothing window must exceed the polynomial degree"}
	}
	if len(y) < window {
		return nil, &FitError{Reason: "series shorter than the smoothing window"}
	}

	half := window / 2
	out := make([]float64, len(y))
	for i := range y {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		if lo > len(y)-window {
			lo = len(y) - window
		}
		out[i] = polyAt(t[lo:lo+window], y[lo:lo+window], t[i], degree)
	}
	return out, nil
}

// polyAt least-squares fits a degree-d polynomial in (t - t0) to the window
// and returns its value at t0, which is the constant coefficient.
func polyAt(t, y []float64, t0 float64, degree int) float64 {
	if anyNaN(y) {
		return math.NaN()
	}

	rows := len(t)
	a := mat.NewDense(rows, degree+1, nil)
	for i := 0; i < rows; i++ {
		d := t[i] - t0
		p := 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, p)
			p *= d
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, mat.NewVecDense(rows, y)); err != nil {
		return math.NaN()
	}
	return beta.AtVec(0)
}
