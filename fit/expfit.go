package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// WindowExpFits fits OD(t) = od0 * exp(mu*(t-t_i)) over every sliding window
// of w points, by nonlinear least squares. It returns one mu and one od0 per
// window (len(y)-w entries); windows whose fit fails or does not converge
// hold NaN. With fitOd0 false only mu is fitted and the window's first
// measurement is taken as the initial density.
func WindowExpFits(t, y []float64, w int, fitOd0 bool) (mu, od0 []float64, err error) {
	if w < 3 {
		return nil, nil, fmt.Errorf("fit: sliding window size too small: %d", w)
	}
	if len(y) <= w {
		return nil, nil, &FitError{Reason: fmt.Sprintf("series of %d points shorter than one %d-point window", len(y), w)}
	}

	mu = make([]float64, len(y)-w)
	od0 = make([]float64, len(y)-w)

	for i := range mu {
		dt := make([]float64, w)
		win := y[i : i+w]
		for j := 0; j < w; j++ {
			dt[j] = t[i+j] - t[i]
		}
		if fitOd0 {
			mu[i], od0[i] = expFitOd0Mu(dt, win)
		} else {
			mu[i] = expFitMu(dt, win, y[i])
			od0[i] = math.NaN()
		}
	}

	return mu, od0, nil
}

// expFitOd0Mu fits both od0 and mu; the measured first value seeds od0 and
// mu starts at 1, matching the window's natural scale in hours.
func expFitOd0Mu(dt, y []float64) (mu, od0 float64) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			sse := 0.0
			for j := range dt {
				r := x[0]*math.Exp(x[1]*dt[j]) - y[j]
				sse += r * r
			}
			return sse
		},
		Grad: func(grad, x []float64) {
			grad[0], grad[1] = 0, 0
			for j := range dt {
				e := math.Exp(x[1] * dt[j])
				r := x[0]*e - y[j]
				grad[0] += 2 * r * e
				grad[1] += 2 * r * x[0] * dt[j] * e
			}
		},
	}

	result, err := optimize.Minimize(problem, []float64{y[0], 1}, nil, &optimize.BFGS{})
	if err != nil || !usable(result) {
		return math.NaN(), math.NaN()
	}
	return result.X[1], result.X[0]
}

func expFitMu(dt, y []float64, od0 float64) float64 {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			sse := 0.0
			for j := range dt {
				r := od0*math.Exp(x[0]*dt[j]) - y[j]
				sse += r * r
			}
			return sse
		},
		Grad: func(grad, x []float64) {
			grad[0] = 0
			for j := range dt {
				e := math.Exp(x[0] * dt[j])
				r := od0*e - y[j]
				grad[0] += 2 * r * od0 * dt[j] * e
			}
		},
	}

	result, err := optimize.Minimize(problem, []float64{1}, nil, &optimize.BFGS{})
	if err != nil || !usable(result) {
		return math.NaN()
	}
	return result.X[0]
}

func usable(result *optimize.Result) bool {
	if result == nil {
		return false
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return false
	}
	for _, x := range result.X {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// DoublingTime converts a growth rate to a doubling time, ln(2)/mu, with
// first-order error propagation for the variance.
func DoublingTime(mu, muVar float64) (doubling, doublingVar float64) {
	if math.IsNaN(mu) || mu == 0 {
		return math.NaN(), math.NaN()
	}
	doubling = math.Ln2 / mu
	if math.IsNaN(muVar) {
		return doubling, math.NaN()
	}
	// var(ln(2)/mu) = (ln(2)/mu^2)^2 * var(mu)
	doublingVar = math.Ln2 * math.Ln2 / math.Pow(mu, 4) * muVar
	return doubling, doublingVar
}
