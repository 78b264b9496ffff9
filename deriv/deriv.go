// Package deriv estimates signal derivatives with adaptive-window
// polynomial fitting.  A polynomial is least-squares fitted over the most
// recent samples; the window grows as long as the fit stays within a noise
// band, so quiet stretches get long, smooth windows and transients shrink
// the window to stay responsive.
package deriv

import (
	"gonum.org/v1/gonum/mat"
)

// Estimator differentiates a sampled scalar signal.  The zero value is not
// usable; construct with NewVelocity or NewAccel.
type Estimator struct {
	order  int
	winLen int
	thres  float64

	t, x []float64
}

// NewVelocity returns a first-derivative estimator fitting first-order
// polynomials over a window of at most winLen samples with residual
// threshold thres.
func NewVelocity(winLen int, thres float64) *Estimator {
	return newEstimator(1, winLen, thres)
}

// NewAccel returns a second-derivative estimator fitting second-order
// polynomials.
func NewAccel(winLen int, thres float64) *Estimator {
	return newEstimator(2, winLen, thres)
}

func newEstimator(order, winLen int, thres float64) *Estimator {
	if winLen < order+1 {
		winLen = order + 1
	}
	return &Estimator{order: order, winLen: winLen, thres: thres}
}

// Reset discards the sample history.
func (e *Estimator) Reset() {
	e.t = e.t[:0]
	e.x = e.x[:0]
}

// Estimate appends the sample (t, x) and returns the derivative estimate at
// t.  Until order+1 samples have accumulated the estimate is zero.
func (e *Estimator) Estimate(t, x float64) float64 {
	e.t = append(e.t, t)
	e.x = append(e.x, x)
	if len(e.t) > e.winLen {
		e.t = e.t[1:]
		e.x = e.x[1:]
	}
	if len(e.t) < e.order+1 {
		return 0
	}

	// longest trailing window whose fit stays inside the noise band;
	// the shortest window is always accepted
	for n := len(e.t); n >= e.order+1; n-- {
		coef, maxRes := e.fit(n)
		if maxRes <= e.thres || n == e.order+1 {
			return e.deriv(coef)
		}
	}
	return 0
}

// fit least-squares fits a polynomial over the last n samples and returns
// the coefficients (ascending powers) and the max absolute residual.
// Times are shifted by the window start for conditioning.
func (e *Estimator) fit(n int) ([]float64, float64) {
	start := len(e.t) - n
	t0 := e.t[start]

	A := mat.NewDense(n, e.order+1, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		dt := e.t[start+i] - t0
		p := 1.0
		for j := 0; j <= e.order; j++ {
			A.Set(i, j, p)
			p *= dt
		}
		b.SetVec(i, e.x[start+i])
	}

	var qr mat.QR
	qr.Factorize(A)
	c := mat.NewVecDense(e.order+1, nil)
	if err := qr.SolveVecTo(c, false, b); err != nil {
		// degenerate window (e.g. repeated timestamps); no estimate
		return make([]float64, e.order+1), 0
	}

	coef := make([]float64, e.order+1)
	for j := range coef {
		coef[j] = c.AtVec(j)
	}

	var maxRes float64
	for i := 0; i < n; i++ {
		dt := e.t[start+i] - t0
		fit := polyval(coef, dt)
		res := e.x[start+i] - fit
		if res < 0 {
			res = -res
		}
		if res > maxRes {
			maxRes = res
		}
	}
	return coef, maxRes
}

// deriv returns the requested derivative of the fitted polynomial.  For a
// first-order fit the slope is constant; for second order the curvature is.
func (e *Estimator) deriv(coef []float64) float64 {
	if e.order == 1 {
		return coef[1]
	}
	return 2 * coef[2]
}

func polyval(coef []float64, t float64) float64 {
	var y float64
	for j := len(coef) - 1; j >= 0; j-- {
		y = y*t + coef[j]
	}
	return y
}
