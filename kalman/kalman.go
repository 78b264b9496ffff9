// Package kalman implements a linear Kalman filter over gonum dense
// matrices.  The predict and correct steps are exposed separately so a
// caller can propagate the model every tick and fold in measurements
// sparsely, which is how the plant validation stage quantifies open-loop
// drift.
package kalman

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when an init vector or matrix does not match
// the filter dimensions.
var ErrDimension = errors.New("kalman: dimension mismatch")

// Filter is a linear Kalman filter x' = Ax + Bu, y = Hx.  Construct with
// New, then Init before stepping.
type Filter struct {
	A, B, H *mat.Dense
	Q, R    *mat.Dense

	x *mat.VecDense
	P *mat.Dense
}

// New returns a filter with the given system and noise matrices.  A is
// n×n, B is n×m, H is p×n, Q is n×n, R is p×p.
func New(A, B, H, Q, R *mat.Dense) *Filter {
	n, _ := A.Dims()
	return &Filter{
		A: A, B: B, H: H, Q: Q, R: R,
		x: mat.NewVecDense(n, nil),
		P: mat.NewDense(n, n, nil),
	}
}

// Init sets the state estimate and its covariance.
func (f *Filter) Init(x0 []float64, P0 *mat.Dense) error {
	n, _ := f.A.Dims()
	if len(x0) != n {
		return ErrDimension
	}
	if r, c := P0.Dims(); r != n || c != n {
		return ErrDimension
	}
	f.x = mat.NewVecDense(n, append([]float64(nil), x0...))
	f.P = mat.DenseCopyOf(P0)
	return nil
}

// Predict propagates the state one step under input u and returns the
// predicted state.
func (f *Filter) Predict(u []float64) []float64 {
	n, _ := f.A.Dims()

	uv := mat.NewVecDense(len(u), append([]float64(nil), u...))
	next := mat.NewVecDense(n, nil)
	next.MulVec(f.A, f.x)
	bu := mat.NewVecDense(n, nil)
	bu.MulVec(f.B, uv)
	next.AddVec(next, bu)
	f.x = next

	// P = A P Aᵀ + Q
	var ap, apat mat.Dense
	ap.Mul(f.A, f.P)
	apat.Mul(&ap, f.A.T())
	apat.Add(&apat, f.Q)
	f.P = mat.DenseCopyOf(&apat)

	return f.State()
}

// Correct folds in the measurement y and returns the corrected state.
func (f *Filter) Correct(y []float64) []float64 {
	n, _ := f.A.Dims()
	p, _ := f.H.Dims()

	yv := mat.NewVecDense(len(y), append([]float64(nil), y...))

	// S = H P Hᵀ + R
	var hp, s mat.Dense
	hp.Mul(f.H, f.P)
	s.Mul(&hp, f.H.T())
	s.Add(&s, f.R)

	// K = P Hᵀ S⁻¹
	var pht, sInv, K mat.Dense
	pht.Mul(f.P, f.H.T())
	if err := sInv.Inverse(&s); err != nil {
		// singular innovation covariance; skip the correction
		return f.State()
	}
	K.Mul(&pht, &sInv)

	// x += K (y - H x)
	innov := mat.NewVecDense(p, nil)
	innov.MulVec(f.H, f.x)
	innov.SubVec(yv, innov)
	dx := mat.NewVecDense(n, nil)
	dx.MulVec(&K, innov)
	f.x.AddVec(f.x, dx)

	// P = (I - K H) P
	var kh mat.Dense
	kh.Mul(&K, f.H)
	ikh := identity(n)
	ikh.Sub(ikh, &kh)
	var newP mat.Dense
	newP.Mul(ikh, f.P)
	f.P = mat.DenseCopyOf(&newP)

	return f.State()
}

// State returns a copy of the state estimate.
func (f *Filter) State() []float64 {
	out := make([]float64, f.x.Len())
	for i := range out {
		out[i] = f.x.AtVec(i)
	}
	return out
}

// Covariance returns a copy of the state covariance.
func (f *Filter) Covariance() *mat.Dense {
	return mat.DenseCopyOf(f.P)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Eye returns an n×n identity scaled by v.
func Eye(n int, v float64) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, v)
	}
	return m
}
