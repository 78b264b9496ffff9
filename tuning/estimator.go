package tuning

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrBadPrior is generated when an estimator prior is under-sized or
// carries a non-positive time constant.
var ErrBadPrior = errors.New("tuning: prior needs at least 4 elements and tau > 0")

// ErrBadPeriod is generated when a sample period quantizes to less than
// one millisecond.
var ErrBadPeriod = errors.New("tuning: sample period must quantize to at least 1 ms")

// tauEps bounds the inverse time constant away from zero so transient
// excursions of the filter cannot divide by zero.
const tauEps = 1e-9

// MotorEstimator identifies the voltage-to-position plant of a joint
// on line.  The plant is a first order system plus an integrator,
//
//	p̈ + ṗ/τ = K u/τ
//
// and the estimator is an EKF over the four-element state
// (p, v, 1/τ, K/τ); folding the parameters into the state this way gives
// the discretized transition a closed form and keeps the Jacobian cheap.
type MotorEstimator struct {
	ts float64
	r  float64
	q  *mat.Dense

	x *mat.VecDense // internal state (p, v, 1/τ, K/τ)
	P *mat.Dense

	out [4]float64 // externally reported (p, v, τ, K)
}

// NewMotorEstimator returns an estimator with the default configuration:
// Ts=10 ms, Q=R=1, P0=1e5, prior (0, 0, τ=1, K=1).
func NewMotorEstimator() *MotorEstimator {
	m := &MotorEstimator{}
	m.Init(0.01, 1, 1, 1e5, []float64{0, 0, 1, 1})
	return m
}

// Init fully (re)configures the estimator.  Q and R are the scalar process
// and measurement noise intensities (Q scales an identity), P0 scales the
// prior covariance, and x0 is the prior (p, v, τ, K) with τ > 0.
func (m *MotorEstimator) Init(ts, q, r, p0 float64, x0 []float64) error {
	if ts <= 0 {
		return ErrBadPeriod
	}
	if err := m.setPrior(p0, x0); err != nil {
		return err
	}
	m.ts = ts
	m.q = eye4(q)
	m.r = r
	return nil
}

// Reset re-seeds the state and covariance, preserving Ts, Q and R.  Used
// between estimation stages.
func (m *MotorEstimator) Reset(p0 float64, x0 []float64) error {
	return m.setPrior(p0, x0)
}

func (m *MotorEstimator) setPrior(p0 float64, x0 []float64) error {
	if len(x0) < 4 || x0[2] <= 0 {
		return ErrBadPrior
	}
	m.out = [4]float64{x0[0], x0[1], x0[2], x0[3]}
	m.x = mat.NewVecDense(4, []float64{x0[0], x0[1], 1 / x0[2], x0[3] / x0[2]})
	m.P = eye4(p0)
	return nil
}

// Estimate folds one sample into the filter: u is the commanded voltage
// held over the last period and y the encoder reading.  It returns the
// externally-reported state (p, v, τ, K).
func (m *MotorEstimator) Estimate(u, y float64) (pos, vel, tau, gain float64) {
	x2 := m.x.AtVec(1)
	x3 := math.Max(m.x.AtVec(2), tauEps)
	x4 := m.x.AtVec(3)

	exp := math.Exp(-m.ts * x3)
	exp1 := 1 - exp
	x3sq := x3 * x3
	tmp1 := (m.ts*x3 - exp1) / x3sq

	a01 := exp1 / x3
	b0 := x4 * tmp1
	b1 := x4 * a01

	A := eye4(1)
	A.Set(0, 1, a01)
	A.Set(1, 1, exp)

	F := eye4(1)
	F.Set(0, 1, a01)
	F.Set(1, 1, exp)
	F.Set(0, 2, -(x2*exp1)/x3sq+(u*x4*m.ts*exp1)/x3sq-(2*u*b0)/x3+(m.ts*x2*exp)/x3)
	F.Set(1, 2, -(u*x4*exp1)/x3sq-m.ts*x2*exp+(u*x4*m.ts*exp)/x3)
	F.Set(0, 3, u*tmp1)
	F.Set(1, 3, u*a01)

	// prediction
	xp := mat.NewVecDense(4, nil)
	xp.MulVec(A, m.x)
	xp.SetVec(0, xp.AtVec(0)+b0*u)
	xp.SetVec(1, xp.AtVec(1)+b1*u)
	m.x = xp

	var fp, fpf mat.Dense
	fp.Mul(F, m.P)
	fpf.Mul(&fp, F.T())
	fpf.Add(&fpf, m.q)
	m.P = mat.DenseCopyOf(&fpf)

	// Kalman gain for C = [1 0 0 0]
	s := m.P.At(0, 0) + m.r
	k := mat.NewVecDense(4, nil)
	for i := 0; i < 4; i++ {
		k.SetVec(i, m.P.At(i, 0)/s)
	}

	// correction
	innov := y - m.x.AtVec(0)
	for i := 0; i < 4; i++ {
		m.x.SetVec(i, m.x.AtVec(i)+k.AtVec(i)*innov)
	}
	// P = (I - k C) P subtracts k-scaled copies of P's first row
	newP := mat.DenseCopyOf(m.P)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			newP.Set(i, j, m.P.At(i, j)-k.AtVec(i)*m.P.At(0, j))
		}
	}
	m.P = newP

	x3out := math.Max(m.x.AtVec(2), tauEps)
	m.out = [4]float64{
		m.x.AtVec(0),
		m.x.AtVec(1),
		1 / x3out,
		m.x.AtVec(3) / x3out,
	}
	return m.out[0], m.out[1], m.out[2], m.out[3]
}

// Parameters returns the identified (τ, K).
func (m *MotorEstimator) Parameters() (tau, gain float64) {
	return m.out[2], m.out[3]
}

// State returns the externally-reported state (p, v, τ, K).
func (m *MotorEstimator) State() [4]float64 {
	return m.out
}

// Internal returns the filter's internal state (p, v, 1/τ, K/τ); the
// telemetry frames carry these raw estimates.
func (m *MotorEstimator) Internal() [4]float64 {
	return [4]float64{m.x.AtVec(0), m.x.AtVec(1), m.x.AtVec(2), m.x.AtVec(3)}
}

func eye4(v float64) *mat.Dense {
	d := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		d.Set(i, i, v)
	}
	return d
}
