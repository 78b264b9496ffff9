package deriv_test

import (
	"math"
	"testing"

	"github.com/nidaahmed301/icub-main/deriv"
)

func TestVelocityOfRamp(t *testing.T) {
	e := deriv.NewVelocity(32, 4.0)
	var v float64
	for i := 0; i <= 50; i++ {
		tt := float64(i) * 0.01
		v = e.Estimate(tt, 3*tt)
	}
	if math.Abs(v-3) > 1e-9 {
		t.Errorf("slope of 3t: expected 3, got %g", v)
	}
}

func TestAccelOfParabola(t *testing.T) {
	e := deriv.NewAccel(32, 4.0)
	var a float64
	for i := 0; i <= 50; i++ {
		tt := float64(i) * 0.01
		a = e.Estimate(tt, 5*tt*tt)
	}
	if math.Abs(a-10) > 1e-6 {
		t.Errorf("curvature of 5t²: expected 10, got %g", a)
	}
}

func TestWindowShrinksOnTransient(t *testing.T) {
	e := deriv.NewVelocity(32, 0.01)
	// long flat stretch, then a sharp ramp; the estimate must follow the
	// ramp rather than averaging it away
	for i := 0; i < 32; i++ {
		e.Estimate(float64(i)*0.01, 0)
	}
	var v float64
	for i := 32; i < 40; i++ {
		tt := float64(i) * 0.01
		v = e.Estimate(tt, 100*(tt-0.31))
	}
	if v < 50 {
		t.Errorf("estimator failed to track the transient, got %g", v)
	}
}

func TestResetDiscardsHistory(t *testing.T) {
	e := deriv.NewVelocity(8, 4.0)
	for i := 0; i < 8; i++ {
		e.Estimate(float64(i)*0.01, float64(i))
	}
	e.Reset()
	if v := e.Estimate(1.0, 0); v != 0 {
		t.Errorf("first estimate after reset must be zero, got %g", v)
	}
}
