package pidctrl_test

import (
	"math"
	"testing"

	"github.com/nidaahmed301/icub-main/pidctrl"
)

func TestIntegratorTrapezoid(t *testing.T) {
	i := pidctrl.NewIntegrator(0.01, []float64{0})
	var out []float64
	for k := 0; k < 100; k++ {
		out = i.Integrate([]float64{1})
	}
	// trapezoidal rule ramps the first half-step, 100 samples of 1 over
	// 10ms each integrate to 0.995
	if math.Abs(out[0]-0.995) > 1e-12 {
		t.Errorf("expected 0.995, got %g", out[0])
	}
}

func TestIntegratorReset(t *testing.T) {
	i := pidctrl.NewIntegrator(0.01, []float64{3, -3})
	if out := i.Output(); out[0] != 3 || out[1] != -3 {
		t.Errorf("initial output must match y0, got %v", out)
	}
	i.Integrate([]float64{1, 1})
	i.Reset([]float64{0, 0})
	if out := i.Output(); out[0] != 0 || out[1] != 0 {
		t.Errorf("output after reset must be zero, got %v", out)
	}
}

func TestPIDProportionalOnly(t *testing.T) {
	p := pidctrl.NewParallel(pidctrl.PIDConfig{
		Ts: 0.01, Kp: 10, Wp: 1, Wi: 1, Wd: 1, N: 10, Tt: 1,
		OutMin: -100, OutMax: 100,
	})
	if out := p.Compute(1, 0); out != 10 {
		t.Errorf("P-only step: expected 10, got %g", out)
	}
}

func TestPIDSaturates(t *testing.T) {
	p := pidctrl.NewParallel(pidctrl.PIDConfig{
		Ts: 0.01, Kp: 1000, Wp: 1, Wi: 1, Wd: 1, N: 10, Tt: 1,
		OutMin: -5, OutMax: 5,
	})
	if out := p.Compute(1, 0); out != 5 {
		t.Errorf("output must saturate at 5, got %g", out)
	}
}

func TestPIDIntegralRemovesOffset(t *testing.T) {
	p := pidctrl.NewParallel(pidctrl.PIDConfig{
		Ts: 0.01, Kp: 1, Ki: 10, Wp: 1, Wi: 1, Wd: 1, N: 10, Tt: 1,
		OutMin: -100, OutMax: 100,
	})
	var out float64
	for i := 0; i < 200; i++ {
		out = p.Compute(1, 0)
	}
	// constant error integrates: output must exceed the pure P response
	if out <= 1 {
		t.Errorf("integral branch inactive, output %g", out)
	}
}

func TestPIDResetPresetsOutput(t *testing.T) {
	p := pidctrl.NewParallel(pidctrl.PIDConfig{
		Ts: 0.01, Kp: 2, Wp: 1, Wi: 1, Wd: 1, N: 10, Tt: 1,
		OutMin: -100, OutMax: 100,
	})
	p.Reset(7)
	if out := p.Compute(0, 0); out != 7 {
		t.Errorf("after Reset(7) a zero-error step must output 7, got %g", out)
	}
}
