package tuning_test

import (
	"math"
	"testing"

	"github.com/nidaahmed301/icub-main/tuning"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestTunePDDesignPoint(t *testing.T) {
	res, err := tuning.TuneController(tuning.TuneOptions{
		Tau: 0.3, K: 1.5, Type: "PD", FCut: 2, Zeta: 1})
	if err != nil {
		t.Fatal(err)
	}
	omega := 4 * math.Pi
	if !approx(res.Kp, omega/3, 1e-3) {
		t.Errorf("Kp: expected %f got %f", omega/3, res.Kp)
	}
	if !approx(res.TauD, 1/(2*omega), 1e-6) {
		t.Errorf("tau_d: expected %f got %f", 1/(2*omega), res.TauD)
	}
	wantKd := (0.3/res.TauD - 1) / 6
	if !approx(res.Kd, wantKd, 1e-6) {
		t.Errorf("Kd: expected %f got %f", wantKd, res.Kd)
	}
	if res.Zeta != 1 {
		t.Errorf("zeta: expected 1 got %f", res.Zeta)
	}
}

func TestTunePExactRelations(t *testing.T) {
	var (
		tau  = 0.3
		k    = 1.5
		fcut = 2.0
	)
	res, err := tuning.TuneController(tuning.TuneOptions{
		Tau: tau, K: k, Type: "P", FCut: fcut})
	if err != nil {
		t.Fatal(err)
	}
	omega := 2 * math.Pi * fcut
	if res.Zeta != 1/(2*tau*omega) {
		t.Errorf("zeta: expected %g got %g", 1/(2*tau*omega), res.Zeta)
	}
	if res.Kp != omega*omega*tau/k {
		t.Errorf("Kp: expected %g got %g", omega*omega*tau/k, res.Kp)
	}
	if res.Kd != 0 || res.TauD != 0 {
		t.Errorf("P design must not produce a derivative branch, got Kd=%g tau_d=%g", res.Kd, res.TauD)
	}
}

func TestTunePRoundTripThroughZeta(t *testing.T) {
	viaFcut, err := tuning.TuneController(tuning.TuneOptions{
		Tau: 0.3, K: 1.5, Type: "P", FCut: 2})
	if err != nil {
		t.Fatal(err)
	}
	viaZeta, err := tuning.TuneController(tuning.TuneOptions{
		Tau: 0.3, K: 1.5, Type: "P", Zeta: viaFcut.Zeta})
	if err != nil {
		t.Fatal(err)
	}
	if !approx(viaFcut.Kp, viaZeta.Kp, 1e-9*viaFcut.Kp) {
		t.Errorf("Kp via f_cut %g != Kp via zeta %g", viaFcut.Kp, viaZeta.Kp)
	}
}

func TestTuneRejections(t *testing.T) {
	cases := []struct {
		name string
		opt  tuning.TuneOptions
	}{
		{"missing tau", tuning.TuneOptions{K: 1, Type: "P", FCut: 1}},
		{"missing K", tuning.TuneOptions{Tau: 1, Type: "P", FCut: 1}},
		{"missing type", tuning.TuneOptions{Tau: 1, K: 1, FCut: 1}},
		{"P without f_cut or zeta", tuning.TuneOptions{Tau: 1, K: 1, Type: "P"}},
		{"unknown type", tuning.TuneOptions{Tau: 1, K: 1, Type: "PID", FCut: 1}},
	}
	for _, c := range cases {
		if _, err := tuning.TuneController(c.opt); err == nil {
			t.Errorf("%s: expected an error", c.name)
		}
	}
}
