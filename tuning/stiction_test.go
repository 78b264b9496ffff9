package tuning

import (
	"testing"

	"github.com/nidaahmed301/icub-main/joint"
)

func simJoint() *joint.Sim {
	return joint.NewSim(joint.SimConfig{
		Tau: 0.3, K: 1.5,
		Min: 0, Max: 100,
		PID: joint.PID{Kp: 10, MaxInt: 800, MaxOut: 800},
	})
}

// drive runs the estimator synchronously against a simulated joint for up
// to seconds of virtual time, stopping early if both directions settle.
func drive(e *StictionEstimator, sim *joint.Sim, seconds float64) {
	n := int(seconds / e.ts)
	for i := 0; i < n; i++ {
		sim.Step(e.ts)
		e.tick()
		if e.done[0]*e.done[1] != 0 {
			return
		}
	}
}

func TestStictionSettlesOnCompliantJoint(t *testing.T) {
	sim := simJoint()
	e := &StictionEstimator{}
	cfg := DefaultStictionConfig()
	cfg.ErrThres = 5
	if err := e.Configure(sim, cfg); err != nil {
		t.Fatal(err)
	}
	if err := e.threadInit(); err != nil {
		t.Fatal(err)
	}
	drive(e, sim, 60)
	if e.done[0]*e.done[1] == 0 {
		t.Fatalf("estimator did not settle; done=%v stiction=%v", e.done, e.stiction)
	}
	if !e.IsDone() {
		t.Error("IsDone must report true when both flags are set")
	}
}

func TestStictionCorrectsUpward(t *testing.T) {
	sim := joint.NewSim(joint.SimConfig{
		Tau: 0.3, K: 1.5,
		StictionUp: 0.8, StictionDown: -0.5,
		Min: 0, Max: 100,
		PID: joint.PID{Kp: 10, MaxInt: 800, MaxOut: 800},
	})
	e := &StictionEstimator{}
	cfg := DefaultStictionConfig()
	cfg.ErrThres = 0.001 // every half-cycle corrects
	if err := e.Configure(sim, cfg); err != nil {
		t.Fatal(err)
	}
	if err := e.threadInit(); err != nil {
		t.Fatal(err)
	}
	drive(e, sim, 30)
	if e.stiction[0] <= 0 {
		t.Errorf("rising offset should have grown positive, got %g", e.stiction[0])
	}
	if e.IsDone() {
		t.Error("constant corrections must keep the done flags clear")
	}
}

func TestStictionZeroGammaFreezesOffsets(t *testing.T) {
	sim := simJoint()
	e := &StictionEstimator{}
	cfg := DefaultStictionConfig()
	cfg.ErrThres = 0.001
	cfg.Gamma = [2]float64{0, 0}
	cfg.Stiction = [2]float64{0.25, -0.25}
	if err := e.Configure(sim, cfg); err != nil {
		t.Fatal(err)
	}
	if err := e.threadInit(); err != nil {
		t.Fatal(err)
	}
	drive(e, sim, 20)
	if e.stiction != [2]float64{0.25, -0.25} {
		t.Errorf("zero gamma must not move the offsets, got %v", e.stiction)
	}
}

func TestStictionZeroVelThresDisablesAdaptation(t *testing.T) {
	sim := simJoint()
	e := &StictionEstimator{}
	cfg := DefaultStictionConfig()
	cfg.VelThres = 0
	if err := e.Configure(sim, cfg); err != nil {
		t.Fatal(err)
	}
	if err := e.threadInit(); err != nil {
		t.Fatal(err)
	}
	drive(e, sim, 20)
	if e.stiction != cfg.Stiction {
		t.Errorf("offsets moved with adaptation disabled: %v", e.stiction)
	}
	if e.IsDone() {
		t.Error("IsDone must stay false when adaptation never runs")
	}
}

func TestStictionRejectsBadConfig(t *testing.T) {
	e := &StictionEstimator{}
	cfg := DefaultStictionConfig()
	if err := e.Configure(nil, cfg); err == nil {
		t.Error("expected an error for a nil controller")
	}
	cfg.Ts = 0.0004 // quantizes to zero milliseconds
	if err := e.Configure(simJoint(), cfg); err == nil {
		t.Error("expected an error for a sub-millisecond period")
	}
}
