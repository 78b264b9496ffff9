package tuning

import (
	"math"
	"reflect"
	"testing"

	"github.com/nidaahmed301/icub-main/joint"
	"github.com/nidaahmed301/icub-main/kalman"
)

// fakeJoint is a scriptable driver that records what is written to it.
type fakeJoint struct {
	pos      float64
	pid      joint.PID
	min, max float64

	offsets  []float64
	refs     []float64
	openLoop bool
	stopped  bool
}

func (f *fakeJoint) Encoder(j int) (float64, error)          { return f.pos, nil }
func (f *fakeJoint) Limits(j int) (float64, float64, error)  { return f.min, f.max, nil }
func (f *fakeJoint) PID(j int) (joint.PID, error)            { return f.pid, nil }
func (f *fakeJoint) SetPID(j int, p joint.PID) error         { f.pid = p; return nil }
func (f *fakeJoint) SetOffset(j int, volts float64) error    { f.offsets = append(f.offsets, volts); return nil }
func (f *fakeJoint) SetReference(j int, pos float64) error   { f.refs = append(f.refs, pos); return nil }
func (f *fakeJoint) Reference(j int) (float64, error)        { return f.pos, nil }
func (f *fakeJoint) Output(j int) (float64, error)           { return 0, nil }
func (f *fakeJoint) SetOpenLoopMode(j int) error             { f.openLoop = true; return nil }
func (f *fakeJoint) SetPositionMode(j int) error             { f.openLoop = false; return nil }
func (f *fakeJoint) PositionMove(j int, target float64) error { f.refs = append(f.refs, target); return nil }
func (f *fakeJoint) SetRefSpeed(j int, speed float64) error  { return nil }
func (f *fakeJoint) SetRefAcceleration(j int, a float64) error { return nil }
func (f *fakeJoint) Stop(j int) error                        { f.stopped = true; return nil }

func designConfig() Config {
	return Config{Plant: DefaultPlantConfig()}
}

func TestCommandJointPolarity(t *testing.T) {
	cases := []struct {
		kp   float64
		want float64
	}{
		{-10, -500}, // negative Kp: positive volts drive the position down
		{10, 500},
	}
	for _, c := range cases {
		fj := &fakeJoint{pid: joint.PID{Kp: c.kp}, min: 0, max: 100}
		d := NewDesign()
		cfg := designConfig()
		cfg.Plant.MaxPWM = 500
		if err := d.Configure(fj, cfg); err != nil {
			t.Fatal(err)
		}
		d.mode = ModePlantEstimation
		if err := d.threadInit(); err != nil {
			t.Fatal(err)
		}
		d.tick()
		got := fj.offsets[len(fj.offsets)-1]
		if got != c.want {
			t.Errorf("kp=%g: expected offset %g, got %g", c.kp, c.want, got)
		}
	}
}

func TestNegativeMaxPWMUsesMagnitude(t *testing.T) {
	fj := &fakeJoint{pid: joint.PID{Kp: 10}, min: 0, max: 100}
	d := NewDesign()
	cfg := designConfig()
	cfg.Plant.MaxPWM = -500
	if err := d.Configure(fj, cfg); err != nil {
		t.Fatal(err)
	}
	d.mode = ModePlantEstimation
	if err := d.threadInit(); err != nil {
		t.Fatal(err)
	}
	d.tick()
	got := fj.offsets[len(fj.offsets)-1]
	if got != 500 {
		t.Errorf("expected offset 500 from |max_pwm|, got %g", got)
	}
}

func TestMeanParametersAreArithmeticMean(t *testing.T) {
	fj := &fakeJoint{pid: joint.PID{Kp: 10}, min: 0, max: 100}
	d := NewDesign()
	if err := d.Configure(fj, designConfig()); err != nil {
		t.Fatal(err)
	}
	d.mode = ModePlantEstimation
	if err := d.threadInit(); err != nil {
		t.Fatal(err)
	}

	var sumTau, sumK float64
	const n = 250
	for i := 0; i < n; i++ {
		fj.pos += 0.05 // some motion for the filter to chew on
		d.tick()
		tau, k := d.plant.Parameters()
		sumTau += tau
		sumK += k
	}
	if math.Abs(d.meanParams[0]-sumTau/n) > 1e-9*math.Abs(sumTau/n) {
		t.Errorf("tau mean: expected %g got %g", sumTau/n, d.meanParams[0])
	}
	if math.Abs(d.meanParams[1]-sumK/n) > 1e-9*math.Abs(sumK/n) {
		t.Errorf("K mean: expected %g got %g", sumK/n, d.meanParams[1])
	}
}

func TestValidationFramesAreZeroPadded(t *testing.T) {
	fj := &fakeJoint{pid: joint.PID{Kp: 10}, min: 0, max: 100}
	d := NewDesign()
	if err := d.Configure(fj, designConfig()); err != nil {
		t.Fatal(err)
	}
	frames := d.Port().Subscribe(64)

	d.mode = ModePlantValidation
	A, B, H := discretize(0.3, 1.5, d.ts)
	d.predictor = kalman.New(A, B, H, kalman.Eye(2, 1), kalman.Eye(1, 1))
	d.validateP0 = 1e5
	d.measureUpdateTicks = 100
	if err := d.threadInit(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		d.tick()
	}
	for i := 0; i < 10; i++ {
		f := <-frames
		for slot := 4; slot < len(f); slot++ {
			if f[slot] != 0 {
				t.Fatalf("validation frame slot %d not zero-padded: %v", slot, f)
			}
		}
	}
}

func TestResultsIdempotentWithoutTick(t *testing.T) {
	fj := &fakeJoint{pid: joint.PID{Kp: 10}, min: 0, max: 100}
	d := NewDesign()
	if err := d.Configure(fj, designConfig()); err != nil {
		t.Fatal(err)
	}
	d.mode = ModePlantEstimation
	if err := d.threadInit(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		d.tick()
	}
	a, err := d.Results()
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Results()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("consecutive Results differ: %v vs %v", a, b)
	}
}

func TestCompletionOrdering(t *testing.T) {
	sim := joint.NewSim(joint.SimConfig{
		Tau: 0.3, K: 1.5, Min: 0, Max: 100,
		PID: joint.PID{Kp: 10, MaxInt: 800, MaxOut: 800},
	})
	d := NewDesign()
	if err := d.Configure(sim, designConfig()); err != nil {
		t.Fatal(err)
	}
	if err := d.StartPlantEstimation(0.1); err != nil {
		t.Fatal(err)
	}
	if err := d.StartPlantEstimation(0.1); err == nil {
		t.Error("expected an error starting a stage while one runs")
	}
	if !d.WaitUntilDone() {
		t.Fatal("WaitUntilDone returned before completion")
	}
	if !d.IsDone() {
		t.Error("IsDone must be true after WaitUntilDone")
	}
	res, err := d.Results()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"tau", "K", "tau_mean", "K_mean"} {
		if _, ok := res[key]; !ok {
			t.Errorf("results missing %q", key)
		}
	}
	// the release path must have restored the joint before completion
	if sim.OpenLoop() {
		t.Error("joint left in open-loop mode after release")
	}
	if off := sim.Offset(); off != 0 {
		t.Errorf("offset not zeroed on release: %g", off)
	}
}

func TestRejectsSubMillisecondPeriod(t *testing.T) {
	fj := &fakeJoint{pid: joint.PID{Kp: 10}, min: 0, max: 100}
	d := NewDesign()
	cfg := designConfig()
	cfg.Plant.Ts = 0.0004
	if err := d.Configure(fj, cfg); err == nil {
		t.Error("expected an error for a sub-millisecond sample period")
	}
}

func TestStartValidationRequiresPlant(t *testing.T) {
	fj := &fakeJoint{pid: joint.PID{Kp: 10}, min: 0, max: 100}
	d := NewDesign()
	if err := d.Configure(fj, designConfig()); err != nil {
		t.Fatal(err)
	}
	if err := d.StartPlantValidation(ValidationOptions{K: 1.5}); err == nil {
		t.Error("expected an error without tau")
	}
	if err := d.StartPlantValidation(ValidationOptions{Tau: 0.3}); err == nil {
		t.Error("expected an error without K")
	}
}

func TestControllerValidationRejectsUnknownRef(t *testing.T) {
	fj := &fakeJoint{pid: joint.PID{Kp: 10}, min: 0, max: 100}
	d := NewDesign()
	if err := d.Configure(fj, designConfig()); err != nil {
		t.Fatal(err)
	}
	err := d.StartControllerValidation(ControllerValidationOptions{RefType: "triangle"})
	if err == nil {
		t.Error("expected an error for an unknown ref_type")
		d.Stop()
	}
}
