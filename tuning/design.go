/*Package tuning identifies the voltage-to-position dynamics of a single
joint on line and synthesizes position-loop gains from the result.

The work is sequenced by Design, a periodic task with four modes: plant
estimation (EKF over the joint under bang-bang excitation), plant
validation (a linear Kalman predictor rolled forward open loop with sparse
corrections), stiction estimation (delegated to StictionEstimator), and
controller validation (the synthesized gains driving alternating
set-points).  One mode runs at a time; queries snapshot state under the
same mutex the tick holds, and every stage signals a completion event when
its release path has run.
*/
package tuning

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nidaahmed301/icub-main/joint"
	"github.com/nidaahmed301/icub-main/kalman"
	"github.com/nidaahmed301/icub-main/telemetry"
	"github.com/nidaahmed301/icub-main/util"
	"gonum.org/v1/gonum/mat"
)

// ErrMissingParam is generated when a start operation lacks a required
// option.
var ErrMissingParam = errors.New("tuning: missing required option")

// Mode enumerates the orchestrator's stages.
type Mode int

// The modes of a Design.
const (
	ModeNone Mode = iota
	ModePlantEstimation
	ModePlantValidation
	ModeStictionEstimation
	ModeControllerValidation
)

func (m Mode) String() string {
	switch m {
	case ModePlantEstimation:
		return "plant_estimation"
	case ModePlantValidation:
		return "plant_validation"
	case ModeStictionEstimation:
		return "stiction_estimation"
	case ModeControllerValidation:
		return "controller_validation"
	default:
		return "none"
	}
}

// PlantConfig parameterizes the plant estimation stage.
type PlantConfig struct {
	// Ts is the sample period, seconds; quantizes to integer milliseconds
	Ts float64

	// Q and R are the scalar process and measurement noise intensities
	Q, R float64

	// P0 scales the prior covariance
	P0 float64

	// Tau and K seed the parameter estimates
	Tau, K float64

	// MaxPWM is the bang-bang excitation amplitude, volts; the absolute
	// value is used
	MaxPWM float64
}

// DefaultPlantConfig returns the customary starting point.
func DefaultPlantConfig() PlantConfig {
	return PlantConfig{Ts: 0.01, Q: 1, R: 1, P0: 1e5, Tau: 1, K: 1, MaxPWM: 800}
}

// Config parameterizes a Design.
type Config struct {
	// Joint is the index of the joint on the driver
	Joint int

	// Plant configures the estimation stage
	Plant PlantConfig

	// Stiction, when non-nil, configures the stiction stage.  Joint and
	// Ts are forced equal to the general values.
	Stiction *StictionConfig
}

// ValidationOptions parameterizes StartPlantValidation.  Tau and K are
// required; zero Q, R, P0 or MeasureUpdateTicks select the defaults
// (1, 1, the configured P0, and 100 respectively).
type ValidationOptions struct {
	Tau, K             float64
	MaxTime            float64
	MeasureUpdateTicks int
	Q, R, P0           float64
}

// ControllerValidationOptions parameterizes StartControllerValidation.
type ControllerValidationOptions struct {
	// Kp is the candidate proportional gain; its sign is corrected to
	// match the driver polarity before writing
	Kp float64

	// Stiction, when non-nil, is written into the PID block as the
	// (rising, falling) feed-forward values
	Stiction *[2]float64

	// RefType selects the reference: "square" (default) or "min-jerk"
	RefType string

	// RefPeriod is the set-point alternation period, seconds (default 2)
	RefPeriod float64

	MaxTime float64
}

// Design sequences the identification stages over one joint.
type Design struct {
	mu sync.Mutex

	ctl        joint.Controller
	cfg        Config
	configured bool

	period time.Duration
	ts     float64

	port      *telemetry.Port
	plant     *MotorEstimator
	stiction  StictionEstimator
	predictor *kalman.Filter
	doneEv    *event

	running  bool
	stopping bool
	stop     chan struct{}

	mode       Mode
	dposdV     float64
	xMin, xMax float64
	x0         [4]float64
	maxPWM     float64

	maxTime float64
	t, t0   float64
	t1      float64

	xTg    float64
	pwmPos bool

	meanParams [2]float64
	meanCnt    int

	measureUpdateTicks int
	measureUpdateCnt   int
	validateP0         float64

	refSquare bool
	refPeriod float64
	pidOld    joint.PID
}

// NewDesign returns an unconfigured Design.
func NewDesign() *Design {
	return &Design{
		plant:  NewMotorEstimator(),
		port:   telemetry.NewPort(),
		doneEv: newEvent(),
	}
}

// Configure binds the orchestrator to a driver and validates the options.
func (d *Design) Configure(ctl joint.Controller, cfg Config) error {
	if ctl == nil {
		return errors.New("tuning: nil joint controller")
	}
	period := util.MillisecondPeriod(cfg.Plant.Ts)
	if period <= 0 {
		return ErrBadPeriod
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrBusy
	}

	pidInfo, err := ctl.PID(cfg.Joint)
	if err != nil {
		return fmt.Errorf("tuning: reading joint PID: %w", err)
	}
	min, max, err := ctl.Limits(cfg.Joint)
	if err != nil {
		return fmt.Errorf("tuning: reading joint limits: %w", err)
	}

	d.ctl = ctl
	d.cfg = cfg
	d.period = period
	d.ts = period.Seconds()
	d.dposdV = joint.Polarity(pidInfo)
	d.xMin, d.xMax = joint.SafeRange(min, max)
	d.maxPWM = math.Abs(cfg.Plant.MaxPWM)

	d.x0 = [4]float64{0, 0, cfg.Plant.Tau, cfg.Plant.K}
	err = d.plant.Init(d.ts, cfg.Plant.Q, cfg.Plant.R, cfg.Plant.P0, d.x0[:])
	if err != nil {
		return err
	}

	if cfg.Stiction != nil {
		sc := *cfg.Stiction
		// enforce the equality between the common properties
		sc.Joint = cfg.Joint
		sc.Ts = cfg.Plant.Ts
		if err := d.stiction.Configure(ctl, sc); err != nil {
			return err
		}
	}

	d.meanParams = [2]float64{}
	d.meanCnt = 0
	d.configured = true
	return nil
}

// Port returns the telemetry port frames are published on.
func (d *Design) Port() *telemetry.Port {
	return d.port
}

// StartPlantEstimation begins identifying (τ, K).  The stage runs until
// maxTime elapses (maxTime <= 0 runs until stopped).
func (d *Design) StartPlantEstimation(maxTime float64) error {
	return d.start(ModePlantEstimation, maxTime, nil)
}

// StartPlantValidation rolls a linear predictor built from the given
// (τ, K) alongside the excited joint.  Corrections from the encoder are
// folded in every MeasureUpdateTicks ticks only, so the telemetry exposes
// the model's open-loop drift.
func (d *Design) StartPlantValidation(opt ValidationOptions) error {
	if opt.Tau == 0 || opt.K == 0 {
		return ErrMissingParam
	}
	return d.start(ModePlantValidation, opt.MaxTime, func() error {
		if opt.MeasureUpdateTicks == 0 {
			opt.MeasureUpdateTicks = 100
		}
		q, r, p0 := opt.Q, opt.R, opt.P0
		if q == 0 {
			q = 1
		}
		if r == 0 {
			r = 1
		}
		if p0 == 0 {
			p0 = d.cfg.Plant.P0
		}

		A, B, H := discretize(opt.Tau, opt.K, d.ts)
		d.predictor = kalman.New(A, B, H, kalman.Eye(2, q), kalman.Eye(1, r))
		d.validateP0 = p0
		d.measureUpdateTicks = opt.MeasureUpdateTicks
		d.measureUpdateCnt = 0
		return nil
	})
}

// StartStictionEstimation begins identifying the directional friction
// offsets.  Requires a Stiction group in the configuration.
func (d *Design) StartStictionEstimation(maxTime float64) error {
	d.mu.Lock()
	ok := d.cfg.Stiction != nil
	d.mu.Unlock()
	if !ok {
		return ErrNotConfigured
	}
	return d.start(ModeStictionEstimation, maxTime, nil)
}

// StartControllerValidation writes the candidate gains into the driver's
// loop and drives the joint between alternating set-points.
func (d *Design) StartControllerValidation(opt ControllerValidationOptions) error {
	switch opt.RefType {
	case "", "square", "min-jerk":
	default:
		return fmt.Errorf("tuning: unknown ref_type %q", opt.RefType)
	}
	return d.start(ModeControllerValidation, opt.MaxTime, func() error {
		pidOld, err := d.ctl.PID(d.cfg.Joint)
		if err != nil {
			return err
		}
		d.pidOld = pidOld
		pidNew := pidOld
		if opt.Kp != 0 {
			// enforce the correct sign of Kp for the driver polarity
			kp := opt.Kp
			if kp*pidOld.Kp < 0 {
				kp = -kp
			}
			pidNew.Kp = kp
		}
		if opt.Stiction != nil {
			pidNew.StictionUp = opt.Stiction[0]
			pidNew.StictionDown = opt.Stiction[1]
		}
		if err := d.ctl.SetPID(d.cfg.Joint, pidNew); err != nil {
			return err
		}
		d.refSquare = opt.RefType == "" || opt.RefType == "square"
		d.refPeriod = opt.RefPeriod
		if d.refPeriod == 0 {
			d.refPeriod = 2
		}
		return nil
	})
}

// start is the common stage launcher: prep runs under the mutex before
// the mode's threadInit.
func (d *Design) start(mode Mode, maxTime float64, prep func() error) error {
	d.mu.Lock()
	if !d.configured {
		d.mu.Unlock()
		return ErrNotConfigured
	}
	if d.running {
		d.mu.Unlock()
		return ErrBusy
	}
	d.mode = mode
	d.maxTime = maxTime
	if prep != nil {
		if err := prep(); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	if err := d.threadInit(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.running = true
	d.stopping = false
	d.stop = make(chan struct{})
	d.doneEv.reset()
	stop := d.stop
	d.mu.Unlock()

	go d.loop(stop)
	return nil
}

// Stop cancels the running stage.  It returns immediately; use
// WaitUntilDone to observe completion.
func (d *Design) Stop() {
	d.mu.Lock()
	if d.running {
		select {
		case <-d.stop:
		default:
			close(d.stop)
		}
	}
	d.mu.Unlock()
}

func (d *Design) loop(stop chan struct{}) {
	tick := time.NewTicker(d.period)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			d.finish()
			return
		case <-tick.C:
			d.mu.Lock()
			d.tick()
			halt := d.stopping
			d.mu.Unlock()
			if halt {
				d.finish()
				return
			}
		}
	}
}

func (d *Design) finish() {
	d.mu.Lock()
	d.threadRelease()
	d.running = false
	d.mu.Unlock()
	d.doneEv.signal()
}

// threadInit prepares the joint and per-mode scratch.  Called with the
// mutex held.
func (d *Design) threadInit() error {
	switch d.mode {
	case ModePlantEstimation:
		if err := d.ctl.SetOpenLoopMode(d.cfg.Joint); err != nil {
			return err
		}
		enc, err := d.ctl.Encoder(d.cfg.Joint)
		if err != nil {
			return err
		}
		d.x0[0] = enc
		if err := d.plant.Reset(d.cfg.Plant.P0, d.x0[:]); err != nil {
			return err
		}
		d.meanParams = [2]float64{}
		d.meanCnt = 0
		d.xTg = d.xMax
		d.pwmPos = true

	case ModePlantValidation:
		if err := d.ctl.SetOpenLoopMode(d.cfg.Joint); err != nil {
			return err
		}
		enc, err := d.ctl.Encoder(d.cfg.Joint)
		if err != nil {
			return err
		}
		if err := d.predictor.Init([]float64{enc, 0}, kalman.Eye(2, d.validateP0)); err != nil {
			return err
		}
		d.measureUpdateCnt = 0
		d.xTg = d.xMax
		d.pwmPos = true

	case ModeStictionEstimation:
		if err := d.stiction.Start(); err != nil {
			return err
		}

	case ModeControllerValidation:
		if err := d.ctl.SetPositionMode(d.cfg.Joint); err != nil {
			return err
		}
		d.xTg = d.xMax
		if d.refSquare {
			if err := d.ctl.SetReference(d.cfg.Joint, d.xTg); err != nil {
				return err
			}
		} else {
			d.ctl.SetRefAcceleration(d.cfg.Joint, 1e9)
			d.ctl.SetRefSpeed(d.cfg.Joint, (d.xMax-d.xMin)/d.refPeriod)
			if err := d.ctl.PositionMove(d.cfg.Joint, d.xTg); err != nil {
				return err
			}
		}
		d.t1 = 0
	}

	d.t = 0
	d.t0 = 0
	return nil
}

// commandJoint runs the bang-bang excitation: full positive drive toward
// the upper inset bound, flipping at each crossing.  The bounds are the
// direction-switch triggers, not safety limits; overshoot past them is
// tolerated.
func (d *Design) commandJoint() (enc, u float64, ok bool) {
	enc, err := d.ctl.Encoder(d.cfg.Joint)
	if err != nil {
		// a dead driver ends the stage; results keep last-known values
		d.stopping = true
		return 0, 0, false
	}
	if d.xTg == d.xMax {
		if enc > d.xMax {
			d.xTg = d.xMin
			d.pwmPos = false
		}
	} else if enc < d.xMin {
		d.xTg = d.xMax
		d.pwmPos = true
	}
	u = d.maxPWM
	if !d.pwmPos {
		u = -d.maxPWM
	}
	d.ctl.SetOffset(d.cfg.Joint, d.dposdV*u)
	return enc, u, true
}

// tick runs one orchestration step.  Called with the mutex held.
func (d *Design) tick() {
	d.t += d.ts
	if d.maxTime > 0 && d.t-d.t0 > d.maxTime {
		d.stopping = true
	}

	switch d.mode {
	case ModePlantEstimation:
		enc, u, ok := d.commandJoint()
		if !ok {
			return
		}
		d.plant.Estimate(u, enc)
		tau, k := d.plant.Parameters()

		// incremental running mean of the parameters
		d.meanCnt++
		d.meanParams[0] += (tau - d.meanParams[0]) / float64(d.meanCnt)
		d.meanParams[1] += (k - d.meanParams[1]) / float64(d.meanCnt)

		if d.port.HasSubscribers() {
			x := d.plant.Internal()
			d.port.Publish(telemetry.Pad(
				u, enc, x[0], x[1], x[2], x[3],
				d.meanParams[0], d.meanParams[1]))
		}

	case ModePlantValidation:
		enc, u, ok := d.commandJoint()
		if !ok {
			return
		}
		d.predictor.Predict([]float64{u})

		// correction only when requested
		if d.measureUpdateTicks > 0 {
			d.measureUpdateCnt++
			if d.measureUpdateCnt >= d.measureUpdateTicks {
				d.predictor.Correct([]float64{enc})
				d.measureUpdateCnt = 0
			}
		}

		if d.port.HasSubscribers() {
			x := d.predictor.State()
			d.port.Publish(telemetry.Pad(u, enc, x[0], x[1]))
		}

	case ModeStictionEstimation:
		if d.stiction.IsDone() {
			d.stopping = true
		}
		if d.port.HasSubscribers() {
			v, p, r, err := d.stiction.Info()
			if err == nil {
				res, _ := d.stiction.Results()
				d.port.Publish(telemetry.Pad(v, p, r, res[0], res[1]))
			}
		}

	case ModeControllerValidation:
		if d.t-d.t1 > d.refPeriod {
			if d.xTg == d.xMax {
				d.xTg = d.xMin
			} else {
				d.xTg = d.xMax
			}
			d.t1 = d.t
			if d.refSquare {
				d.ctl.SetReference(d.cfg.Joint, d.xTg)
			} else {
				d.ctl.PositionMove(d.cfg.Joint, d.xTg)
			}
		}

		if d.port.HasSubscribers() {
			out, _ := d.ctl.Output(d.cfg.Joint)
			enc, _ := d.ctl.Encoder(d.cfg.Joint)
			ref, _ := d.ctl.Reference(d.cfg.Joint)
			d.port.Publish(telemetry.Pad(out, enc, ref))
		}
	}
}

// threadRelease restores the joint.  Called with the mutex held.
func (d *Design) threadRelease() {
	switch d.mode {
	case ModePlantEstimation, ModePlantValidation:
		d.ctl.SetOffset(d.cfg.Joint, 0)
		d.ctl.SetPositionMode(d.cfg.Joint)
	case ModeStictionEstimation:
		d.stiction.Stop()
		d.stiction.WaitUntilDone()
	case ModeControllerValidation:
		d.ctl.Stop(d.cfg.Joint)
	}
}

// IsDone reports whether no stage is running.
func (d *Design) IsDone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.configured {
		return false
	}
	return !d.running
}

// WaitUntilDone blocks until the running stage has released, then reports
// IsDone.
func (d *Design) WaitUntilDone() bool {
	d.mu.Lock()
	configured := d.configured
	ev := d.doneEv
	d.mu.Unlock()
	if !configured {
		return false
	}
	ev.wait()
	return d.IsDone()
}

// Mode returns the active (or most recent) mode.
func (d *Design) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Results returns the mode-keyed result set of the active (or most
// recent) stage.  For plant estimation and plant validation, consecutive
// calls without an intervening tick return identical content.  Stiction
// results follow the stiction estimator's own ticks, and controller
// validation results are read from the driver at call time, so two calls
// in a row can differ in those modes.
func (d *Design) Results() (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.configured {
		return nil, ErrNotConfigured
	}

	results := map[string]interface{}{}
	switch d.mode {
	case ModePlantEstimation:
		tau, k := d.plant.Parameters()
		results["tau"] = tau
		results["K"] = k
		results["tau_mean"] = d.meanParams[0]
		results["K_mean"] = d.meanParams[1]

	case ModePlantValidation:
		x := d.predictor.State()
		results["position"] = x[0]
		results["velocity"] = x[1]

	case ModeStictionEstimation:
		values, err := d.stiction.Results()
		if err != nil {
			return nil, err
		}
		results["stiction"] = fmt.Sprintf("( %g %g )", values[0], values[1])

	case ModeControllerValidation:
		out, _ := d.ctl.Output(d.cfg.Joint)
		enc, _ := d.ctl.Encoder(d.cfg.Joint)
		ref, _ := d.ctl.Reference(d.cfg.Joint)
		results["voltage"] = out
		results["position"] = enc
		results["reference"] = ref
	}
	return results, nil
}

// discretize returns the 2-state (p, v) discrete model of the plant
// p̈ + ṗ/τ = K u/τ over sample period ts.
func discretize(tau, k, ts float64) (A, B, H *mat.Dense) {
	a := 1 / tau
	b := k / tau
	exp := math.Exp(-ts * a)
	exp1 := 1 - exp

	A = mat.NewDense(2, 2, []float64{
		1, exp1 / a,
		0, exp,
	})
	B = mat.NewDense(2, 1, []float64{
		b * (a*ts - exp1) / (a * a),
		b * exp1 / a,
	})
	H = mat.NewDense(1, 2, []float64{1, 0})
	return A, B, H
}
