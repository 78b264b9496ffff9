package tuning

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/nidaahmed301/icub-main/deriv"
	"github.com/nidaahmed301/icub-main/joint"
	"github.com/nidaahmed301/icub-main/pidctrl"
	"github.com/nidaahmed301/icub-main/trajgen"
	"github.com/nidaahmed301/icub-main/util"
)

// ErrNotConfigured is generated when a stage is started or queried before
// a successful Configure.
var ErrNotConfigured = errors.New("tuning: not configured")

// ErrBusy is generated when a stage is started while one is running.
var ErrBusy = errors.New("tuning: a stage is already running")

// StictionConfig parameterizes a StictionEstimator.
type StictionConfig struct {
	// Joint is the index of the joint on the driver
	Joint int

	// Ts is the sample period in seconds; it quantizes to integer
	// milliseconds
	Ts float64

	// T is the execution time of each reference sweep, seconds
	T float64

	// Kp, Ki, Kd are the gains of the inner position loop
	Kp, Ki, Kd float64

	// VelThres gates adaptation: the error integral only accumulates
	// while |velocity| is below it
	VelThres float64

	// ErrThres is the mean-error magnitude below which a direction is
	// declared identified
	ErrThres float64

	// Gamma is the adaptation gain per direction (rising, falling)
	Gamma [2]float64

	// Stiction seeds the feed-forward offsets (rising, falling)
	Stiction [2]float64
}

// DefaultStictionConfig returns the customary starting point.
func DefaultStictionConfig() StictionConfig {
	return StictionConfig{
		Ts:       0.01,
		T:        2.0,
		Kp:       10,
		Ki:       250,
		Kd:       15,
		VelThres: 5.0,
		ErrThres: 1.0,
		Gamma:    [2]float64{0.001, 0.001},
	}
}

type motionDir int

const (
	rising motionDir = iota
	falling
)

// StictionEstimator identifies the two directional friction offsets of a
// joint.  It sweeps a minimum-jerk reference between the safety-inset
// travel limits with an inner PID around it, integrates the position error
// while the joint crawls below the velocity threshold, and gradient-steps
// the feed-forward offset of the active direction on each half-cycle until
// both directions settle below the error threshold.
type StictionEstimator struct {
	mu sync.Mutex

	ctl        joint.Controller
	cfg        StictionConfig
	period     time.Duration
	ts         float64
	configured bool

	running bool
	stop    chan struct{}
	doneEv  *event

	velEst, accEst *deriv.Estimator
	traj           *trajgen.MinJerk
	pid            *pidctrl.ParallelPID
	intErr         *pidctrl.Integrator

	xMin, xMax float64
	dposdV     float64

	stiction [2]float64
	done     [2]float64

	xPos, xVel, xAcc float64
	tg, xdPos        float64
	state            motionDir
	adapt, adaptOld  bool

	t, t0 float64 // stage-local timebase, advanced Ts per tick

	failed bool // a driver error ends the stage

	info [3]float64 // voltage, position, reference
}

// Configure binds the estimator to a driver and validates the options.
// The estimator is reusable: Configure again to re-bind.
func (e *StictionEstimator) Configure(ctl joint.Controller, cfg StictionConfig) error {
	if ctl == nil {
		return errors.New("tuning: nil joint controller")
	}
	period := util.MillisecondPeriod(cfg.Ts)
	if period <= 0 {
		return ErrBadPeriod
	}
	if cfg.T <= 0 {
		return errors.New("tuning: sweep time T must be positive")
	}
	cfg.VelThres = math.Abs(cfg.VelThres)
	cfg.ErrThres = math.Abs(cfg.ErrThres)

	// probe the driver views now so a missing capability fails the
	// configure, not the stage
	if _, err := ctl.PID(cfg.Joint); err != nil {
		return err
	}
	if _, _, err := ctl.Limits(cfg.Joint); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrBusy
	}
	e.ctl = ctl
	e.cfg = cfg
	e.period = period
	e.ts = period.Seconds()
	e.stiction = cfg.Stiction
	if e.doneEv == nil {
		e.doneEv = newEvent()
	}
	e.configured = true
	return nil
}

// Start launches the periodic estimation task.
func (e *StictionEstimator) Start() error {
	e.mu.Lock()
	if !e.configured {
		e.mu.Unlock()
		return ErrNotConfigured
	}
	if e.running {
		e.mu.Unlock()
		return ErrBusy
	}
	if err := e.threadInit(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.running = true
	e.stop = make(chan struct{})
	e.doneEv.reset()
	stop := e.stop
	e.mu.Unlock()

	go e.loop(stop)
	return nil
}

// Stop asks the task to stop and returns without waiting.
func (e *StictionEstimator) Stop() {
	e.mu.Lock()
	if e.running {
		select {
		case <-e.stop:
		default:
			close(e.stop)
		}
	}
	e.mu.Unlock()
}

func (e *StictionEstimator) loop(stop chan struct{}) {
	tick := time.NewTicker(e.period)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			e.finish()
			return
		case <-tick.C:
			e.mu.Lock()
			e.tick()
			halt := e.failed || e.done[0]*e.done[1] != 0
			e.mu.Unlock()
			if halt {
				e.finish()
				return
			}
		}
	}
}

func (e *StictionEstimator) finish() {
	e.mu.Lock()
	e.threadRelease()
	e.running = false
	e.mu.Unlock()
	e.doneEv.signal()
}

// threadInit captures driver state and primes the loop blocks.
// Called with the mutex held.
func (e *StictionEstimator) threadInit() error {
	min, max, err := e.ctl.Limits(e.cfg.Joint)
	if err != nil {
		return err
	}
	e.xMin, e.xMax = joint.SafeRange(min, max)

	if err := e.ctl.SetOpenLoopMode(e.cfg.Joint); err != nil {
		return err
	}

	enc, err := e.ctl.Encoder(e.cfg.Joint)
	if err != nil {
		return err
	}
	e.xPos = enc
	e.xVel = 0
	e.xAcc = 0

	e.tg = e.xMin
	e.xdPos = e.xPos
	if e.tg-e.xPos > 0 {
		e.state = rising
	} else {
		e.state = falling
	}
	e.adapt = false
	e.adaptOld = false

	e.velEst = deriv.NewVelocity(32, 4.0)
	e.accEst = deriv.NewAccel(32, 4.0)

	e.traj = trajgen.New(e.ts, e.cfg.T)
	e.traj.Init(e.xPos)

	pidInfo, err := e.ctl.PID(e.cfg.Joint)
	if err != nil {
		return err
	}
	e.dposdV = joint.Polarity(pidInfo)

	e.pid = pidctrl.NewParallel(pidctrl.PIDConfig{
		Ts: e.ts,
		Kp: e.cfg.Kp, Ki: e.cfg.Ki, Kd: e.cfg.Kd,
		Wp: 1, Wi: 1, Wd: 1,
		N:      10,
		Tt:     1,
		OutMin: -pidInfo.MaxInt,
		OutMax: pidInfo.MaxInt,
	})
	e.pid.Reset(0)

	e.intErr = pidctrl.NewIntegrator(e.ts, e.stiction[:])

	e.done = [2]float64{}
	e.failed = false
	e.t = 0
	e.t0 = 0
	return nil
}

// tick runs one estimation step.  Called with the mutex held.
func (e *StictionEstimator) tick() {
	e.t += e.ts

	enc, err := e.ctl.Encoder(e.cfg.Joint)
	if err != nil {
		// results stay at their last-known values
		e.failed = true
		return
	}
	e.xPos = enc
	e.xVel = e.velEst.Estimate(e.t, e.xPos)
	e.xAcc = e.accEst.Estimate(e.t, e.xPos)

	// captured before any flip resets t0; a falling edge coinciding with
	// a flip still averages over the elapsed half-cycle
	t := e.t - e.t0
	if t > 2*e.traj.Duration() {
		if e.tg == e.xMin {
			e.tg = e.xMax
		} else {
			e.tg = e.xMin
		}
		if e.tg-e.xPos > 0 {
			e.state = rising
		} else {
			e.state = falling
		}
		e.adapt = math.Abs(e.xVel) < e.cfg.VelThres
		e.t0 = e.t
	}

	e.traj.Step(e.tg)
	e.xdPos = e.traj.Pos()

	pidOut := e.pid.Compute(e.xdPos, e.xPos)
	ePos := e.xdPos - e.xPos
	fw := e.stiction[0]
	if e.state == falling {
		fw = e.stiction[1]
	}
	u := fw + pidOut

	var gate [2]float64
	if math.Abs(e.xVel) < e.cfg.VelThres && e.adapt {
		gate[e.state] = 1
	} else {
		e.adapt = false
	}

	cum := e.intErr.Integrate([]float64{ePos * gate[0], ePos * gate[1]})

	// adaptation fires on the falling edge of the adapt latch
	if !e.adapt && e.adaptOld {
		eMean := [2]float64{cum[0] / t, cum[1] / t}
		if math.Hypot(eMean[0], eMean[1]) > e.cfg.ErrThres {
			e.stiction[0] += e.cfg.Gamma[0] * eMean[0]
			e.stiction[1] += e.cfg.Gamma[1] * eMean[1]
			e.done[e.state] = 0
		} else {
			e.done[e.state] = 1
		}
		e.intErr.Reset([]float64{0, 0})
	}

	e.ctl.SetOffset(e.cfg.Joint, e.dposdV*u)
	e.adaptOld = e.adapt

	e.info = [3]float64{u, e.xPos, e.xdPos}
}

// threadRelease restores the driver.  Called with the mutex held.
func (e *StictionEstimator) threadRelease() {
	e.ctl.SetOffset(e.cfg.Joint, 0)
	e.ctl.SetPositionMode(e.cfg.Joint)
}

// IsDone reports whether both directions have settled.
func (e *StictionEstimator) IsDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.configured {
		return false
	}
	return e.done[0]*e.done[1] != 0
}

// WaitUntilDone blocks until the stage has released, then reports IsDone.
func (e *StictionEstimator) WaitUntilDone() bool {
	e.mu.Lock()
	configured := e.configured
	ev := e.doneEv
	e.mu.Unlock()
	if !configured {
		return false
	}
	ev.wait()
	return e.IsDone()
}

// Results returns the identified (rising, falling) offsets.
func (e *StictionEstimator) Results() ([2]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.configured {
		return [2]float64{}, ErrNotConfigured
	}
	return e.stiction, nil
}

// Info returns the most recent (voltage, position, reference) sample.
func (e *StictionEstimator) Info() (voltage, position, reference float64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.configured {
		return 0, 0, 0, ErrNotConfigured
	}
	return e.info[0], e.info[1], e.info[2], nil
}

