package joint

import (
	"math"
	"math/rand"
	"sync"

	"github.com/nidaahmed301/icub-main/util"
)

// SimConfig holds the physical parameters of a simulated joint.
type SimConfig struct {
	// Tau is the mechanical time constant, seconds
	Tau float64

	// K is the DC gain from drive volts to position rate
	K float64

	// StictionUp and StictionDown are the true directional friction
	// offsets, in volts.  StictionDown is typically negative.
	StictionUp, StictionDown float64

	// Min and Max are the hardware travel limits, encoder units
	Min, Max float64

	// PID is the parameter block reported by the simulated board
	PID PID

	// Noise is the standard deviation of encoder noise, encoder units
	Noise float64

	// Seed seeds the encoder noise generator; zero uses a fixed seed
	Seed int64
}

// Sim is an in-memory joint obeying a first-order-plus-integrator model
// with directional Coulomb friction.  It implements Controller and is the
// test double for the identification routines; Step advances the physics.
type Sim struct {
	sync.Mutex

	cfg SimConfig
	rng *rand.Rand

	pos, vel float64
	openLoop bool
	offset   float64 // volts added to the loop output
	ref      float64 // position loop set-point
	out      float64 // last loop output, volts
	refSpeed float64
	refAcc   float64
	target   float64
	moving   bool
}

// NewSim returns a simulated joint resting at the middle of its range.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &Sim{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		pos: (cfg.Min + cfg.Max) / 2,
		ref: (cfg.Min + cfg.Max) / 2,
	}
}

// Step advances the plant by dt seconds.
func (s *Sim) Step(dt float64) {
	s.Lock()
	defer s.Unlock()

	volts := s.offset
	if !s.openLoop {
		// the board's own loop; a proportional law is enough for the
		// closed-loop validation stages
		tgt := s.ref
		if s.moving {
			// interpolate toward the move target at the ref speed
			step := s.refSpeed * dt
			if math.Abs(s.target-tgt) <= step {
				tgt = s.target
				s.moving = false
			} else if s.target > tgt {
				tgt += step
			} else {
				tgt -= step
			}
			s.ref = tgt
		}
		s.out = s.cfg.PID.Kp * (tgt - s.pos)
		if s.cfg.PID.MaxOut > 0 {
			s.out = util.Clamp(s.out, -s.cfg.PID.MaxOut, s.cfg.PID.MaxOut)
		}
		volts = s.out + s.offset
	}

	// drive in the direction of increasing position
	d := Polarity(s.cfg.PID) * volts

	// Coulomb friction opposing the commanded direction of motion
	dir := s.vel
	if math.Abs(dir) < 1e-9 {
		dir = d
	}
	var f float64
	if dir > 0 {
		f = s.cfg.StictionUp
	} else if dir < 0 {
		f = s.cfg.StictionDown
	}

	acc := (-s.vel + s.cfg.K*(d-f)) / s.cfg.Tau
	s.vel += acc * dt
	s.pos += s.vel * dt

	if s.pos < s.cfg.Min {
		s.pos = s.cfg.Min
		s.vel = 0
	}
	if s.pos > s.cfg.Max {
		s.pos = s.cfg.Max
		s.vel = 0
	}
}

// OpenLoop reports whether the joint is in open-loop mode
func (s *Sim) OpenLoop() bool {
	s.Lock()
	defer s.Unlock()
	return s.openLoop
}

// Offset returns the live PID offset voltage
func (s *Sim) Offset() float64 {
	s.Lock()
	defer s.Unlock()
	return s.offset
}

// Position returns the true (noiseless) position
func (s *Sim) Position() float64 {
	s.Lock()
	defer s.Unlock()
	return s.pos
}

// Velocity returns the true velocity
func (s *Sim) Velocity() float64 {
	s.Lock()
	defer s.Unlock()
	return s.vel
}

// Encoder returns the position plus encoder noise
func (s *Sim) Encoder(joint int) (float64, error) {
	s.Lock()
	defer s.Unlock()
	return s.pos + s.cfg.Noise*s.rng.NormFloat64(), nil
}

// Limits returns the hardware travel range
func (s *Sim) Limits(joint int) (float64, float64, error) {
	return s.cfg.Min, s.cfg.Max, nil
}

// PID returns the board parameter block
func (s *Sim) PID(joint int) (PID, error) {
	s.Lock()
	defer s.Unlock()
	return s.cfg.PID, nil
}

// SetPID overwrites the board parameter block
func (s *Sim) SetPID(joint int, p PID) error {
	s.Lock()
	defer s.Unlock()
	s.cfg.PID = p
	return nil
}

// SetOffset sets the constant voltage added to the loop output
func (s *Sim) SetOffset(joint int, volts float64) error {
	s.Lock()
	defer s.Unlock()
	s.offset = volts
	return nil
}

// SetReference sets the loop set-point
func (s *Sim) SetReference(joint int, pos float64) error {
	s.Lock()
	defer s.Unlock()
	s.ref = pos
	s.moving = false
	return nil
}

// Reference returns the loop set-point
func (s *Sim) Reference(joint int) (float64, error) {
	s.Lock()
	defer s.Unlock()
	return s.ref, nil
}

// Output returns the last loop output voltage
func (s *Sim) Output(joint int) (float64, error) {
	s.Lock()
	defer s.Unlock()
	return s.out, nil
}

// SetOpenLoopMode routes the offset voltage directly to the motor
func (s *Sim) SetOpenLoopMode(joint int) error {
	s.Lock()
	defer s.Unlock()
	s.openLoop = true
	s.out = 0
	return nil
}

// SetPositionMode restores the position loop, holding the current position
func (s *Sim) SetPositionMode(joint int) error {
	s.Lock()
	defer s.Unlock()
	s.openLoop = false
	s.ref = s.pos
	return nil
}

// PositionMove starts an interpolated move to target
func (s *Sim) PositionMove(joint int, target float64) error {
	s.Lock()
	defer s.Unlock()
	s.target = target
	s.moving = true
	return nil
}

// SetRefSpeed sets the interpolator cruise speed
func (s *Sim) SetRefSpeed(joint int, speed float64) error {
	s.Lock()
	defer s.Unlock()
	s.refSpeed = math.Abs(speed)
	return nil
}

// SetRefAcceleration sets the interpolator acceleration
func (s *Sim) SetRefAcceleration(joint int, acc float64) error {
	s.Lock()
	defer s.Unlock()
	s.refAcc = math.Abs(acc)
	return nil
}

// Stop aborts a move in progress
func (s *Sim) Stop(joint int) error {
	s.Lock()
	defer s.Unlock()
	s.moving = false
	s.ref = s.pos
	return nil
}
