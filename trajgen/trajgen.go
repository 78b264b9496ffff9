// Package trajgen generates minimum-jerk reference trajectories between
// set-points.  The profile is the classic fifth-order polynomial with zero
// boundary velocity and acceleration, re-planned from the current reference
// whenever the target changes.
package trajgen

// MinJerk is a point-to-point minimum-jerk generator.  Construct with New.
type MinJerk struct {
	ts, dur float64

	target   float64
	p0       float64
	t        float64
	planned  bool
	pos, vel float64
	acc      float64
}

// New returns a generator stepping every ts seconds with a point-to-point
// execution time of dur seconds.
func New(ts, dur float64) *MinJerk {
	return &MinJerk{ts: ts, dur: dur}
}

// SetTs changes the sample period.
func (g *MinJerk) SetTs(ts float64) { g.ts = ts }

// SetDuration changes the point-to-point execution time.
func (g *MinJerk) SetDuration(dur float64) { g.dur = dur }

// Duration returns the point-to-point execution time.
func (g *MinJerk) Duration() float64 { return g.dur }

// Init places the reference at pos with zero velocity and acceleration.
func (g *MinJerk) Init(pos float64) {
	g.pos = pos
	g.vel = 0
	g.acc = 0
	g.target = pos
	g.p0 = pos
	g.t = 0
	g.planned = false
}

// Step advances the reference one sample period toward target.  A change of
// target re-plans the profile from the current reference position.
func (g *MinJerk) Step(target float64) {
	if !g.planned || target != g.target {
		g.target = target
		g.p0 = g.pos
		g.t = 0
		g.planned = true
	}

	g.t += g.ts
	tau := g.t / g.dur
	if tau >= 1 {
		g.pos = g.target
		g.vel = 0
		g.acc = 0
		return
	}

	d := g.target - g.p0
	t2 := tau * tau
	t3 := t2 * tau
	t4 := t3 * tau
	t5 := t4 * tau
	g.pos = g.p0 + d*(10*t3-15*t4+6*t5)
	g.vel = d * (30*t2 - 60*t3 + 30*t4) / g.dur
	g.acc = d * (60*tau - 180*t2 + 120*t3) / (g.dur * g.dur)
}

// Pos returns the current reference position.
func (g *MinJerk) Pos() float64 { return g.pos }

// Vel returns the current reference velocity.
func (g *MinJerk) Vel() float64 { return g.vel }

// Acc returns the current reference acceleration.
func (g *MinJerk) Acc() float64 { return g.acc }
