// Package pidctrl provides the discrete-time control blocks used by the
// identification loops: a resettable trapezoidal integrator and a
// parallel-form PID with derivative filtering and anti-windup.
package pidctrl

import "github.com/nidaahmed301/icub-main/util"

// Integrator is a trapezoidal integrator over a float64 vector.
type Integrator struct {
	ts   float64
	y    []float64
	xOld []float64
}

// NewIntegrator returns an integrator with sample period ts and initial
// output y0.  The dimension of y0 fixes the dimension of the integrator.
func NewIntegrator(ts float64, y0 []float64) *Integrator {
	i := &Integrator{ts: ts}
	i.Reset(y0)
	return i
}

// SetTs changes the sample period.
func (i *Integrator) SetTs(ts float64) { i.ts = ts }

// Reset sets the output to y0 and clears the input history.
func (i *Integrator) Reset(y0 []float64) {
	i.y = append(i.y[:0], y0...)
	if i.xOld == nil || len(i.xOld) != len(y0) {
		i.xOld = make([]float64, len(y0))
	}
	for j := range i.xOld {
		i.xOld[j] = 0
	}
}

// Integrate accumulates one sample of x and returns the current output.
// The returned slice aliases internal state; copy it to retain it.
func (i *Integrator) Integrate(x []float64) []float64 {
	for j := range i.y {
		i.y[j] += 0.5 * i.ts * (x[j] + i.xOld[j])
		i.xOld[j] = x[j]
	}
	return i.y
}

// Output returns the current output without integrating.
func (i *Integrator) Output() []float64 { return i.y }

// PIDConfig parameterizes a ParallelPID.
type PIDConfig struct {
	// Ts is the sample period, seconds
	Ts float64

	// Kp, Ki, Kd are the parallel gains
	Kp, Ki, Kd float64

	// Wp, Wi, Wd weight the set-point in each branch; 1 is the usual value
	Wp, Wi, Wd float64

	// N is the derivative filter ratio; the filter time constant is
	// Kd/(Kp N), or Kd/N when Kp is zero
	N float64

	// Tt is the anti-windup back-calculation time constant
	Tt float64

	// OutMin, OutMax saturate the output
	OutMin, OutMax float64
}

// ParallelPID is a discrete parallel-form PID controller.  The derivative
// acts on the weighted error through a first-order filter and the integral
// unwinds through back-calculation when the output saturates.
type ParallelPID struct {
	cfg PIDConfig

	uI, uD float64
	eOld   float64
}

// NewParallel returns a controller with zeroed state.
func NewParallel(cfg PIDConfig) *ParallelPID {
	return &ParallelPID{cfg: cfg}
}

// Reset presets the integral state so that the next output starts from u0.
func (p *ParallelPID) Reset(u0 float64) {
	p.uI = u0
	p.uD = 0
	p.eOld = 0
}

// Compute runs one controller step for the given set-point and feedback
// and returns the saturated output.
func (p *ParallelPID) Compute(ref, fb float64) float64 {
	c := p.cfg

	uP := c.Kp * (c.Wp*ref - fb)

	eD := c.Wd*ref - fb
	if c.Kd != 0 {
		tf := c.Kd / c.N
		if c.Kp != 0 {
			tf = c.Kd / (c.Kp * c.N)
		}
		a := tf / (tf + c.Ts)
		p.uD = a*p.uD + c.Kd/(tf+c.Ts)*(eD-p.eOld)
	}
	p.eOld = eD

	u := uP + p.uI + p.uD
	sat := util.Clamp(u, c.OutMin, c.OutMax)

	// integrate the error plus the back-calculated windup correction
	eI := c.Wi*ref - fb
	du := c.Ki * eI
	if c.Tt > 0 {
		du += (sat - u) / c.Tt
	}
	p.uI += c.Ts * du

	return sat
}
