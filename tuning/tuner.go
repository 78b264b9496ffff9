package tuning

import (
	"errors"
	"math"
)

// ErrUnknownType is generated when a tune request names a controller type
// other than P or PD.
var ErrUnknownType = errors.New("tuning: controller type must be P or PD")

// TuneOptions parameterizes TuneController.  Tau, K and Type are
// required.  For type P at least one of FCut or Zeta must be positive, and
// FCut is used when both are; for type PD both are optional (FCut defaults
// to 4π Hz and Zeta to 1).
type TuneOptions struct {
	Tau, K float64
	Type   string

	// FCut is the desired cutoff frequency, Hz
	FCut float64

	// Zeta is the desired damping ratio
	Zeta float64
}

// TuneResult holds the synthesized compensator.
type TuneResult struct {
	Kp, Kd float64

	// TauD is the derivative time constant (zero for type P)
	TauD float64

	// FCut and Zeta echo the realized design point
	FCut, Zeta float64
}

// TuneController synthesizes P or PD gains from an identified (τ, K)
// plant by pole placement on the closed position loop.
func TuneController(opt TuneOptions) (TuneResult, error) {
	if opt.Tau == 0 || opt.K == 0 || opt.Type == "" {
		return TuneResult{}, ErrMissingParam
	}

	var omega, zeta, kp, kd, tauD float64
	switch opt.Type {
	case "P", "p":
		switch {
		case opt.FCut > 0:
			omega = 2 * math.Pi * opt.FCut
			zeta = 1 / (2 * opt.Tau * omega)
		case opt.Zeta > 0:
			zeta = opt.Zeta
			omega = 1 / (2 * opt.Tau * zeta)
		default:
			return TuneResult{}, ErrMissingParam
		}
		kp = omega * omega * opt.Tau / opt.K
		kd = 0
		tauD = 0

	case "PD", "pd":
		fcut := opt.FCut
		if fcut <= 0 {
			fcut = 2 * math.Pi * 2
		}
		omega = 2 * math.Pi * fcut
		zeta = opt.Zeta
		if zeta <= 0 {
			zeta = 1
		}
		// lift zeta to keep the derivative branch realizable
		zeta = math.Max(zeta, 1/(2*opt.Tau*omega))

		kp = omega / (2 * zeta * opt.K)
		tauD = 1 / (2 * zeta * omega)
		kd = (opt.Tau/tauD - 1) / (4 * zeta * zeta * opt.K)

	default:
		return TuneResult{}, ErrUnknownType
	}

	return TuneResult{
		Kp:   kp,
		Kd:   kd,
		TauD: tauD,
		FCut: omega / (2 * math.Pi),
		Zeta: zeta,
	}, nil
}
