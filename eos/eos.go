/*
package eos implements the two-zone polytropic equation of state used for
both stars.

A star is an envelope polytrope, P = K_e rho^(1 + 1/N), wrapped around a core
polytrope, P = K_c rho^(1 + 1/NC). The interface sits at a fixed fraction of
the central enthalpy. Pressure is continuous across the interface and the
density jumps by the ratio of mean molecular weights, MuC/Mu.
*/
package eos

import (
	"fmt"
	"math"
)

// Shape holds the parameters of a star's equation of state which do not
// change over the course of an SCF run.
type Shape struct {
	N, NC   float64 // Envelope and core polytropic indices.
	Mu, MuC float64 // Envelope and core mean molecular weights.

	// CoreFraction is the ratio of the interface enthalpy to the central
	// enthalpy. A value of 1 gives a single polytrope with no core.
	CoreFraction float64
	// MaxDensity is the density at the centre of the star.
	MaxDensity float64
}

// Check returns an error describing the first invalid parameter in s.
func (s *Shape) Check() error {
	switch {
	case !(s.N > 0):
		return fmt.Errorf("polytropic index N must be positive, but is %g", s.N)
	case !(s.NC > 0):
		return fmt.Errorf("polytropic index NC must be positive, but is %g", s.NC)
	case !(s.Mu > 0):
		return fmt.Errorf("Mu must be positive, but is %g", s.Mu)
	case !(s.MuC > 0):
		return fmt.Errorf("MuC must be positive, but is %g", s.MuC)
	case !(s.CoreFraction > 0 && s.CoreFraction <= 1):
		return fmt.Errorf(
			"CoreFraction must be in range (0, 1], but is %g", s.CoreFraction,
		)
	case !(s.MaxDensity > 0):
		return fmt.Errorf("MaxDensity must be positive, but is %g", s.MaxDensity)
	case s.HasCore() && s.MuC < s.Mu:
		return fmt.Errorf(
			"a star with a core needs MuC >= Mu, but MuC = %g and Mu = %g",
			s.MuC, s.Mu,
		)
	}
	return nil
}

// HasCore returns true if the star has a distinct core.
func (s *Shape) HasCore() bool { return s.CoreFraction < 1 }

// Polytrope is a Shape evaluated at a particular central enthalpy. It is a
// value type and is safe to copy and share between goroutines.
type Polytrope struct {
	Shape
	HMax, DensMin float64

	hCore           float64 // Enthalpy at the core/envelope interface.
	rhoEnv, rhoCore float64 // Densities on either side of the interface.
	aCore           float64 // Enthalpy scale of the core.
	kEnv, kCore     float64
	pCore           float64 // Pressure at the interface.
}

// New returns the Polytrope with the given shape whose central enthalpy is
// hMax.
func New(shape Shape, hMax, densMin float64) (Polytrope, error) {
	if err := shape.Check(); err != nil {
		return Polytrope{}, err
	} else if !(hMax > 0) || math.IsInf(hMax, 0) {
		return Polytrope{}, fmt.Errorf(
			"central enthalpy must be positive and finite, but is %g", hMax,
		)
	} else if densMin < 0 {
		return Polytrope{}, fmt.Errorf(
			"density floor must be non-negative, but is %g", densMin,
		)
	}

	p := Polytrope{Shape: shape, HMax: hMax, DensMin: densMin}

	if !shape.HasCore() {
		p.hCore = hMax
		p.rhoEnv = shape.MaxDensity
		p.rhoCore = shape.MaxDensity
	} else {
		p.hCore = shape.CoreFraction * hMax
		p.aCore = p.hCore * (shape.NC + 1) / (shape.N + 1) * shape.Mu / shape.MuC
		p.rhoCore = shape.MaxDensity /
			math.Pow(1+(hMax-p.hCore)/p.aCore, shape.NC)
		p.rhoEnv = p.rhoCore * shape.Mu / shape.MuC
		p.kCore = p.aCore / ((shape.NC + 1) * math.Pow(p.rhoCore, 1/shape.NC))
	}

	p.kEnv = p.hCore / ((shape.N + 1) * math.Pow(p.rhoEnv, 1/shape.N))
	p.pCore = p.hCore * p.rhoEnv / (shape.N + 1)

	return p, nil
}

// Density returns the density corresponding to the enthalpy h. Cells with
// h <= 0 are outside the star and have zero density. Cells inside the star
// never drop below the density floor.
func (p *Polytrope) Density(h float64) float64 {
	if !(h > 0) {
		return 0
	}

	var rho float64
	if h <= p.hCore {
		rho = p.rhoEnv * math.Pow(h/p.hCore, p.N)
	} else if p.HasCore() {
		rho = p.rhoCore * math.Pow(1+(h-p.hCore)/p.aCore, p.NC)
	} else {
		rho = p.rhoEnv * math.Pow(h/p.hCore, p.N)
	}

	if rho < p.DensMin {
		return p.DensMin
	}
	return rho
}

// Enthalpy is the inverse of Density. Densities inside the jump at the
// core/envelope interface all map to the interface enthalpy.
func (p *Polytrope) Enthalpy(rho float64) float64 {
	switch {
	case !(rho > 0):
		return 0
	case rho <= p.rhoEnv || !p.HasCore():
		return p.hCore * math.Pow(rho/p.rhoEnv, 1/p.N)
	case rho < p.rhoCore:
		return p.hCore
	default:
		return p.hCore + p.aCore*(math.Pow(rho/p.rhoCore, 1/p.NC)-1)
	}
}

// Pressure returns the pressure at density rho.
func (p *Polytrope) Pressure(rho float64) float64 {
	switch {
	case !(rho > 0):
		return 0
	case rho <= p.rhoEnv || !p.HasCore():
		return p.kEnv * math.Pow(rho, 1+1/p.N)
	case rho < p.rhoCore:
		return p.pCore
	default:
		return p.kCore * math.Pow(rho, 1+1/p.NC)
	}
}

// Interface returns the enthalpy at the core/envelope interface and the
// envelope and core densities on either side of it.
func (p *Polytrope) Interface() (h, rhoEnv, rhoCore float64) {
	return p.hCore, p.rhoEnv, p.rhoCore
}

// DensityFromEnthalpy is a convenience wrapper around New and Density for
// one-off evaluations.
func DensityFromEnthalpy(
	h float64, shape Shape, hMax, densMin float64,
) (float64, error) {
	p, err := New(shape, hMax, densMin)
	if err != nil {
		return 0, err
	}
	return p.Density(h), nil
}
