/*
package binscf computes self-consistent-field equilibria of binary stars.

Two rotating, self-gravitating polytropes are relaxed on a cylindrical grid
with Hachisu's method. Each iteration solves for the potential of the current
density, fixes the rotation rate and integration constants from the density
surface at a handful of fixed points, and rebuilds the density from the
equation of state. The grid is split over a process grid of in-process ranks.
*/
package binscf

import (
	"fmt"
	"math"

	"github.com/phil-mansfield/binscf/decomp"
	"github.com/phil-mansfield/binscf/eos"
	"github.com/phil-mansfield/binscf/grid"
	"github.com/phil-mansfield/binscf/poisson"
)

// State is the state of an SCF run.
type State int

const (
	Initializing State = iota
	Iterating
	Converged
	MaxIterExceeded
	Diverged
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Iterating:
		return "Iterating"
	case Converged:
		return "Converged"
	case MaxIterExceeded:
		return "MaxIterExceeded"
	case Diverged:
		return "Diverged"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal returns true if no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == Converged || s == MaxIterExceeded || s == Diverged
}

// StarParams are the fixed parameters of one star.
type StarParams struct {
	eos.Shape
	// InnerEdge and OuterEdge are the radial indices of the cells on the
	// star's axis, in the equatorial plane, where the surface sits. Star 1
	// uses both as fixed points, star 2 only its outer edge. Both are used
	// to place the initial density.
	InnerEdge, OuterEdge int
}

// Params is the validated configuration of a run. It is passed by value and
// never modified by the solver.
type Params struct {
	NumR, NumZ, NumPhi   int
	Sym                  grid.Symmetry
	LowerZ               grid.Boundary
	NumRProcs, NumZProcs int

	MaxIter int
	// Eps is the convergence threshold applied to every residual.
	Eps float64
	// Epsilon is the density, relative to MaxDensity, which marks the
	// measured surface of a star.
	Epsilon float64
	DensMin float64

	// Poisson holds the solver parameters, including the gravitational
	// constant.
	Poisson poisson.Params

	Stars [2]StarParams

	// SupportFactor is the radius of the sphere, in units of the initial
	// stellar radius, outside of which a star's density is always zero.
	SupportFactor float64
	// A run diverges if any residual grows for DivergenceWindow iterations
	// in a row and ends above DivergenceBound.
	DivergenceWindow int
	DivergenceBound  float64
}

// DefaultParams returns the parameters of the reference equal mass binary:
// two n = 1.5 polytropes at the widest symmetric separation the grid allows.
func DefaultParams() Params {
	p := Params{
		NumR: 130, NumZ: 130, NumPhi: 256,
		Sym: grid.Equatorial, LowerZ: grid.Wall,
		NumRProcs: 2, NumZProcs: 2,

		MaxIter: 85,
		Eps:     1e-4,
		Epsilon: 1e-5,
		DensMin: 1e-10,

		Poisson: poisson.DefaultParams(),

		SupportFactor:    1.25,
		DivergenceWindow: 5,
		DivergenceBound:  1,
	}

	for s := range p.Stars {
		p.Stars[s] = StarParams{
			Shape: eos.Shape{
				N: 1.5, NC: 3, Mu: 1, MuC: 2,
				CoreFraction: 1, MaxDensity: 1,
			},
		}
	}
	p.SetDefaultEdges()
	return p
}

// SetDefaultEdges places both stars between 1/8 and 15/16 of the grid
// radius. It is used for any edge left at zero.
func (p *Params) SetDefaultEdges() {
	n := p.NumR - 2
	for s := range p.Stars {
		if p.Stars[s].InnerEdge == 0 {
			p.Stars[s].InnerEdge = 1 + n/8
		}
		if p.Stars[s].OuterEdge == 0 {
			p.Stars[s].OuterEdge = n - n/16
		}
	}
}

// Grid returns the grid described by p.
func (p *Params) Grid() (*grid.Grid, error) {
	return grid.New(p.NumR, p.NumZ, p.NumPhi, p.Sym, p.LowerZ)
}

// Check validates every startup invariant and returns the first violation.
func (p *Params) Check() error {
	g, err := p.Grid()
	if err != nil {
		return err
	}
	if err := decomp.CheckProcs(g, p.NumRProcs, p.NumZProcs); err != nil {
		return err
	}
	if err := p.Poisson.Check(g); err != nil {
		return err
	}

	switch {
	case p.MaxIter < 1:
		return configError("MaxIter", p.MaxIter, "must be positive")
	case !(p.Eps > 0 && p.Eps < 1):
		return configError("Eps", p.Eps, "must be in range (0, 1)")
	case !(p.Epsilon > 0 && p.Epsilon < 1):
		return configError("Epsilon", p.Epsilon, "must be in range (0, 1)")
	case !(p.DensMin >= 0) || math.IsInf(p.DensMin, 0):
		return configError("DensMin", p.DensMin, "must be non-negative")
	case !(p.SupportFactor >= 1) || math.IsInf(p.SupportFactor, 0):
		return configError("SupportFactor", p.SupportFactor, "must be at least 1")
	case p.DivergenceWindow < 1:
		return configError("DivergenceWindow", p.DivergenceWindow, "must be positive")
	case !(p.DivergenceBound > 0):
		return configError("DivergenceBound", p.DivergenceBound, "must be positive")
	}

	for s := range p.Stars {
		if err := p.checkStar(g, s); err != nil {
			return err
		}
	}

	if p.Sym == grid.PiSymmetry && p.Stars[0] != p.Stars[1] {
		return configError(
			"Star", "2", "symmetry 'equatorial+pi' requires identical stars",
		)
	}
	return nil
}

func (p *Params) checkStar(g *grid.Grid, s int) error {
	star := &p.Stars[s]
	name := func(field string) string { return fmt.Sprintf("Star %d %s", s+1, field) }

	if err := star.Shape.Check(); err != nil {
		return configError(name("Shape"), star.Shape, err.Error())
	}
	if !(star.MaxDensity > p.DensMin) {
		return configError(
			name("MaxDensity"), star.MaxDensity,
			fmt.Sprintf("must be larger than DensMin = %g", p.DensMin),
		)
	}
	if !g.R.Contains(star.InnerEdge) {
		return configError(
			name("InnerEdge"), star.InnerEdge, "must be in range "+g.R.String(),
		)
	} else if !g.R.Contains(star.OuterEdge) || star.OuterEdge <= star.InnerEdge {
		return configError(
			name("OuterEdge"), star.OuterEdge,
			fmt.Sprintf("must be in range (%d, %d]", star.InnerEdge, g.R.Hi),
		)
	}
	return nil
}

func configError(field string, value interface{}, rule string) error {
	return &grid.ConfigError{Field: field, Value: value, Rule: rule}
}

// seedGeometry returns the radius of the centre of a star on its axis and
// its initial radius.
func seedGeometry(g *grid.Grid, star *StarParams) (centre, halfWidth float64) {
	rIn, rOut := g.RCoord(star.InnerEdge), g.RCoord(star.OuterEdge)
	return (rIn + rOut) / 2, (rOut - rIn) / 2
}
