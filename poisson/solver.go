/*
package poisson solves for the gravitational potential of a density field
on a cylindrical grid,

	lap(Phi) = 4 pi G rho,

with vacuum boundary conditions.

The density is transformed in phi, which decouples the azimuthal modes. Each
mode is then solved on the (r, z) plane with zebra line SOR, using exact
tridiagonal solves along z and over-relaxation in r. Dirichlet values on the
outer r and z edges come from a multipole expansion of the density. On
mirrored grids the lower z edge is a reflecting wall.
*/
package poisson

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/binscf/comm"
	"github.com/phil-mansfield/binscf/decomp"
	"github.com/phil-mansfield/binscf/grid"
)

// Params controls the Poisson solver. The zero value is not valid; start
// from DefaultParams.
type Params struct {
	// Grav is the gravitational constant.
	Grav float64
	// Tolerance is the largest change in any value during a sweep, relative
	// to the largest value, at which a solve is considered converged.
	Tolerance float64
	// MaxSweeps is the sweep budget for one solve.
	MaxSweeps int
	// LMax is the highest multipole order used for boundary values.
	LMax int
	// Omega is the over-relaxation factor. Zero selects a value based on
	// the radial resolution.
	Omega float64
}

func DefaultParams() Params {
	return Params{Grav: 1, Tolerance: 1e-10, MaxSweeps: 20000, LMax: 16}
}

// Check returns an error if p cannot be used on g.
func (p *Params) Check(g *grid.Grid) error {
	switch {
	case !(p.Grav > 0) || math.IsInf(p.Grav, 0):
		return &grid.ConfigError{Field: "Grav", Value: p.Grav, Rule: "must be positive"}
	case !(p.Tolerance > 0 && p.Tolerance < 1):
		return &grid.ConfigError{
			Field: "Tolerance", Value: p.Tolerance, Rule: "must be in range (0, 1)",
		}
	case p.MaxSweeps < 1:
		return &grid.ConfigError{
			Field: "MaxSweeps", Value: p.MaxSweeps, Rule: "must be positive",
		}
	case p.LMax < 0 || p.LMax >= g.NumPhi/2:
		return &grid.ConfigError{
			Field: "LMax", Value: p.LMax,
			Rule: fmt.Sprintf("must be in range [0, NumPhi/2 = %d)", g.NumPhi/2),
		}
	case p.Omega != 0 && !(p.Omega > 0 && p.Omega < 2):
		return &grid.ConfigError{
			Field: "Omega", Value: p.Omega, Rule: "must be in range (0, 2)",
		}
	}
	return nil
}

// ConvergenceError is returned when a solve runs out of sweeps.
type ConvergenceError struct {
	Rank     int
	Block    decomp.Block
	Sweeps   int
	Change   float64 // Relative change during the final sweep.
	Required float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf(
		"poisson solve on rank %d (modes %d..%d, r cells %d..%d) did not "+
			"converge in %d sweeps: relative change %.3g, required %.3g",
		e.Rank, e.Block.J0, e.Block.J0+e.Block.NJ-1,
		e.Block.I0, e.Block.I0+e.Block.NI-1,
		e.Sweeps, e.Change, e.Required,
	)
}

// Solver holds one rank's state for repeated Poisson solves. The solution
// of each solve is kept and used as the starting guess for the next.
type Solver struct {
	g     *grid.Grid
	lay   *decomp.Layout
	p     Params
	omega float64

	phys, sol decomp.Block
	mp        *multipole

	// Per local radial line.
	aW, aE, invR2 []float64
	// Per local slot.
	lambda []float64
	modes  []int
	odd    []bool // Slots whose mode vanishes by symmetry.

	x, src []float64 // Solver layout, slot space.
	lo, hi []float64 // Halo columns.
	top    []float64 // Boundary values above each local line.
	bottom []float64 // Boundary values below each local line.

	// TDMA scratch.
	diag, rhs, line, cp []float64

	// Sweeps is the number of sweeps used by the last call to Solve.
	Sweeps int
}

// New creates the Solver for rank.
func New(lay *decomp.Layout, rank int, p Params) (*Solver, error) {
	g := lay.G
	if err := p.Check(g); err != nil {
		return nil, err
	}

	s := &Solver{
		g: g, lay: lay, p: p,
		phys: lay.Block(decomp.Physical, rank),
		sol:  lay.Block(decomp.Solver, rank),
		mp:   newMultipole(g, p.LMax),
	}
	s.omega = p.Omega
	if s.omega == 0 {
		s.omega = defaultOmega(g.R.Len())
	}

	b := s.sol
	s.aW = make([]float64, b.NI)
	s.aE = make([]float64, b.NI)
	s.invR2 = make([]float64, b.NI)
	for li := range s.aW {
		i := b.I0 + li
		fi := float64(i)
		dr2 := g.DR * g.DR
		s.aW[li] = (fi - 1) / ((fi - 0.5) * dr2)
		s.aE[li] = fi / ((fi - 0.5) * dr2)
		s.invR2[li] = 1 / (g.RCoord(i) * g.RCoord(i))
	}

	s.lambda = make([]float64, b.NJ)
	s.modes = make([]int, b.NJ)
	s.odd = make([]bool, b.NJ)
	for jj := range s.lambda {
		m := slotMode(b.J0+jj, g.NumPhi)
		s.modes[jj] = m
		s.odd[jj] = g.Sym.EvenModesOnly() && m%2 == 1
		s.lambda[jj] = (2 - 2*math.Cos(float64(m)*g.DPhi)) / (g.DPhi * g.DPhi)
	}

	s.x = make([]float64, b.Len())
	s.src = make([]float64, b.Len())
	s.lo = make([]float64, b.NK*b.NJ)
	s.hi = make([]float64, b.NK*b.NJ)
	s.top = make([]float64, b.NI*b.NJ)
	s.bottom = make([]float64, b.NI*b.NJ)

	s.diag = make([]float64, b.NK)
	s.rhs = make([]float64, b.NK)
	s.line = make([]float64, b.NK)
	s.cp = make([]float64, b.NK)

	return s, nil
}

// Solve returns the potential of rho. Both are in the Physical layout of the
// calling rank. Every rank must call Solve together.
func (s *Solver) Solve(
	ctx context.Context, c comm.Comm, rho []float64,
) ([]float64, error) {
	if len(rho) != s.phys.Len() {
		return nil, fmt.Errorf(
			"density on rank %d has length %d, expected %d",
			c.Rank(), len(rho), s.phys.Len(),
		)
	}

	src, err := s.source(ctx, c, rho)
	if err != nil {
		return nil, err
	}
	if s.src, err = s.lay.Redistribute(ctx, c, src, decomp.Physical, decomp.Solver); err != nil {
		return nil, err
	}
	s.boundaryValues()

	if err := s.relax(ctx, c); err != nil {
		return nil, err
	}

	phi, err := s.lay.Redistribute(ctx, c, s.x, decomp.Solver, decomp.Physical)
	if err != nil {
		return nil, err
	}
	n := s.g.NumPhi
	for off := 0; off < len(phi); off += n {
		inverse(phi[off : off+n])
	}
	return phi, nil
}

// source transforms rho in phi, scales it by 4 pi G, and accumulates the
// global multipole moments from the same transforms. Under pi symmetry the
// odd modes are dropped.
func (s *Solver) source(
	ctx context.Context, c comm.Comm, rho []float64,
) ([]float64, error) {
	b, g, n := s.phys, s.g, s.g.NumPhi
	src := make([]float64, len(rho))
	copy(src, rho)

	s.mp.reset()
	for i := b.I0; i < b.I0+b.NI; i++ {
		dV := g.CellVolume(i)
		for k := b.K0; k < b.K0+b.NK; k++ {
			off := b.Idx(i, k, 0)
			X := forward(src[off : off+n])
			if g.Sym.EvenModesOnly() {
				dropOddModes(src[off:off+n], X)
			}
			s.mp.add(g.RCoord(i), g.ZCoord(k), dV, X)
		}
	}
	floats.Scale(4*math.Pi*s.p.Grav, src)

	if err := comm.AllreduceSum(ctx, c, s.mp.data); err != nil {
		return nil, err
	}
	s.mp.finish()
	return src, nil
}

// boundaryValues fills the Dirichlet values this rank's lines need, in slot
// space.
func (s *Solver) boundaryValues() {
	g, b := s.g, s.sol
	A := make([]float64, s.p.LMax+1)
	B := make([]float64, s.p.LMax+1)

	fill := func(dst []float64, i, k int) {
		s.mp.potential(g.RCoord(i), g.ZCoord(k), s.p.Grav, A, B)
		for jj, m := range s.modes {
			dst[jj] = s.slotValue(b.J0+jj, m, A, B)
		}
	}

	for li := 0; li < b.NI; li++ {
		i := b.I0 + li
		fill(s.top[li*b.NJ:(li+1)*b.NJ], i, g.NumZ-1)
		if !g.Sym.Mirrored() {
			fill(s.bottom[li*b.NJ:(li+1)*b.NJ], i, 0)
		}
	}

	if b.I0+b.NI-1 == g.R.Hi {
		for k := b.K0; k < b.K0+b.NK; k++ {
			off := (k - b.K0) * b.NJ
			fill(s.hi[off:off+b.NJ], g.NumR-1, k)
		}
	}
}

// slotValue converts the coefficients of Phi = A cos(m phi) + B sin(m phi)
// into the value stored in slot j.
func (s *Solver) slotValue(j, m int, A, B []float64) float64 {
	n := float64(s.g.NumPhi)
	switch {
	case m > s.p.LMax, s.g.Sym.EvenModesOnly() && m%2 == 1:
		return 0
	case m == 0:
		return n * A[0]
	case j <= s.g.NumPhi/2:
		return n / 2 * A[m]
	default:
		return -n / 2 * B[m]
	}
}

// relax runs zebra sweeps until the relative change falls below tolerance.
func (s *Solver) relax(ctx context.Context, c comm.Comm) error {
	var change float64
	stats := make([]float64, 2)

	for sweep := 1; sweep <= s.p.MaxSweeps; sweep++ {
		stats[0], stats[1] = 0, 0
		for colour := 0; colour < 2; colour++ {
			if err := s.exchangeHalos(ctx, c); err != nil {
				return err
			}
			delta, abs := s.halfSweep(colour)
			stats[0] = math.Max(stats[0], delta)
			stats[1] = math.Max(stats[1], abs)
		}

		if err := comm.AllreduceMax(ctx, c, stats); err != nil {
			return err
		}
		if math.IsNaN(stats[0]) || math.IsInf(stats[0], 0) {
			return &ConvergenceError{
				Rank: c.Rank(), Block: s.sol, Sweeps: sweep,
				Change: stats[0], Required: s.p.Tolerance,
			}
		}

		change = 0
		if stats[1] > 0 {
			change = stats[0] / stats[1]
		}
		if change <= s.p.Tolerance {
			s.Sweeps = sweep
			return nil
		}
	}

	s.Sweeps = s.p.MaxSweeps
	return &ConvergenceError{
		Rank: c.Rank(), Block: s.sol, Sweeps: s.p.MaxSweeps,
		Change: change, Required: s.p.Tolerance,
	}
}
