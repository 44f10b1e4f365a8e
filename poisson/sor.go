package poisson

import (
	"context"
	"math"

	"github.com/phil-mansfield/binscf/comm"
)

const (
	tagHaloIn = 200 + iota
	tagHaloOut
)

// solveTDMA solves the tridiagonal system
//
//	-off x[k-1] + diag[k] x[k] - off x[k+1] = rhs[k]
//
// with Thomas' algorithm and writes the solution to x. cp is scratch space
// of the same length.
func solveTDMA(diag []float64, off float64, rhs, x, cp []float64) {
	n := len(diag)

	// Forward elimination. Every row is diagonally dominant, so no pivoting
	// is needed.
	denom := diag[0]
	cp[0] = -off / denom
	x[0] = rhs[0] / denom
	for k := 1; k < n; k++ {
		denom = diag[k] + off*cp[k-1]
		cp[k] = -off / denom
		x[k] = (rhs[k] + off*x[k-1]) / denom
	}

	// Back substitution
	for k := n - 2; k >= 0; k-- {
		x[k] -= cp[k] * x[k+1]
	}
}

// exchangeHalos refreshes the columns just inside and outside of this
// rank's radial block from its neighbours. The outermost rank keeps the
// boundary values already stored in hi.
func (s *Solver) exchangeHalos(ctx context.Context, c comm.Comm) error {
	colLen := s.sol.NK * s.sol.NJ
	first := s.x[:colLen]
	last := s.x[len(s.x)-colLen:]

	inner, outer := s.lay.SolverNeighbors(c.Rank())
	if inner >= 0 {
		if err := c.Send(ctx, inner, tagHaloIn, first); err != nil {
			return err
		}
	}
	if outer >= 0 {
		if err := c.Send(ctx, outer, tagHaloOut, last); err != nil {
			return err
		}
	}

	if inner >= 0 {
		buf, err := c.Recv(ctx, inner, tagHaloOut)
		if err != nil {
			return err
		}
		copy(s.lo, buf)
	}
	if outer >= 0 {
		buf, err := c.Recv(ctx, outer, tagHaloIn)
		if err != nil {
			return err
		}
		copy(s.hi, buf)
	}
	return nil
}

// halfSweep relaxes every z line whose radial index has the given parity.
// Lines of one colour only couple to lines of the other colour, so the
// result does not depend on the order they are visited in or on how they
// are split between ranks. It returns the largest change and the largest
// magnitude of any updated value.
func (s *Solver) halfSweep(colour int) (maxDelta, maxAbs float64) {
	b := s.sol
	nk, nj := b.NK, b.NJ
	aZ := 1 / (s.g.DZ * s.g.DZ)

	for li := 0; li < b.NI; li++ {
		i := b.I0 + li
		if i%2 != colour {
			continue
		}

		var west, east []float64
		if li > 0 {
			west = s.x[(li-1)*nk*nj : li*nk*nj]
		} else {
			west = s.lo
		}
		if li < b.NI-1 {
			east = s.x[(li+1)*nk*nj : (li+2)*nk*nj]
		} else {
			east = s.hi
		}
		line := s.x[li*nk*nj : (li+1)*nk*nj]
		src := s.src[li*nk*nj : (li+1)*nk*nj]

		aW, aE := s.aW[li], s.aE[li]
		for jj := 0; jj < nj; jj++ {
			if s.odd[jj] {
				for k := 0; k < nk; k++ {
					line[jj+nj*k] = 0
				}
				continue
			}
			d := aW + aE + 2*aZ + s.lambda[jj]*s.invR2[li]
			for k := 0; k < nk; k++ {
				idx := jj + nj*k
				s.diag[k] = d
				s.rhs[k] = aW*west[idx] + aE*east[idx] - src[idx]
			}

			if s.g.Sym.Mirrored() {
				s.diag[0] -= aZ
			} else {
				s.rhs[0] += aZ * s.bottom[jj+nj*li]
			}
			s.rhs[nk-1] += aZ * s.top[jj+nj*li]

			solveTDMA(s.diag, aZ, s.rhs, s.line, s.cp)

			for k := 0; k < nk; k++ {
				idx := jj + nj*k
				delta := s.omega * (s.line[k] - line[idx])
				line[idx] += delta
				maxDelta = math.Max(maxDelta, math.Abs(delta))
				maxAbs = math.Max(maxAbs, math.Abs(line[idx]))
			}
		}
	}

	return maxDelta, maxAbs
}

// defaultOmega is the over-relaxation factor for zebra line SOR on a radial
// line of n cells which is closed at the axis and open at the outer edge.
func defaultOmega(n int) float64 {
	return 2 / (1 + math.Sin(math.Pi/float64(2*n)))
}
