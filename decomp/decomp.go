/*
package decomp maps the global grid onto the process grid.

Fields live in one of two layouts. In the Physical layout the interior r and
z ranges are cut into contiguous blocks over a numr_procs x numz_procs
process grid and every rank holds all of phi. In the Solver layout each rank
holds a contiguous block of azimuthal slots, a contiguous block of r and
every interior z, which is what the per-mode line solves need.

Moving between the two is a two stage transpose. The first stage exchanges
phi blocks inside each row of the process grid (ranks sharing a z block), the
second exchanges r blocks inside each column (ranks sharing a phi block).
*/
package decomp

import (
	"fmt"

	"github.com/phil-mansfield/binscf/grid"
)

// Kind names a field layout.
type Kind int

const (
	Physical Kind = iota
	Solver
	// intermediate is the layout between the two transpose stages: all
	// interior r, one z block, one phi block.
	intermediate
)

func (k Kind) String() string {
	switch k {
	case Physical:
		return "physical"
	case Solver:
		return "solver"
	case intermediate:
		return "intermediate"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Block is a rectangular region of the global index space. Local arrays
// store a Block with phi varying fastest, then z, then r.
type Block struct {
	I0, NI int
	K0, NK int
	J0, NJ int
}

func (b Block) Len() int { return b.NI * b.NK * b.NJ }

// Idx returns the local index of the global cell (i, k, j).
func (b Block) Idx(i, k, j int) int {
	return (j - b.J0) + b.NJ*((k-b.K0)+b.NK*(i-b.I0))
}

func (b Block) Contains(i, k, j int) bool {
	return i >= b.I0 && i < b.I0+b.NI &&
		k >= b.K0 && k < b.K0+b.NK &&
		j >= b.J0 && j < b.J0+b.NJ
}

// Intersect returns the overlap of two blocks. ok is false if they are
// disjoint.
func (b Block) Intersect(o Block) (out Block, ok bool) {
	lo := func(x, y int) int {
		if x > y {
			return x
		}
		return y
	}
	hi := func(x, y int) int {
		if x < y {
			return x
		}
		return y
	}

	out.I0 = lo(b.I0, o.I0)
	out.NI = hi(b.I0+b.NI, o.I0+o.NI) - out.I0
	out.K0 = lo(b.K0, o.K0)
	out.NK = hi(b.K0+b.NK, o.K0+o.NK) - out.K0
	out.J0 = lo(b.J0, o.J0)
	out.NJ = hi(b.J0+b.NJ, o.J0+o.NJ) - out.J0

	if out.NI <= 0 || out.NK <= 0 || out.NJ <= 0 {
		return Block{}, false
	}
	return out, true
}

// Layout is the decomposition of a grid over a numr_procs x numz_procs
// process grid. It is immutable once created.
type Layout struct {
	G      *grid.Grid
	NR, NZ int

	RBlock, ZBlock int // Physical layout block sizes in r and z.
	PhiBlock       int // Solver layout block size in phi.
	SolverRBlock   int // Solver layout block size in r.
}

// CheckProcs validates a process grid against the grid it will decompose.
// A 1 x 1 process grid is always valid.
func CheckProcs(g *grid.Grid, nr, nz int) error {
	if nr == 1 && nz == 1 {
		return nil
	}

	if nr < 2 || nr%2 != 0 {
		return procsError("NumRProcs", nr, "must be an even number no smaller than 2")
	} else if nz < 2 || nz%2 != 0 {
		return procsError("NumZProcs", nz, "must be an even number no smaller than 2")
	}

	interiorR, interiorZ := g.NumR-2, g.NumZ-2
	switch {
	case interiorR%nr != 0:
		return procsError("NumRProcs", nr, fmt.Sprintf("must divide NumR - 2 = %d", interiorR))
	case interiorZ%nz != 0:
		return procsError("NumZProcs", nz, fmt.Sprintf("must divide NumZ - 2 = %d", interiorZ))
	case g.NumPhi%nr != 0:
		return procsError("NumRProcs", nr, fmt.Sprintf("must divide NumPhi = %d", g.NumPhi))
	case interiorR%nz != 0:
		return procsError("NumZProcs", nz, fmt.Sprintf("must divide NumR - 2 = %d", interiorR))
	}
	return nil
}

func procsError(field string, n int, rule string) error {
	return &grid.ConfigError{Field: field, Value: n, Rule: rule}
}

// New returns the Layout of g over an nr x nz process grid.
func New(g *grid.Grid, nr, nz int) (*Layout, error) {
	if err := CheckProcs(g, nr, nz); err != nil {
		return nil, err
	}
	return &Layout{
		G: g, NR: nr, NZ: nz,
		RBlock:       (g.NumR - 2) / nr,
		ZBlock:       (g.NumZ - 2) / nz,
		PhiBlock:     g.NumPhi / nr,
		SolverRBlock: (g.NumR - 2) / nz,
	}, nil
}

func (l *Layout) Size() int { return l.NR * l.NZ }

// Rank returns the rank at process grid coordinates (pr, pz).
func (l *Layout) Rank(pr, pz int) int { return pr + l.NR*pz }

// Coords is the inverse of Rank.
func (l *Layout) Coords(rank int) (pr, pz int) { return rank % l.NR, rank / l.NR }

// Block returns the part of the grid owned by rank in the given layout.
func (l *Layout) Block(kind Kind, rank int) Block {
	pr, pz := l.Coords(rank)
	g := l.G
	switch kind {
	case Physical:
		return Block{
			I0: g.R.Lo + pr*l.RBlock, NI: l.RBlock,
			K0: g.Z.Lo + pz*l.ZBlock, NK: l.ZBlock,
			J0: 0, NJ: g.NumPhi,
		}
	case Solver:
		return Block{
			I0: g.R.Lo + pz*l.SolverRBlock, NI: l.SolverRBlock,
			K0: g.Z.Lo, NK: g.Z.Len(),
			J0: pr * l.PhiBlock, NJ: l.PhiBlock,
		}
	case intermediate:
		return Block{
			I0: g.R.Lo, NI: g.R.Len(),
			K0: g.Z.Lo + pz*l.ZBlock, NK: l.ZBlock,
			J0: pr * l.PhiBlock, NJ: l.PhiBlock,
		}
	}
	panic(fmt.Sprintf("unknown layout %v", kind))
}

// Row returns the ranks which share rank's z block, ordered by pr.
func (l *Layout) Row(rank int) []int {
	_, pz := l.Coords(rank)
	out := make([]int, l.NR)
	for pr := range out {
		out[pr] = l.Rank(pr, pz)
	}
	return out
}

// Column returns the ranks which share rank's phi block, ordered by pz.
func (l *Layout) Column(rank int) []int {
	pr, _ := l.Coords(rank)
	out := make([]int, l.NZ)
	for pz := range out {
		out[pz] = l.Rank(pr, pz)
	}
	return out
}

// SolverNeighbors returns the ranks holding the solver r blocks directly
// inside and outside of rank's block, or -1 where there is none.
func (l *Layout) SolverNeighbors(rank int) (inner, outer int) {
	pr, pz := l.Coords(rank)
	inner, outer = -1, -1
	if pz > 0 {
		inner = l.Rank(pr, pz-1)
	}
	if pz < l.NZ-1 {
		outer = l.Rank(pr, pz+1)
	}
	return inner, outer
}
