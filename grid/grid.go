/*
package grid describes the cylindrical (r, z, phi) index space that the
equilibrium fields live on, along with the symmetry class that decides which
part of that space is actually solved.

All indices are 0-based. Index 0 and index Num-1 in r and z are the one-cell
boundary layer; phi has no boundary layer and is periodic.
*/
package grid

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/dsputils"
)

// Symmetry is the symmetry class of the binary configuration. The numeric
// values match the isym values of SCF parameter files.
type Symmetry int

const (
	NoSymmetry Symmetry = 1
	Equatorial Symmetry = 2
	// PiSymmetry is equatorial symmetry plus invariance under a rotation of
	// pi about the z axis.
	PiSymmetry Symmetry = 3
)

func (s Symmetry) String() string {
	switch s {
	case NoSymmetry:
		return "none"
	case Equatorial:
		return "equatorial"
	case PiSymmetry:
		return "equatorial+pi"
	}
	return fmt.Sprintf("Symmetry(%d)", int(s))
}

// Mirrored returns true if the z < 0 half of the grid is a reflection of the
// z > 0 half rather than being stored.
func (s Symmetry) Mirrored() bool { return s == Equatorial || s == PiSymmetry }

// EvenModesOnly returns true if odd azimuthal Fourier modes vanish.
func (s Symmetry) EvenModesOnly() bool { return s == PiSymmetry }

func (s Symmetry) valid() bool { return s >= NoSymmetry && s <= PiSymmetry }

// Boundary is the boundary condition at the lower z edge of the grid.
type Boundary int

const (
	Open Boundary = iota
	Wall
)

func (b Boundary) String() string {
	if b == Wall {
		return "wall"
	}
	return "open"
}

// ParseBoundary converts a configuration string into a Boundary.
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "wall", "Wall":
		return Wall, nil
	case "open", "Open":
		return Open, nil
	}
	return Open, &ConfigError{"LowerBoundary", s, "must be one of [ wall | open ]"}
}

// ConfigError reports a violated structural invariant. It names the
// offending parameter, the value it was given, and the rule it broke.
type ConfigError struct {
	Field string
	Value interface{}
	Rule  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s = %v: %s", e.Field, e.Value, e.Rule)
}

// Range is an inclusive range of indices.
type Range struct {
	Lo, Hi int
}

func (r Range) Len() int            { return r.Hi - r.Lo + 1 }
func (r Range) Contains(i int) bool { return r.Lo <= i && i <= r.Hi }
func (r Range) String() string      { return fmt.Sprintf("[%d, %d]", r.Lo, r.Hi) }

// Markers are the azimuthal quadrant markers which bracket the axes of the
// two stars. Star 1 sits between Phi1 and Phi2, star 2 between Phi3 and Phi4.
type Markers struct {
	Phi1, Phi2, Phi3, Phi4 int
}

// Grid is an immutable description of the computational grid.
type Grid struct {
	NumR, NumZ, NumPhi int
	Sym                Symmetry
	LowerZ             Boundary

	// Interior index ranges. Phi always spans [0, NumPhi-1].
	R, Z, Phi Range
	Markers

	DR, DZ, DPhi float64
}

// MinPhi is the smallest azimuthal resolution with distinct markers.
const MinPhi = 8

// New returns a Grid after checking its structural invariants.
func New(numr, numz, numphi int, sym Symmetry, lowerZ Boundary) (*Grid, error) {
	if numr < 4 {
		return nil, &ConfigError{"NumR", numr, "must be at least 4"}
	} else if numz < 4 {
		return nil, &ConfigError{"NumZ", numz, "must be at least 4"}
	} else if numphi < MinPhi || !dsputils.IsPowerOf2(numphi) {
		return nil, &ConfigError{
			"NumPhi", numphi,
			fmt.Sprintf("must be a power of two no smaller than %d", MinPhi),
		}
	}

	if !sym.valid() {
		return nil, &ConfigError{"Symmetry", int(sym), "must be one of [ 1 | 2 | 3 ]"}
	}
	if sym.Mirrored() && lowerZ != Wall {
		return nil, &ConfigError{
			"LowerBoundary", lowerZ,
			fmt.Sprintf("symmetry '%s' requires a wall at the lower z edge", sym),
		}
	} else if !sym.Mirrored() && lowerZ != Open {
		return nil, &ConfigError{
			"LowerBoundary", lowerZ,
			"a wall at the lower z edge requires equatorial symmetry",
		}
	}
	if !sym.Mirrored() && numz%2 != 0 {
		return nil, &ConfigError{"NumZ", numz, "must be even when no symmetry is used"}
	}

	g := &Grid{
		NumR: numr, NumZ: numz, NumPhi: numphi,
		Sym: sym, LowerZ: lowerZ,
		R:   Range{1, numr - 2},
		Z:   Range{1, numz - 2},
		Phi: Range{0, numphi - 1},
	}
	g.Phi1 = numphi/4 - 1
	g.Phi2 = numphi/4 + 1
	g.Phi3 = 3*numphi/4 - 1
	g.Phi4 = 3*numphi/4 + 1

	g.DR = 1 / float64(numr-2)
	g.DZ = g.DR
	g.DPhi = 2 * math.Pi / float64(numphi)

	return g, nil
}

// RCoord returns the cylindrical radius of the centre of radial cell i.
func (g *Grid) RCoord(i int) float64 { return (float64(i) - 0.5) * g.DR }

// ZCoord returns the height of the centre of vertical cell k.
func (g *Grid) ZCoord(k int) float64 {
	if g.Sym.Mirrored() {
		return (float64(k) - 0.5) * g.DZ
	}
	return (float64(k-g.NumZ/2) + 0.5) * g.DZ
}

// PhiCoord returns the azimuth of cell j.
func (g *Grid) PhiCoord(j int) float64 { return float64(j) * g.DPhi }

// Solved returns true if the cell (i, k) is solved for explicitly and false
// if it is a boundary cell or a mirror image of a solved cell.
func (g *Grid) Solved(i, k int) bool {
	return g.R.Contains(i) && g.Z.Contains(k)
}

// Mirror returns the solved index that the vertical index k reflects under
// the active symmetry. ok is false if k is not a reflected cell.
func (g *Grid) Mirror(k int) (mk int, ok bool) {
	if g.Sym.Mirrored() && k < g.Z.Lo {
		return 2*g.Z.Lo - 1 - k, true
	}
	return k, false
}

// Equator returns the vertical index of the cell immediately above z = 0.
func (g *Grid) Equator() int {
	if g.Sym.Mirrored() {
		return g.Z.Lo
	}
	return g.NumZ / 2
}

// Axis returns the azimuthal index of the line running through the centre of
// star s (0 or 1).
func (g *Grid) Axis(s int) int {
	if s == 0 {
		return (g.Phi1 + g.Phi2) / 2
	}
	return (g.Phi3 + g.Phi4) / 2
}

// Half returns the star whose half of the grid contains azimuth j, or -1 if
// j lies on the dividing plane between the two halves.
func (g *Grid) Half(j int) int {
	half := g.NumPhi / 2
	switch {
	case j == 0 || j == half:
		return -1
	case j < half:
		return 0
	default:
		return 1
	}
}

// CellVolume returns the volume of a cell in radial shell i.
func (g *Grid) CellVolume(i int) float64 {
	return g.RCoord(i) * g.DR * g.DZ * g.DPhi
}

// VolumeWeight is the number of physical copies of each stored cell.
func (g *Grid) VolumeWeight() float64 {
	if g.Sym.Mirrored() {
		return 2
	}
	return 1
}

// Len returns the number of cells in the full grid, boundary included.
func (g *Grid) Len() int { return g.NumR * g.NumZ * g.NumPhi }

// Idx returns the index of (i, k, j) in a full-grid array. Phi varies
// fastest.
func (g *Grid) Idx(i, k, j int) int {
	return j + g.NumPhi*(k+g.NumZ*i)
}

// Coords is the inverse of Idx.
func (g *Grid) Coords(idx int) (i, k, j int) {
	j = idx % g.NumPhi
	k = (idx / g.NumPhi) % g.NumZ
	i = idx / (g.NumPhi * g.NumZ)
	return i, k, j
}
