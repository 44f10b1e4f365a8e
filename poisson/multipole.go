package poisson

import (
	"math"

	"github.com/phil-mansfield/binscf/grid"
)

// Moment components. Exterior moments weight mass by r^l and describe the
// field outside the mass, interior moments weight by r^-(l+1) and describe
// the field inside it.
const (
	extCos = iota
	extSin
	intCos
	intSin
	nComp
)

// multipole accumulates the mass moments of the density in spherical shells
// of width dr about the origin. Splitting by shell lets boundary points that
// sit inside the outermost mass still use the correct mix of interior and
// exterior expansions.
type multipole struct {
	g     *grid.Grid
	lMax  int
	nLM   int
	binW  float64
	nBins int

	// data[(bin*nLM + lm)*nComp + comp]
	data []float64

	// Filled in by finish.
	inside  []float64 // prefix sums over bins < b, indexed like data
	outside []float64 // suffix sums over bins >= b

	schmidt []float64 // scratch
}

func lmIdx(l, m int) int { return l*(l+1)/2 + m }

func newMultipole(g *grid.Grid, lMax int) *multipole {
	rMax := g.RCoord(g.NumR - 1)
	zMax := math.Max(math.Abs(g.ZCoord(0)), math.Abs(g.ZCoord(g.NumZ-1)))

	mp := &multipole{
		g: g, lMax: lMax, nLM: lmIdx(lMax, lMax) + 1,
		binW: g.DR,
	}
	mp.nBins = int(math.Hypot(rMax, zMax)/mp.binW) + 2
	mp.data = make([]float64, mp.nBins*mp.nLM*nComp)
	mp.inside = make([]float64, (mp.nBins+1)*mp.nLM*nComp)
	mp.outside = make([]float64, (mp.nBins+1)*mp.nLM*nComp)
	mp.schmidt = make([]float64, mp.nLM)
	return mp
}

func (mp *multipole) reset() {
	for i := range mp.data {
		mp.data[i] = 0
	}
}

func (mp *multipole) bin(R float64) int {
	b := int(R / mp.binW)
	if b >= mp.nBins {
		b = mp.nBins - 1
	}
	return b
}

// add accumulates a cell column at (r, z). X is the azimuthal transform of
// the column's density.
func (mp *multipole) add(r, z, dV float64, X []complex128) {
	R := math.Hypot(r, z)
	schmidt(mp.schmidt, mp.lMax, z/R, r/R)

	base := mp.bin(R) * mp.nLM
	rl := 1.0
	for l := 0; l <= mp.lMax; l++ {
		rInv := 1 / (rl * R)
		for m := 0; m <= l; m++ {
			lm := lmIdx(l, m)
			fc, fs := real(X[m]), -imag(X[m])
			w := dV * mp.schmidt[lm]

			out := mp.data[(base+lm)*nComp:]
			out[extCos] += w * rl * fc
			out[extSin] += w * rl * fs
			out[intCos] += w * rInv * fc
			out[intSin] += w * rInv * fs
		}
		rl *= R
	}
}

// finish builds the cumulative sums. It must be called after the moments
// have been summed over all ranks.
func (mp *multipole) finish() {
	stride := mp.nLM * nComp
	for i := range mp.inside[:stride] {
		mp.inside[i] = 0
	}
	for b := 0; b < mp.nBins; b++ {
		for i := 0; i < stride; i++ {
			mp.inside[(b+1)*stride+i] = mp.inside[b*stride+i] + mp.data[b*stride+i]
		}
	}

	for i := range mp.outside[mp.nBins*stride:] {
		mp.outside[mp.nBins*stride+i] = 0
	}
	for b := mp.nBins - 1; b >= 0; b-- {
		for i := 0; i < stride; i++ {
			mp.outside[b*stride+i] = mp.outside[(b+1)*stride+i] + mp.data[b*stride+i]
		}
	}
}

// potential returns the cos(m phi) and sin(m phi) coefficients of the
// potential at (r, z) for m = 0..lMax.
func (mp *multipole) potential(r, z, grav float64, A, B []float64) {
	R := math.Hypot(r, z)
	schmidt(mp.schmidt, mp.lMax, z/R, r/R)

	stride := mp.nLM * nComp
	b := int(R / mp.binW)
	if b > mp.nBins {
		b = mp.nBins
	}
	in, out := mp.inside[b*stride:], mp.outside[b*stride:]

	for m := 0; m <= mp.lMax; m++ {
		A[m], B[m] = 0, 0
	}

	rl := 1.0
	for l := 0; l <= mp.lMax; l++ {
		rInv := 1 / (rl * R)
		for m := 0; m <= l; m++ {
			f := mp.mirrorFactor(l, m)
			if f == 0 {
				continue
			}
			lm := lmIdx(l, m)
			w := -grav * f * mp.schmidt[lm]
			e, i := in[lm*nComp:], out[lm*nComp:]
			A[m] += w * (rInv*e[extCos] + rl*i[intCos])
			B[m] += w * (rInv*e[extSin] + rl*i[intSin])
		}
		rl *= R
	}
}

// mirrorFactor accounts for the unstored z < 0 half of a mirrored grid.
// P_l^m is odd in z when l + m is odd.
func (mp *multipole) mirrorFactor(l, m int) float64 {
	if !mp.g.Sym.Mirrored() {
		return 1
	}
	if (l+m)%2 == 0 {
		return 2
	}
	return 0
}

// schmidt fills out with the Schmidt semi-normalised associated Legendre
// functions S_l^m(x), indexed by lmIdx, where x = cos(theta) and
// s = sin(theta). With this normalisation
//
//	1/|x - x'| = sum_l r<^l / r>^(l+1) sum_m S_l^m S_l^m' cos(m (phi - phi')).
func schmidt(out []float64, lMax int, x, s float64) {
	out[0] = 1
	for m := 1; m <= lMax; m++ {
		prev := out[lmIdx(m-1, m-1)]
		if m == 1 {
			out[lmIdx(1, 1)] = s
		} else {
			fm := float64(m)
			out[lmIdx(m, m)] = prev * s * math.Sqrt((2*fm-1)/(2*fm))
		}
	}

	for m := 0; m < lMax; m++ {
		fm := float64(m)
		out[lmIdx(m+1, m)] = math.Sqrt(2*fm+1) * x * out[lmIdx(m, m)]
		for l := m + 2; l <= lMax; l++ {
			fl := float64(l)
			out[lmIdx(l, m)] = ((2*fl-1)*x*out[lmIdx(l-1, m)] -
				math.Sqrt((fl-1)*(fl-1)-fm*fm)*out[lmIdx(l-2, m)]) /
				math.Sqrt(fl*fl-fm*fm)
		}
	}
}
