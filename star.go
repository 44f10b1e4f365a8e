package binscf

import (
	"math"

	"github.com/phil-mansfield/binscf/eos"
	"github.com/phil-mansfield/binscf/grid"
)

// Star is the descriptor of one star. Both stars share this type; the
// driver owns two instances and updates them after every iteration.
type Star struct {
	// Index is 0 for the star centred at phi = pi/2 and 1 for the star
	// centred at phi = 3 pi/2.
	Index int
	StarParams

	// Initial geometry: the radius of the star's centre on its axis, the
	// initial stellar radius and the radius of the support sphere.
	Centre, Radius, Support float64

	// Equilibrium scalars.
	HMax, C, Mass float64

	// Diagnostics.
	MeasuredInner, MeasuredOuter float64 // Radii of the measured surface.
	CentreOfMass                 [2]float64
	MaxAzimuth                   int // Azimuthal index of the density peak.
	AxisOK                       bool
}

func newStar(p *Params, g *grid.Grid, s int) *Star {
	star := &Star{Index: s, StarParams: p.Stars[s]}
	star.Centre, star.Radius = seedGeometry(g, &star.StarParams)
	star.Support = p.SupportFactor * star.Radius
	return star
}

// centreXY returns the Cartesian position of the star's initial centre.
func (s *Star) centreXY(g *grid.Grid) (x, y float64) {
	phi := g.PhiCoord(g.Axis(s.Index))
	return s.Centre * math.Cos(phi), s.Centre * math.Sin(phi)
}

// distance returns the distance between the cell at (r, z, phi) and the
// star's initial centre.
func (s *Star) distance(g *grid.Grid, r, z, phi float64) float64 {
	xc, yc := s.centreXY(g)
	dx, dy := r*math.Cos(phi)-xc, r*math.Sin(phi)-yc
	return math.Sqrt(dx*dx + dy*dy + z*z)
}

// seedDensity is the initial density profile, a parabola which falls to
// zero at the star's initial radius.
func (s *Star) seedDensity(d float64) float64 {
	if d >= s.Radius {
		return 0
	}
	x := d / s.Radius
	return s.MaxDensity * (1 - x*x)
}

// Residuals are the relative changes of the equilibrium quantities over one
// iteration.
type Residuals struct {
	HMax, Mass, C     [2]float64
	Omega2, Potential float64
}

// Max returns the largest residual.
func (r *Residuals) Max() float64 {
	m := 0.0
	r.each(func(_ string, _ int, v float64) { m = math.Max(m, v) })
	return m
}

// each calls f with the name, star and value of every residual. Global
// residuals have star -1.
func (r *Residuals) each(f func(name string, star int, v float64)) {
	for s := 0; s < 2; s++ {
		f("hmax", s, r.HMax[s])
		f("mass", s, r.Mass[s])
		f("c", s, r.C[s])
	}
	f("omega2", -1, r.Omega2)
	f("potential", -1, r.Potential)
}

func firstResiduals() Residuals {
	return Residuals{
		HMax: [2]float64{1, 1}, Mass: [2]float64{1, 1}, C: [2]float64{1, 1},
		Omega2: 1, Potential: 1,
	}
}

// relChange returns |x - prev| / |x|.
func relChange(x, prev float64) float64 {
	if x == 0 {
		return math.Abs(x - prev)
	}
	return math.Abs((x - prev) / x)
}

func (s *Star) polytrope(hMax, densMin float64) (eos.Polytrope, error) {
	return eos.New(s.Shape, hMax, densMin)
}
