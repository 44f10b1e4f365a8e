package binscf

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/phil-mansfield/binscf/comm"
	"github.com/phil-mansfield/binscf/decomp"
	"github.com/phil-mansfield/binscf/eos"
	"github.com/phil-mansfield/binscf/grid"
	"github.com/phil-mansfield/binscf/poisson"
)

// Options holds the optional collaborators of Run.
type Options struct {
	// Logger receives progress messages. Rank 0 logs at Info, every other
	// rank at Debug. A nil Logger discards everything.
	Logger *zap.Logger
}

// Run validates p, then iterates until the run converges, diverges, reaches
// p.MaxIter, or ctx ends. ctx is only checked between iterations.
//
// Configuration errors and Poisson solver failures are returned with a nil
// Result. A run which ends in the Converged or MaxIterExceeded state returns
// its Result and a nil error. A Diverged run returns the fields of the last
// valid iteration together with a *DivergenceError. Those fields are for
// diagnosis only and are not an equilibrium.
func Run(ctx context.Context, p Params, opts Options) (*Result, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	g, err := p.Grid()
	if err != nil {
		return nil, err
	}
	lay, err := decomp.New(g, p.NumRProcs, p.NumZProcs)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		res *Result
		div *DivergenceError
	)

	// Collectives run on a context which only ends if a rank fails, so that
	// cancellation is seen by every rank at the same iteration boundary.
	err = comm.Run(context.WithoutCancel(ctx), lay.Size(),
		func(rctx context.Context, c comm.Comm) error {
			d, err := newDriver(p, g, lay, c, logger)
			if err != nil {
				return err
			}
			r, dv, err := d.run(ctx, rctx)
			if err != nil {
				return err
			}
			if c.Rank() == comm.Root {
				res, div = r, dv
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	if div != nil {
		return res, div
	}
	return res, nil
}

// driver is the per-rank state of an SCF run.
type driver struct {
	p   Params
	g   *grid.Grid
	lay *decomp.Layout
	c   comm.Comm
	log *zap.Logger
	b   decomp.Block

	solver *poisson.Solver
	stars  [2]*Star
	owner  []int8 // The star whose support contains each local cell, or -1.

	// Per local radial index.
	r, dV []float64
	// Per azimuthal index.
	cosPhi, sinPhi []float64

	rho, phi, h []float64

	state     State
	iter      int
	cancelled bool
	omega2    float64
	virial    float64
	res       Residuals
	history   []Record
	trend     map[string][]float64
}

func newDriver(
	p Params, g *grid.Grid, lay *decomp.Layout, c comm.Comm, log *zap.Logger,
) (*driver, error) {
	solver, err := poisson.New(lay, c.Rank(), p.Poisson)
	if err != nil {
		return nil, err
	}

	d := &driver{
		p: p, g: g, lay: lay, c: c,
		log:    log.With(zap.Int("rank", c.Rank())),
		b:      lay.Block(decomp.Physical, c.Rank()),
		solver: solver,
		state:  Initializing,
		trend:  make(map[string][]float64),
	}
	for s := range d.stars {
		d.stars[s] = newStar(&p, g, s)
	}

	d.r = make([]float64, d.b.NI)
	d.dV = make([]float64, d.b.NI)
	for li := range d.r {
		d.r[li] = g.RCoord(d.b.I0 + li)
		d.dV[li] = g.CellVolume(d.b.I0+li) * g.VolumeWeight()
	}
	d.cosPhi = make([]float64, g.NumPhi)
	d.sinPhi = make([]float64, g.NumPhi)
	for j := range d.cosPhi {
		d.sinPhi[j], d.cosPhi[j] = math.Sincos(g.PhiCoord(j))
	}

	d.seed()
	return d, nil
}

// eachCell calls f on every local cell in storage order.
func (d *driver) eachCell(f func(idx, li, k, j int)) {
	idx := 0
	for li := 0; li < d.b.NI; li++ {
		for k := d.b.K0; k < d.b.K0+d.b.NK; k++ {
			for j := 0; j < d.b.NJ; j++ {
				f(idx, li, k, j)
				idx++
			}
		}
	}
}

// seed assigns each cell to a star's support and lays down the initial
// density.
func (d *driver) seed() {
	n := d.b.Len()
	d.owner = make([]int8, n)
	d.rho = make([]float64, n)

	d.eachCell(func(idx, li, k, j int) {
		d.owner[idx] = -1
		s := d.g.Half(j)
		if s < 0 {
			return
		}
		star := d.stars[s]
		dist := star.distance(d.g, d.r[li], d.g.ZCoord(k), d.g.PhiCoord(j))
		if dist < star.Support {
			d.owner[idx] = int8(s)
			d.rho[idx] = star.seedDensity(dist)
		}
	})
}

func (d *driver) info(msg string, fields ...zap.Field) {
	if d.c.Rank() == comm.Root {
		d.log.Info(msg, fields...)
	} else {
		d.log.Debug(msg, fields...)
	}
}

func (d *driver) run(ctx, rctx context.Context) (*Result, *DivergenceError, error) {
	d.info("starting SCF iteration",
		zap.Int("numr", d.g.NumR), zap.Int("numz", d.g.NumZ),
		zap.Int("numphi", d.g.NumPhi), zap.Stringer("symmetry", d.g.Sym),
		zap.Int("ranks", d.c.Size()),
	)
	d.state = Iterating

	var div *DivergenceError
	for !d.state.Terminal() {
		stop, err := d.stopRequested(ctx, rctx)
		if err != nil {
			return nil, nil, err
		}
		if stop {
			d.cancelled = true
			d.state = MaxIterExceeded
			d.info("SCF iteration cancelled", zap.Int("iter", d.iter))
			break
		}

		d.iter++
		if div, err = d.step(rctx); err != nil {
			return nil, nil, fmt.Errorf("iteration %d: %w", d.iter, err)
		}

		switch {
		case div != nil:
			d.state = Diverged
		case d.iter >= 2 && d.res.Max() < d.p.Eps:
			d.state = Converged
		case d.iter >= d.p.MaxIter:
			d.state = MaxIterExceeded
		}
	}

	if div != nil {
		d.info("SCF iteration diverged", zap.Error(div))
	} else {
		d.info("SCF iteration finished",
			zap.Stringer("state", d.state), zap.Int("iterations", d.iter),
			zap.Float64("residual", d.res.Max()),
		)
	}

	res, err := d.result(rctx)
	return res, div, err
}

// stopRequested returns true on every rank if ctx has ended on any rank.
func (d *driver) stopRequested(ctx, rctx context.Context) (bool, error) {
	flag := []float64{0}
	if ctx.Err() != nil {
		flag[0] = 1
	}
	if err := comm.AllreduceMax(rctx, d.c, flag); err != nil {
		return false, err
	}
	return flag[0] > 0, nil
}

// valueAt returns field at the global cell (i, k, j) on the rank which owns
// it and zero everywhere else.
func (d *driver) valueAt(field []float64, i, k, j int) float64 {
	if !d.b.Contains(i, k, j) {
		return 0
	}
	return field[d.b.Idx(i, k, j)]
}

func (d *driver) diverge(quantity string, star int, v float64) *DivergenceError {
	return &DivergenceError{Quantity: quantity, Star: star, Value: v, Iter: d.iter}
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// step runs one SCF iteration. Fields and star descriptors are only updated
// if the iteration produced a valid state.
func (d *driver) step(ctx context.Context) (*DivergenceError, error) {
	g := d.g

	phi, err := d.solver.Solve(ctx, d.c, d.rho)
	if err != nil {
		return nil, err
	}

	// Rotation rate and integration constants from the fixed points.
	s1, s2 := d.stars[0], d.stars[1]
	eq := g.Equator()
	fixed := []float64{
		d.valueAt(phi, s1.OuterEdge, eq, g.Axis(0)),
		d.valueAt(phi, s1.InnerEdge, eq, g.Axis(0)),
		d.valueAt(phi, s2.OuterEdge, eq, g.Axis(1)),
	}
	if err := comm.AllreduceSum(ctx, d.c, fixed); err != nil {
		return nil, err
	}
	rA, rB := g.RCoord(s1.OuterEdge), g.RCoord(s1.InnerEdge)
	rD := g.RCoord(s2.OuterEdge)

	omega2 := 2 * (fixed[0] - fixed[1]) / (rA*rA - rB*rB)
	if !finite(omega2) || omega2 <= 0 {
		return d.diverge("omega2", -1, omega2), nil
	}
	C := [2]float64{
		fixed[0] - 0.5*omega2*rA*rA,
		fixed[2] - 0.5*omega2*rD*rD,
	}

	// Enthalpy.
	h := make([]float64, len(d.rho))
	hMax := []float64{math.Inf(-1), math.Inf(-1)}
	d.eachCell(func(idx, li, k, j int) {
		s := d.owner[idx]
		if s < 0 {
			return
		}
		r := d.r[li]
		h[idx] = C[s] - phi[idx] + 0.5*omega2*r*r
		hMax[s] = math.Max(hMax[s], h[idx])
	})
	if err := comm.AllreduceMax(ctx, d.c, hMax); err != nil {
		return nil, err
	}
	for s := range hMax {
		if !finite(hMax[s]) || hMax[s] <= 0 {
			return d.diverge("hmax", s, hMax[s]), nil
		}
	}

	// Density.
	var polys [2]eos.Polytrope
	for s := range polys {
		if polys[s], err = d.stars[s].polytrope(hMax[s], d.p.DensMin); err != nil {
			return nil, err
		}
	}
	rho := make([]float64, len(d.rho))
	d.eachCell(func(idx, li, k, j int) {
		if s := d.owner[idx]; s >= 0 {
			rho[idx] = polys[s].Density(h[idx])
		}
	})

	diag, err := d.diagnose(ctx, rho, phi, omega2, polys)
	if err != nil {
		return nil, err
	}
	for s := range diag.mass {
		if !finite(diag.mass[s]) || diag.mass[s] <= 0 {
			return d.diverge("mass", s, diag.mass[s]), nil
		}
	}

	// Residuals.
	res := firstResiduals()
	if d.iter > 1 {
		for s, star := range d.stars {
			res.HMax[s] = relChange(hMax[s], star.HMax)
			res.Mass[s] = relChange(diag.mass[s], star.Mass)
			res.C[s] = relChange(C[s], star.C)
		}
		res.Omega2 = relChange(omega2, d.omega2)
		res.Potential = diag.dPhi
	}
	if dv := d.checkTrend(&res); dv != nil {
		return dv, nil
	}

	// The iteration is valid: commit it.
	d.rho, d.phi, d.h = rho, phi, h
	d.omega2, d.virial, d.res = omega2, diag.virial, res
	for s, star := range d.stars {
		star.HMax, star.C, star.Mass = hMax[s], C[s], diag.mass[s]
		star.CentreOfMass = diag.com[s]
		star.MeasuredInner, star.MeasuredOuter = diag.inner[s], diag.outer[s]
		star.MaxAzimuth = diag.maxJ[s]
		star.AxisOK = d.onAxis(s, diag.maxJ[s])
	}

	rec := Record{
		Iter: d.iter, Omega2: omega2,
		HMax:      [2]float64{hMax[0], hMax[1]},
		Mass:      diag.mass,
		C:         C,
		Residuals: res,
		Virial:    diag.virial,
		Sweeps:    d.solver.Sweeps,
	}
	d.history = append(d.history, rec)

	d.info("SCF iteration",
		zap.Int("iter", d.iter),
		zap.Float64("omega2", omega2),
		zap.Float64("residual", res.Max()),
		zap.Float64s("hmax", hMax),
		zap.Float64s("mass", diag.mass[:]),
		zap.Float64("virial", diag.virial),
		zap.Int("sweeps", d.solver.Sweeps),
	)
	for s, star := range d.stars {
		if !star.AxisOK {
			d.info("density maximum is off the star's axis",
				zap.Int("star", s+1), zap.Int("azimuth", star.MaxAzimuth),
			)
		}
	}

	return nil, nil
}

// checkTrend tracks every residual over the last DivergenceWindow
// iterations and reports one that has grown at each of them and ended above
// DivergenceBound, or one which is not finite.
func (d *driver) checkTrend(res *Residuals) *DivergenceError {
	var out *DivergenceError
	w := d.p.DivergenceWindow

	res.each(func(name string, star int, v float64) {
		key := fmt.Sprintf("%s/%d", name, star)
		t := append(d.trend[key], v)
		if len(t) > w+1 {
			t = t[len(t)-w-1:]
		}
		d.trend[key] = t

		if out != nil {
			return
		}
		if !finite(v) {
			out = d.diverge("residual "+name, star, v)
			return
		}
		if len(t) < w+1 || v <= d.p.DivergenceBound {
			return
		}
		for n := 1; n < len(t); n++ {
			if t[n] <= t[n-1] {
				return
			}
		}
		out = d.diverge("residual "+name, star, v)
	})

	return out
}

// onAxis returns true if azimuthal index j lies between star s's markers.
func (d *driver) onAxis(s, j int) bool {
	m := d.g.Markers
	if s == 0 {
		return m.Phi1 <= j && j <= m.Phi2
	}
	return m.Phi3 <= j && j <= m.Phi4
}
