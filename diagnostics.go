package binscf

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/phil-mansfield/binscf/comm"
	"github.com/phil-mansfield/binscf/eos"
)

// diagnostics are the global integrals and extrema of one iteration.
type diagnostics struct {
	mass         [2]float64
	com          [2][2]float64
	inner, outer [2]float64
	maxJ         [2]int
	// dPhi is max |phi - phi_prev| / max |phi|.
	dPhi   float64
	virial float64
}

// Layout of the summed diagnostics vector.
const (
	sumMass0 = iota
	sumMass1
	sumMX0
	sumMY0
	sumMX1
	sumMY1
	sumW
	sumT
	sumPi
	numSums
)

// Layout of the maximised diagnostics vector.
const (
	maxDPhi = iota
	maxPhi
	maxRho0
	maxRho1
	maxOuter0
	maxOuter1
	maxNegInner0
	maxNegInner1
	numMaxes
)

// diagnose computes the global diagnostics of a new density and potential.
// Every rank must call it together.
func (d *driver) diagnose(
	ctx context.Context, rho, phi []float64, omega2 float64, polys [2]eos.Polytrope,
) (*diagnostics, error) {
	g := d.g
	sums := make([]float64, numSums)
	maxes := make([]float64, numMaxes)
	for i := range maxes {
		maxes[i] = math.Inf(-1)
	}

	maxes[maxPhi] = floats.Norm(phi, math.Inf(1))
	if d.phi != nil {
		maxes[maxDPhi] = floats.Distance(phi, d.phi, math.Inf(1))
	}

	eq := g.Equator()
	threshold := [2]float64{
		d.p.Epsilon * d.stars[0].MaxDensity,
		d.p.Epsilon * d.stars[1].MaxDensity,
	}

	d.eachCell(func(idx, li, k, j int) {
		dV, r := d.dV[li], d.r[li]
		rdV := rho[idx] * dV

		sums[sumW] += 0.5 * rdV * phi[idx]
		s := d.owner[idx]
		if s < 0 {
			return
		}

		sums[sumMass0+s] += rdV
		sums[sumMX0+2*s] += rdV * r * d.cosPhi[j]
		sums[sumMY0+2*s] += rdV * r * d.sinPhi[j]
		sums[sumT] += 0.5 * omega2 * rdV * r * r
		sums[sumPi] += polys[s].Pressure(rho[idx]) * dV

		maxes[maxRho0+s] = math.Max(maxes[maxRho0+s], rho[idx])
		if k == eq && j == g.Axis(int(s)) && rho[idx] >= threshold[s] {
			i := float64(d.b.I0 + li)
			maxes[maxOuter0+s] = math.Max(maxes[maxOuter0+s], i)
			maxes[maxNegInner0+s] = math.Max(maxes[maxNegInner0+s], -i)
		}
	})

	if err := comm.AllreduceSum(ctx, d.c, sums); err != nil {
		return nil, err
	}
	if err := comm.AllreduceMax(ctx, d.c, maxes); err != nil {
		return nil, err
	}

	// Azimuth of each density peak. Ties go to the lowest index.
	peaks := []float64{math.Inf(-1), math.Inf(-1)}
	d.eachCell(func(idx, li, k, j int) {
		s := d.owner[idx]
		if s < 0 || rho[idx] != maxes[maxRho0+s] {
			return
		}
		if peaks[s] == math.Inf(-1) || -float64(j) > peaks[s] {
			peaks[s] = -float64(j)
		}
	})
	if err := comm.AllreduceMax(ctx, d.c, peaks); err != nil {
		return nil, err
	}

	diag := &diagnostics{}
	for s := 0; s < 2; s++ {
		m := sums[sumMass0+s]
		diag.mass[s] = m
		if m > 0 {
			diag.com[s] = [2]float64{sums[sumMX0+2*s] / m, sums[sumMY0+2*s] / m}
		}
		if outer := maxes[maxOuter0+s]; outer > 0 {
			diag.outer[s] = g.RCoord(int(outer))
			diag.inner[s] = g.RCoord(int(-maxes[maxNegInner0+s]))
		}
		diag.maxJ[s] = -1
		if !math.IsInf(peaks[s], -1) {
			diag.maxJ[s] = int(-peaks[s])
		}
	}

	if d.phi != nil && maxes[maxPhi] > 0 {
		diag.dPhi = maxes[maxDPhi] / maxes[maxPhi]
	}

	W, T, Pi := sums[sumW], sums[sumT], sums[sumPi]
	diag.virial = math.Abs(2*T+W+3*Pi) / math.Abs(W)

	return diag, nil
}

// result gathers the fields of the last valid iteration onto comm.Root.
// Every other rank gets nil.
func (d *driver) result(ctx context.Context) (*Result, error) {
	n := d.b.Len()
	fields := [][]float64{d.rho, d.h, d.phi}
	global := make([][]float64, len(fields))
	for f, field := range fields {
		if field == nil {
			field = make([]float64, n)
		}
		var err error
		if global[f], err = d.lay.Gather(ctx, d.c, field); err != nil {
			return nil, err
		}
	}
	if d.c.Rank() != comm.Root {
		return nil, nil
	}

	res := &Result{
		State:      d.state,
		Iterations: d.iter,
		Cancelled:  d.cancelled,
		Params:     d.p,
		Grid:       d.g,
		Omega2:     d.omega2,
		Virial:     d.virial,
		History:    d.history,
		Density:    global[0],
		Enthalpy:   global[1],
		Potential:  global[2],
	}
	for s, star := range d.stars {
		res.Stars[s] = *star
	}
	if m := res.Stars[0].Mass; m > 0 {
		res.MassRatio = res.Stars[1].Mass / m
	}
	return res, nil
}
