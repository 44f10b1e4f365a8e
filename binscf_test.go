package binscf

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/phil-mansfield/binscf/grid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// smallParams is a coarse, well separated equal mass binary.
func smallParams() Params {
	p := DefaultParams()
	p.NumR, p.NumZ, p.NumPhi = 34, 18, 32
	p.NumRProcs, p.NumZProcs = 1, 1
	p.Poisson.LMax = 8
	p.Eps = 1e-3
	p.MaxIter = 150
	for s := range p.Stars {
		p.Stars[s].InnerEdge, p.Stars[s].OuterEdge = 10, 30
	}
	return p
}

// scaledParams is DefaultParams on a 34 x 34 x 64 grid, with the stars at
// the default fractions of the grid radius.
func scaledParams() Params {
	p := DefaultParams()
	p.NumR, p.NumZ, p.NumPhi = 34, 34, 64
	for s := range p.Stars {
		p.Stars[s].InnerEdge, p.Stars[s].OuterEdge = 0, 0
	}
	p.SetDefaultEdges()
	return p
}

// requireSettling fails if a residual ever rises more than 10% above the
// largest residual of the preceding window iterations.
func requireSettling(t *testing.T, history []Record, window int) {
	t.Helper()
	for i := window; i < len(history); i++ {
		prev := 0.0
		for _, rec := range history[i-window : i] {
			prev = math.Max(prev, rec.Residuals.Max())
		}
		if got := history[i].Residuals.Max(); got > 1.1*prev {
			t.Fatalf("residual rose to %g at iteration %d, previous %d "+
				"iterations peaked at %g", got, history[i].Iter, window, prev)
		}
	}
}

func TestStateString(t *testing.T) {
	table := []struct {
		s        State
		name     string
		terminal bool
	}{
		{Initializing, "Initializing", false},
		{Iterating, "Iterating", false},
		{Converged, "Converged", true},
		{MaxIterExceeded, "MaxIterExceeded", true},
		{Diverged, "Diverged", true},
		{State(17), "State(17)", false},
	}

	for i := range table {
		if table[i].s.String() != table[i].name {
			t.Errorf("%d) expected name %s, got %s", i+1, table[i].name, table[i].s)
		}
		if table[i].s.Terminal() != table[i].terminal {
			t.Errorf("%d) expected Terminal() = %v for %s",
				i+1, table[i].terminal, table[i].s)
		}
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Check())

	assert.Equal(t, 85, p.MaxIter)
	assert.Equal(t, grid.Equatorial, p.Sym)
	for s := range p.Stars {
		assert.Equal(t, 17, p.Stars[s].InnerEdge)
		assert.Equal(t, 120, p.Stars[s].OuterEdge)
		assert.Equal(t, 1.5, p.Stars[s].N)
		assert.Equal(t, 3.0, p.Stars[s].NC)
	}
}

func TestParamsCheck(t *testing.T) {
	table := []struct {
		field string
		edit  func(p *Params)
	}{
		{"", func(p *Params) {}},
		{"", func(p *Params) { p.NumRProcs, p.NumZProcs = 1, 1 }},
		{"NumRProcs", func(p *Params) { p.NumRProcs = 3 }},
		{"NumZProcs", func(p *Params) { p.NumZProcs = 5 }},
		{"NumPhi", func(p *Params) { p.NumPhi = 96 }},
		{"LowerBoundary", func(p *Params) { p.LowerZ = grid.Open }},
		{"LMax", func(p *Params) { p.Poisson.LMax = 128 }},
		{"MaxIter", func(p *Params) { p.MaxIter = 0 }},
		{"Eps", func(p *Params) { p.Eps = 0 }},
		{"Epsilon", func(p *Params) { p.Epsilon = 1 }},
		{"DensMin", func(p *Params) { p.DensMin = -1 }},
		{"SupportFactor", func(p *Params) { p.SupportFactor = 0.5 }},
		{"DivergenceWindow", func(p *Params) { p.DivergenceWindow = 0 }},
		{"Star 1 MaxDensity", func(p *Params) { p.Stars[0].MaxDensity = 1e-12 }},
		{"Star 2 InnerEdge", func(p *Params) { p.Stars[1].InnerEdge = 200 }},
		{"Star 1 OuterEdge", func(p *Params) {
			p.Stars[0].OuterEdge = p.Stars[0].InnerEdge
		}},
		{"Star 2 Shape", func(p *Params) { p.Stars[1].N = -1 }},
		{"Star", func(p *Params) {
			p.Sym = grid.PiSymmetry
			p.Stars[1].OuterEdge--
		}},
		{"", func(p *Params) { p.Sym = grid.PiSymmetry }},
	}

	for i := range table {
		p := DefaultParams()
		table[i].edit(&p)
		err := p.Check()

		if table[i].field == "" {
			if err != nil {
				t.Errorf("%d) expected no error, got %v", i+1, err)
			}
			continue
		}

		var ce *grid.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("%d) expected a ConfigError, got %v", i+1, err)
		} else if ce.Field != table[i].field {
			t.Errorf("%d) expected field %s, got %s", i+1, table[i].field, ce.Field)
		}
	}
}

func TestResiduals(t *testing.T) {
	res := firstResiduals()
	assert.Equal(t, 1.0, res.Max())

	res = Residuals{Omega2: 0.25}
	res.Mass[1] = 0.5
	assert.Equal(t, 0.5, res.Max())

	n := 0
	res.each(func(string, int, float64) { n++ })
	assert.Equal(t, 8, n)

	assert.InDelta(t, 0.5, relChange(2, 1), 1e-15)
	assert.InDelta(t, 0.1, relChange(-10, -9), 1e-15)
	assert.Equal(t, 3.0, relChange(0, 3))
}

func TestSeedDensity(t *testing.T) {
	g, err := grid.New(34, 18, 32, grid.Equatorial, grid.Wall)
	require.NoError(t, err)

	p := smallParams()
	star := newStar(&p, g, 1)
	assert.InDelta(t, (g.RCoord(10)+g.RCoord(30))/2, star.Centre, 1e-15)
	assert.InDelta(t, 0.3125, star.Radius, 1e-15)

	x, y := star.centreXY(g)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, -star.Centre, y, 1e-12)

	assert.Equal(t, 1.0, star.seedDensity(0))
	assert.InDelta(t, 0.75, star.seedDensity(star.Radius/2), 1e-15)
	assert.Equal(t, 0.0, star.seedDensity(star.Radius))
	assert.Equal(t, 0.0, star.distance(g, star.Centre, 0, g.PhiCoord(g.Axis(1))))
}

func TestCheckTrend(t *testing.T) {
	d := &driver{
		p:     Params{DivergenceWindow: 2, DivergenceBound: 1},
		trend: make(map[string][]float64),
	}

	growing := []float64{0.5, 2, 3, 4}
	for n, v := range growing {
		d.iter = n + 1
		res := Residuals{Omega2: v}
		for s := range res.Mass {
			res.Mass[s] = 0.1
		}
		dv := d.checkTrend(&res)

		// A window of 2 needs three values.
		if n < 2 {
			assert.Nil(t, dv, "iteration %d", n+1)
			continue
		}
		require.NotNil(t, dv, "iteration %d", n+1)
		assert.Equal(t, "residual omega2", dv.Quantity)
		assert.Equal(t, -1, dv.Star)
		assert.Equal(t, v, dv.Value)
		assert.Equal(t, n+1, dv.Iter)
		break
	}

	d = &driver{
		p:     Params{DivergenceWindow: 5, DivergenceBound: 1},
		trend: make(map[string][]float64),
	}
	res := Residuals{}
	res.C[1] = math.NaN()
	dv := d.checkTrend(&res)
	require.NotNil(t, dv)
	assert.Equal(t, "residual c", dv.Quantity)
	assert.Equal(t, 1, dv.Star)
}

func TestDivergenceError(t *testing.T) {
	err := &DivergenceError{Quantity: "hmax", Star: 1, Value: -2, Iter: 7}
	assert.Equal(t,
		"SCF iteration diverged at iteration 7: hmax of star 2 = -2", err.Error())
	err = &DivergenceError{Quantity: "omega2", Star: -1, Value: 0, Iter: 3}
	assert.Equal(t,
		"SCF iteration diverged at iteration 3: omega2 = 0", err.Error())
}

func TestRecordRow(t *testing.T) {
	rec := Record{Iter: 4, Omega2: 0.5, Virial: 0.01, Sweeps: 120}
	rec.Residuals.HMax = [2]float64{0.1, 0.3}
	row := rec.Row()
	require.Len(t, row, len(HistoryColumns))
	assert.Equal(t, 4.0, row[0])
	assert.Equal(t, 0.3, row[8])
	assert.Equal(t, 120.0, row[len(row)-1])
}

func TestRunRejectsBadProcs(t *testing.T) {
	p := smallParams()
	p.NumRProcs = 3

	res, err := Run(context.Background(), p, Options{})
	assert.Nil(t, res)
	var ce *grid.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "NumRProcs", ce.Field)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := smallParams()
	p.NumRProcs, p.NumZProcs = 2, 2
	res, err := Run(ctx, p, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, MaxIterExceeded, res.State)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 0, res.Iterations)
	assert.Empty(t, res.History)
	assert.Len(t, res.Density, res.Grid.Len())
}

func TestProcessGridInvariance(t *testing.T) {
	run := func(nr, nz int) *Result {
		p := smallParams()
		p.NumRProcs, p.NumZProcs = nr, nz
		p.MaxIter = 3
		res, err := Run(context.Background(), p, Options{})
		require.NoError(t, err)
		require.Equal(t, MaxIterExceeded, res.State)
		return res
	}

	serial, parallel := run(1, 1), run(2, 2)
	require.Equal(t, 3, parallel.Iterations)

	scale := 0.0
	for _, x := range serial.Potential {
		scale = math.Max(scale, math.Abs(x))
	}
	for idx := range serial.Density {
		if math.Abs(serial.Density[idx]-parallel.Density[idx]) > 1e-7 {
			t.Fatalf("density differs at %d: %g vs %g",
				idx, serial.Density[idx], parallel.Density[idx])
		}
		if math.Abs(serial.Potential[idx]-parallel.Potential[idx]) > 1e-7*scale {
			t.Fatalf("potential differs at %d: %g vs %g",
				idx, serial.Potential[idx], parallel.Potential[idx])
		}
	}
	assert.InDelta(t, serial.Omega2, parallel.Omega2, 1e-7*serial.Omega2)
}

func TestSmallBinary(t *testing.T) {
	if testing.Short() {
		t.Skip("full SCF run")
	}

	p := smallParams()
	p.NumRProcs, p.NumZProcs = 2, 2
	res, err := Run(context.Background(), p, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	require.Equal(t, Converged, res.State)
	assert.False(t, res.Cancelled)
	assert.Len(t, res.History, res.Iterations)
	assert.Less(t, res.History[len(res.History)-1].Residuals.Max(), p.Eps)
	assert.Greater(t, res.Omega2, 0.0)
	assert.InDelta(t, 1, res.MassRatio, 1e-6)
	requireSettling(t, res.History, 5)

	for s, star := range res.Stars {
		assert.Greater(t, star.Mass, 0.0, "star %d", s+1)
		assert.Greater(t, star.HMax, 0.0, "star %d", s+1)
		assert.True(t, star.AxisOK, "star %d peaks at %d", s+1, star.MaxAzimuth)
		assert.Greater(t, star.MeasuredOuter, star.MeasuredInner, "star %d", s+1)
	}
	// The stars sit on opposite sides of the y axis.
	assert.Greater(t, res.Stars[0].CentreOfMass[1], 0.0)
	assert.Less(t, res.Stars[1].CentreOfMass[1], 0.0)

	// Reflection through the y-z plane maps phi to pi - phi.
	g := res.Grid
	for i := g.R.Lo; i <= g.R.Hi; i++ {
		for k := g.Z.Lo; k <= g.Z.Hi; k++ {
			for j := 0; j < g.NumPhi; j++ {
				m := (g.NumPhi/2 - j + g.NumPhi) % g.NumPhi
				a, b := res.Density[g.Idx(i, k, j)], res.Density[g.Idx(i, k, m)]
				if math.Abs(a-b) > 1e-8 {
					t.Fatalf("density not symmetric at (%d, %d, %d): %g vs %g",
						i, k, j, a, b)
				}
				a, b = res.Potential[g.Idx(i, k, j)], res.Potential[g.Idx(i, k, m)]
				if math.Abs(a-b) > 1e-8*math.Abs(a) {
					t.Fatalf("potential not symmetric at (%d, %d, %d): %g vs %g",
						i, k, j, a, b)
				}
			}
		}
	}
}

func TestReferenceBinary(t *testing.T) {
	if testing.Short() {
		t.Skip("130 x 130 x 256 SCF run")
	}

	p := DefaultParams()
	res, err := Run(context.Background(), p, Options{})
	require.NoError(t, err)
	require.Equal(t, Converged, res.State)
	assert.LessOrEqual(t, res.Iterations, p.MaxIter)
	assert.InDelta(t, 1, res.MassRatio, p.Eps)
	assert.Greater(t, res.Omega2, 0.0)
	requireSettling(t, res.History, 5)
}

func TestScaledReferenceBinary(t *testing.T) {
	p := scaledParams()
	require.Equal(t, 5, p.Stars[0].InnerEdge)
	require.Equal(t, 30, p.Stars[0].OuterEdge)

	res, err := Run(context.Background(), p, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.Equal(t, Converged, res.State)
	assert.LessOrEqual(t, res.Iterations, p.MaxIter)
	assert.Less(t, res.History[len(res.History)-1].Residuals.Max(), p.Eps)
	assert.InDelta(t, 1, res.MassRatio, p.Eps)
	assert.Greater(t, res.Omega2, 0.0)
	requireSettling(t, res.History, 5)
	for s, star := range res.Stars {
		assert.True(t, star.AxisOK, "star %d peaks at %d", s+1, star.MaxAzimuth)
	}
}

func TestRunDiverged(t *testing.T) {
	// With the inner edge this far out there is no equilibrium, and the
	// rotation rate falls through zero.
	p := smallParams()
	for s := range p.Stars {
		p.Stars[s].InnerEdge = 14
	}

	res, err := Run(context.Background(), p, Options{})
	var div *DivergenceError
	require.True(t, errors.As(err, &div), "got %v", err)
	require.NotNil(t, res)
	assert.Equal(t, Diverged, res.State)
	assert.Equal(t, div.Iter, res.Iterations)
	assert.Len(t, res.History, res.Iterations-1)
	assert.Len(t, res.Density, res.Grid.Len())
}
