package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalid(t *testing.T) {
	table := []struct {
		numr, numz, numphi int
		sym                Symmetry
		lowerZ             Boundary
		field              string
	}{
		{130, 130, 250, Equatorial, Wall, "NumPhi"},
		{130, 130, 4, Equatorial, Wall, "NumPhi"},
		{3, 130, 256, Equatorial, Wall, "NumR"},
		{130, 2, 256, Equatorial, Wall, "NumZ"},
		{130, 130, 256, Equatorial, Open, "LowerBoundary"},
		{130, 130, 256, PiSymmetry, Open, "LowerBoundary"},
		{130, 130, 256, NoSymmetry, Wall, "LowerBoundary"},
		{130, 131, 256, NoSymmetry, Open, "NumZ"},
		{130, 130, 256, Symmetry(4), Wall, "Symmetry"},
	}

	for i, test := range table {
		_, err := New(test.numr, test.numz, test.numphi, test.sym, test.lowerZ)
		var cerr *ConfigError
		if !errors.As(err, &cerr) {
			t.Errorf("%d) expected a ConfigError, got %v", i+1, err)
			continue
		}
		assert.Equal(t, test.field, cerr.Field, "%d) wrong field", i+1)
	}
}

func TestNewRanges(t *testing.T) {
	g, err := New(130, 130, 256, Equatorial, Wall)
	require.NoError(t, err)

	assert.Equal(t, Range{1, 128}, g.R)
	assert.Equal(t, Range{1, 128}, g.Z)
	assert.Equal(t, Range{0, 255}, g.Phi)
	assert.Equal(t, 128, g.R.Len())

	assert.Equal(t, Markers{63, 65, 191, 193}, g.Markers)
	assert.Equal(t, 64, g.Axis(0))
	assert.Equal(t, 192, g.Axis(1))
	assert.InDelta(t, math.Pi/2, g.PhiCoord(g.Axis(0)), 1e-12)
	assert.InDelta(t, 3*math.Pi/2, g.PhiCoord(g.Axis(1)), 1e-12)
}

func TestCoordinates(t *testing.T) {
	g, err := New(10, 10, 8, Equatorial, Wall)
	require.NoError(t, err)

	assert.InDelta(t, -g.DR/2, g.RCoord(0), 1e-15)
	assert.InDelta(t, g.DR/2, g.RCoord(1), 1e-15)
	assert.InDelta(t, 1-g.DR/2, g.RCoord(g.R.Hi), 1e-15)
	assert.InDelta(t, g.DZ/2, g.ZCoord(g.Equator()), 1e-15)

	mk, ok := g.Mirror(0)
	assert.True(t, ok)
	assert.Equal(t, 1, mk)
	assert.InDelta(t, -g.ZCoord(mk), g.ZCoord(0), 1e-15)

	h, err := New(10, 10, 8, NoSymmetry, Open)
	require.NoError(t, err)
	for k := 0; k < h.NumZ; k++ {
		assert.InDelta(t, -h.ZCoord(k), h.ZCoord(h.NumZ-1-k), 1e-15)
	}
	_, ok = h.Mirror(0)
	assert.False(t, ok)
	assert.Equal(t, 1.0, h.VolumeWeight())
	assert.Equal(t, 2.0, g.VolumeWeight())
}

func TestSolved(t *testing.T) {
	g, err := New(6, 6, 8, Equatorial, Wall)
	require.NoError(t, err)

	table := []struct {
		i, k int
		res  bool
	}{
		{0, 1, false},
		{1, 0, false},
		{1, 1, true},
		{4, 4, true},
		{5, 4, false},
		{4, 5, false},
	}
	for i, test := range table {
		if g.Solved(test.i, test.k) != test.res {
			t.Errorf("%d) Solved(%d, %d) != %v", i+1, test.i, test.k, test.res)
		}
	}
}

func TestHalf(t *testing.T) {
	g, err := New(6, 6, 16, Equatorial, Wall)
	require.NoError(t, err)

	assert.Equal(t, -1, g.Half(0))
	assert.Equal(t, -1, g.Half(8))
	for j := 1; j < 8; j++ {
		assert.Equal(t, 0, g.Half(j))
		assert.Equal(t, 1, g.Half(j+8))
	}
}

func TestIdxCoords(t *testing.T) {
	g, err := New(6, 8, 16, Equatorial, Wall)
	require.NoError(t, err)

	for idx := 0; idx < g.Len(); idx++ {
		i, k, j := g.Coords(idx)
		if g.Idx(i, k, j) != idx {
			t.Fatalf("Idx(Coords(%d)) = %d", idx, g.Idx(i, k, j))
		}
	}
}
