package io

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/phil-mansfield/binscf"
	"github.com/phil-mansfield/binscf/grid"
)

func TestExampleConfig(t *testing.T) {
	con, err := ReadConfigString(ExampleConfigFile)
	require.NoError(t, err)

	p, err := con.Params()
	require.NoError(t, err)
	assert.Equal(t, binscf.DefaultParams(), p)
	assert.Equal(t, "path/to/output/dir", con.Output.Dir)
	assert.False(t, con.Output.ValidLogFile())
}

func TestReadConfigFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "run.cfg")
	require.NoError(t, os.WriteFile(fname, []byte(ExampleConfigFile), 0644))

	con, err := ReadConfig(fname)
	require.NoError(t, err)
	assert.Equal(t, 256, con.Grid.NumPhi)

	_, err = ReadConfig(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
}

const minimalConfig = `[Grid]
NumR = 34
NumZ = 34
NumPhi = 64
Symmetry = 1

[Procs]
NumRProcs = 1
NumZProcs = 1

[Numerics]
MaxIter = 10
Eps = 1e-3
Epsilon = 1e-5
DensMin = 0

[Star "1"]
N = 1
NC = 3
Mu = 1
MuC = 2
InnerEdge = 14
OuterEdge = 30

[Star "2"]
N = 1
NC = 3
Mu = 1
MuC = 2
CoreFraction = 0.5

[Output]
Dir = out
`

func TestMinimalConfig(t *testing.T) {
	con, err := ReadConfigString(minimalConfig)
	require.NoError(t, err)
	p, err := con.Params()
	require.NoError(t, err)

	assert.Equal(t, grid.NoSymmetry, p.Sym)
	assert.Equal(t, grid.Open, p.LowerZ)
	assert.Equal(t, 1, p.NumRProcs)
	assert.Equal(t, 1, p.NumZProcs)
	assert.Equal(t, 0.0, p.DensMin)
	assert.Equal(t, 14, p.Stars[0].InnerEdge)
	assert.Equal(t, 30, p.Stars[0].OuterEdge)
	assert.Equal(t, 1+32/8, p.Stars[1].InnerEdge)
	assert.Equal(t, 32-32/16, p.Stars[1].OuterEdge)
	assert.Equal(t, 0.5, p.Stars[1].CoreFraction)
	assert.Equal(t, 1.0, p.Stars[0].CoreFraction)
	assert.Equal(t, 16, p.Poisson.LMax)
}

func TestCheckInit(t *testing.T) {
	table := []struct {
		edit   func(text string) string
		errors []string
	}{
		{func(s string) string { return s }, nil},
		{
			func(s string) string {
				s = strings.Replace(s, "NumR = 34\n", "", 1)
				return strings.Replace(s, "Dir = out\n", "", 1)
			},
			[]string{"NumR", "[Output]"},
		},
		{
			func(s string) string {
				s = strings.Replace(s, "MaxIter = 10\n", "", 1)
				s = strings.Replace(s, "Eps = 1e-3\n", "", 1)
				return strings.Replace(s, "Symmetry = 1\n", "", 1)
			},
			[]string{"Symmetry", "MaxIter", "Eps"},
		},
		{
			func(s string) string {
				s = strings.Replace(s, "NumRProcs = 1\n", "", 1)
				return strings.Replace(s, "NumZProcs = 1\n", "", 1)
			},
			[]string{"NumRProcs", "NumZProcs"},
		},
		{
			func(s string) string { return strings.Replace(s, "DensMin = 0\n", "", 1) },
			[]string{"DensMin"},
		},
		{
			func(s string) string {
				return s + "\n[Star \"3\"]\nN = 1\nNC = 1\nMu = 1\nMuC = 1\n"
			},
			[]string{`"3"`},
		},
		{
			func(s string) string {
				return strings.Replace(s, "Symmetry = 1\n",
					"Symmetry = 1\nLowerBoundary = floor\n", 1)
			},
			[]string{"floor"},
		},
		{
			func(s string) string {
				return strings.Replace(s, "N = 1\nNC = 3", "N = 0\nNC = 3", 1)
			},
			[]string{"Star '1'"},
		},
	}

	for i := range table {
		_, err := ReadConfigString(table[i].edit(minimalConfig))
		if table[i].errors == nil {
			if err != nil {
				t.Errorf("%d) expected no error, got %v", i+1, err)
			}
			continue
		}

		if err == nil {
			t.Errorf("%d) expected an error", i+1)
			continue
		}
		errs := multierr.Errors(err)
		if len(errs) != len(table[i].errors) {
			t.Errorf("%d) expected %d errors, got %d: %v",
				i+1, len(table[i].errors), len(errs), err)
		}
		for _, want := range table[i].errors {
			if !strings.Contains(err.Error(), want) {
				t.Errorf("%d) expected error to mention %s, got %v", i+1, want, err)
			}
		}
	}
}

func TestCheckInitParams(t *testing.T) {
	table := []struct {
		from, to string
		field    string
	}{
		{"NumPhi = 64", "NumPhi = 48", "NumPhi"},
		{"NumZ = 34", "NumZ = 33", "NumZ"},
		{"OuterEdge = 30", "OuterEdge = 10", "Star 1 OuterEdge"},
		{"NumRProcs = 1", "NumRProcs = 3", "NumRProcs"},
		{"[Output]", "[Poisson]\nLMax = 32\n\n[Output]", "LMax"},
	}

	for i := range table {
		text := strings.Replace(minimalConfig, table[i].from, table[i].to, 1)
		_, err := ReadConfigString(text)

		var ce *grid.ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("%d) expected a ConfigError, got %v", i+1, err)
		} else if ce.Field != table[i].field {
			t.Errorf("%d) expected field %s, got %s", i+1, table[i].field, ce.Field)
		}
	}
}
