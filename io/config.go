package io

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"gopkg.in/gcfg.v1"

	"github.com/phil-mansfield/binscf"
	"github.com/phil-mansfield/binscf/eos"
	"github.com/phil-mansfield/binscf/grid"
	"github.com/phil-mansfield/binscf/poisson"
)

const (
	ExampleConfigFile = `# This file describes a single SCF run: two rotating polytropes relaxed into
# a self-consistent binary. The values below are those of the reference equal
# mass n = 1.5 binary.

[Grid]

#######################
# Required Parameters #
#######################

# Number of cells in r, z and phi, including one boundary cell on each side
# of r and z. The grid spans 0 < r < 1. NumPhi must be a power of two.
NumR = 130
NumZ = 130
NumPhi = 256

# Symmetry can be set to one of:
# [ 1 | 2 | 3 ]
# 1 is no symmetry, 2 is symmetry through the equatorial plane and 3 is
# equatorial symmetry plus symmetry under a rotation by pi. 3 requires two
# identical stars.
Symmetry = 2

#######################
# Optional Parameters #
#######################

# The boundary at the bottom of the grid. [ wall | open ]. Symmetries 2 and 3
# need a wall, symmetry 1 needs an open boundary. Defaults to whichever the
# symmetry needs.
# LowerBoundary = wall

[Procs]

# The grid is split over NumRProcs x NumZProcs ranks. Both must be even and
# at least 2, unless both are 1. NumRProcs must divide NumR - 2 and NumPhi,
# NumZProcs must divide NumZ - 2 and NumR - 2.
NumRProcs = 2
NumZProcs = 2

[Numerics]

# Maximum number of SCF iterations.
MaxIter = 85
# A run has converged when every residual is below Eps.
Eps = 1e-4
# Density, relative to MaxDensity, which marks the surface of a star.
Epsilon = 1e-5
# Density floor inside a star.
DensMin = 1e-10

# Radius of the sphere outside of which a star's density is always zero, in
# units of its initial radius.
# SupportFactor = 1.25

# A run is stopped as diverged if a residual grows for DivergenceWindow
# iterations in a row and ends above DivergenceBound.
# DivergenceWindow = 5
# DivergenceBound = 1

[Poisson]

# Gravitational constant.
Grav = 1

# Stopping criterion of the potential solve: the largest change during a
# sweep relative to the largest potential value.
# Tolerance = 1e-10
# MaxSweeps = 20000

# Highest multipole order used for the boundary potential. Must be smaller
# than NumPhi / 2.
# LMax = 16

# Over-relaxation factor. Computed from NumR if not set.
# Omega = 1.9

[Star "1"]

# Envelope and core polytropic indices and mean molecular weights.
N = 1.5
NC = 3
Mu = 1
MuC = 2

# Ratio of the core/envelope interface enthalpy to the central enthalpy. The
# default, 1, gives a star without a core.
# CoreFraction = 1

# Central density.
# MaxDensity = 1

# Radial cell indices of the star's inner and outer equatorial edges on its
# axis. These hold the surface in place. Default to 1 + (NumR-2)/8 and
# (NumR-2) - (NumR-2)/16.
# InnerEdge = 17
# OuterEdge = 120

[Star "2"]

N = 1.5
NC = 3
Mu = 1
MuC = 2

[Output]

# Directory that density.bin, summary.yaml and history.txt are written to.
Dir = path/to/output/dir

# Output files which are useful for profiling and debugging. Generally, there
# isn't a reason to use these unless something goes wrong.
# ProfileFile = prof.out
# LogFile = log.out

# Log every rank, not just rank 0.
# Verbose = false

# Skip writing the binary field file.
# SkipFields = false`
)

type GridConfig struct {
	// Required
	NumR, NumZ, NumPhi int
	Symmetry           int

	// Optional
	LowerBoundary string
}

type ProcsConfig struct {
	NumRProcs, NumZProcs int
}

type NumericsConfig struct {
	// Required
	MaxIter               int
	Eps, Epsilon, DensMin float64

	// Optional
	SupportFactor    float64
	DivergenceWindow int
	DivergenceBound  float64
}

type PoissonConfig struct {
	Grav, Tolerance float64
	MaxSweeps, LMax int
	Omega           float64
}

type StarConfig struct {
	// Required
	N, NC, Mu, MuC float64

	// Optional
	CoreFraction, MaxDensity float64
	InnerEdge, OuterEdge     int
}

type OutputConfig struct {
	// Required
	Dir string

	// Optional
	LogFile, ProfileFile string
	Verbose, SkipFields  bool
}

func (con *OutputConfig) ValidLogFile() bool     { return con.LogFile != "" }
func (con *OutputConfig) ValidProfileFile() bool { return con.ProfileFile != "" }

// Config is the contents of a run's configuration file.
type Config struct {
	Grid     GridConfig
	Procs    ProcsConfig
	Numerics NumericsConfig
	Poisson  PoissonConfig
	Star     map[string]*StarConfig
	Output   OutputConfig
}

var starNames = []string{"1", "2"}

// DefaultConfig returns a Config with every optional parameter set. Required
// parameters are left at zero, except DensMin, which is negative until set.
func DefaultConfig() *Config {
	p := binscf.DefaultParams()

	con := &Config{
		Numerics: NumericsConfig{
			DensMin:          -1,
			SupportFactor:    p.SupportFactor,
			DivergenceWindow: p.DivergenceWindow,
			DivergenceBound:  p.DivergenceBound,
		},
		Poisson: PoissonConfig{
			Grav:      p.Poisson.Grav,
			Tolerance: p.Poisson.Tolerance,
			MaxSweeps: p.Poisson.MaxSweeps,
			LMax:      p.Poisson.LMax,
		},
		Star: map[string]*StarConfig{},
	}
	for _, name := range starNames {
		con.Star[name] = &StarConfig{CoreFraction: 1, MaxDensity: 1}
	}
	return con
}

// ReadConfig reads and validates the configuration file fname.
func ReadConfig(fname string) (*Config, error) {
	con := DefaultConfig()
	if err := gcfg.ReadFileInto(con, fname); err != nil {
		return nil, err
	}
	if err := con.CheckInit(); err != nil {
		return nil, err
	}
	return con, nil
}

// ReadConfigString is ReadConfig for a configuration held in memory.
func ReadConfigString(text string) (*Config, error) {
	con := DefaultConfig()
	if err := gcfg.ReadStringInto(con, text); err != nil {
		return nil, err
	}
	if err := con.CheckInit(); err != nil {
		return nil, err
	}
	return con, nil
}

func missing(section, field string) error {
	return fmt.Errorf("Need to specify a positive %s in the [%s] section.", field, section)
}

// CheckInit validates con. Every problem found is reported in the returned
// error, not just the first.
func (con *Config) CheckInit() error {
	var errs error

	if con.Grid.NumR <= 0 {
		errs = multierr.Append(errs, missing("Grid", "NumR"))
	}
	if con.Grid.NumZ <= 0 {
		errs = multierr.Append(errs, missing("Grid", "NumZ"))
	}
	if con.Grid.NumPhi <= 0 {
		errs = multierr.Append(errs, missing("Grid", "NumPhi"))
	}
	if con.Grid.Symmetry == 0 {
		errs = multierr.Append(errs, fmt.Errorf(
			"Need to specify Symmetry in the [Grid] section.",
		))
	}
	if con.Grid.LowerBoundary != "" {
		if _, err := grid.ParseBoundary(con.Grid.LowerBoundary); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if con.Procs.NumRProcs <= 0 {
		errs = multierr.Append(errs, missing("Procs", "NumRProcs"))
	}
	if con.Procs.NumZProcs <= 0 {
		errs = multierr.Append(errs, missing("Procs", "NumZProcs"))
	}

	if con.Numerics.MaxIter <= 0 {
		errs = multierr.Append(errs, missing("Numerics", "MaxIter"))
	}
	if con.Numerics.Eps <= 0 {
		errs = multierr.Append(errs, missing("Numerics", "Eps"))
	}
	if con.Numerics.Epsilon <= 0 {
		errs = multierr.Append(errs, missing("Numerics", "Epsilon"))
	}
	if con.Numerics.DensMin < 0 {
		errs = multierr.Append(errs, fmt.Errorf(
			"Need to specify a non-negative DensMin in the [Numerics] section.",
		))
	}

	names := make([]string, 0, len(con.Star))
	for name := range con.Star {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name != "1" && name != "2" {
			errs = multierr.Append(errs, fmt.Errorf(
				"Star sections must be named \"1\" or \"2\", but one is named %q.",
				name,
			))
			continue
		}
		star := con.Star[name]
		if star.N <= 0 || star.NC <= 0 || star.Mu <= 0 || star.MuC <= 0 {
			errs = multierr.Append(errs, fmt.Errorf(
				"Need to specify positive N, NC, Mu and MuC for Star '%s'.", name,
			))
		}
	}

	if con.Output.Dir == "" {
		errs = multierr.Append(errs, fmt.Errorf(
			"Need to specify Dir in the [Output] section.",
		))
	}

	if errs != nil {
		return errs
	}

	p, err := con.Params()
	if err != nil {
		return err
	}
	return p.Check()
}

// Params converts con into the solver's parameters. The returned value is a
// copy and does not alias con.
func (con *Config) Params() (binscf.Params, error) {
	sym := grid.Symmetry(con.Grid.Symmetry)

	lower := grid.Open
	if sym.Mirrored() {
		lower = grid.Wall
	}
	if con.Grid.LowerBoundary != "" {
		var err error
		if lower, err = grid.ParseBoundary(con.Grid.LowerBoundary); err != nil {
			return binscf.Params{}, err
		}
	}

	p := binscf.Params{
		NumR: con.Grid.NumR, NumZ: con.Grid.NumZ, NumPhi: con.Grid.NumPhi,
		Sym: sym, LowerZ: lower,
		NumRProcs: con.Procs.NumRProcs, NumZProcs: con.Procs.NumZProcs,

		MaxIter: con.Numerics.MaxIter,
		Eps:     con.Numerics.Eps,
		Epsilon: con.Numerics.Epsilon,
		DensMin: con.Numerics.DensMin,

		Poisson: poisson.Params{
			Grav:      con.Poisson.Grav,
			Tolerance: con.Poisson.Tolerance,
			MaxSweeps: con.Poisson.MaxSweeps,
			LMax:      con.Poisson.LMax,
			Omega:     con.Poisson.Omega,
		},

		SupportFactor:    con.Numerics.SupportFactor,
		DivergenceWindow: con.Numerics.DivergenceWindow,
		DivergenceBound:  con.Numerics.DivergenceBound,
	}

	for s, name := range starNames {
		star, ok := con.Star[name]
		if !ok {
			return binscf.Params{}, fmt.Errorf("No [Star \"%s\"] section.", name)
		}
		p.Stars[s] = binscf.StarParams{
			Shape: eos.Shape{
				N: star.N, NC: star.NC, Mu: star.Mu, MuC: star.MuC,
				CoreFraction: star.CoreFraction, MaxDensity: star.MaxDensity,
			},
			InnerEdge: star.InnerEdge,
			OuterEdge: star.OuterEdge,
		}
	}
	p.SetDefaultEdges()

	return p, nil
}
