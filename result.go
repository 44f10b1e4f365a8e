package binscf

import (
	"fmt"

	"github.com/phil-mansfield/binscf/grid"
)

// Record is one row of the residual history.
type Record struct {
	Iter      int
	Omega2    float64
	HMax      [2]float64
	Mass      [2]float64
	C         [2]float64
	Residuals Residuals
	Virial    float64
	Sweeps    int
}

// HistoryColumns names the columns of Record.Row, in order.
var HistoryColumns = []string{
	"iter", "omega2", "hmax1", "hmax2", "mass1", "mass2", "c1", "c2",
	"res_hmax", "res_mass", "res_c", "res_omega2", "res_potential",
	"virial", "sweeps",
}

// Row flattens a record into the history table's columns. Per-star
// residuals are reduced to the larger of the two.
func (rec *Record) Row() []float64 {
	r := &rec.Residuals
	max2 := func(x [2]float64) float64 {
		if x[0] > x[1] {
			return x[0]
		}
		return x[1]
	}
	return []float64{
		float64(rec.Iter), rec.Omega2,
		rec.HMax[0], rec.HMax[1], rec.Mass[0], rec.Mass[1], rec.C[0], rec.C[1],
		max2(r.HMax), max2(r.Mass), max2(r.C), r.Omega2, r.Potential,
		rec.Virial, float64(rec.Sweeps),
	}
}

// Result is the outcome of an SCF run. The fields are full grid arrays,
// indexed by grid.Idx, holding the last valid iteration.
//
// Only a Converged Result is an equilibrium. A Diverged Result holds the
// iteration before the divergence was detected, for diagnosis; it is not a
// solution and should not be used as one.
type Result struct {
	State      State
	Iterations int
	// Cancelled is true if the run stopped early because its context ended.
	Cancelled bool

	Params Params
	Grid   *grid.Grid

	Stars  [2]Star
	Omega2 float64
	// Virial is |2T + W + 3 Pi| / |W|.
	Virial float64
	// MassRatio is M2 / M1.
	MassRatio float64

	History []Record

	Density, Enthalpy, Potential []float64
}

// DivergenceError reports a physically inconsistent configuration. Star is
// -1 for quantities which do not belong to a single star.
type DivergenceError struct {
	Quantity string
	Star     int
	Value    float64
	Iter     int
}

func (e *DivergenceError) Error() string {
	if e.Star < 0 {
		return fmt.Sprintf(
			"SCF iteration diverged at iteration %d: %s = %g",
			e.Iter, e.Quantity, e.Value,
		)
	}
	return fmt.Sprintf(
		"SCF iteration diverged at iteration %d: %s of star %d = %g",
		e.Iter, e.Quantity, e.Star+1, e.Value,
	)
}
