package io

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/phil-mansfield/table"
	"gopkg.in/yaml.v3"

	"github.com/phil-mansfield/binscf"
)

var end = binary.LittleEndian

/*
The binary format used for field files is as follows:

	|-- 1 --||-- 2 --||-- ... 3 ... --||-- ... 4 ... --|

	1 - (int64) Flag indicating the endianness of the file. 0 indicates a big
	    endian byte ordering and -1 indicates a little endian byte order.
	2 - (int64) Size of the full FieldsHeader in bytes.
	3 - The rest of the FieldsHeader.
	4 - ([]float64) Density, enthalpy and potential, one after the other,
	    each NumR * NumZ * NumPhi values in the order given by grid.Idx.
*/
type FieldsHeader struct {
	Type FieldsType
	Grid GridInfo
	Run  RunInfo
}

type FieldsType struct {
	Endianness int64
	HeaderSize int64
	Fields     int64
}

type GridInfo struct {
	NumR, NumZ, NumPhi, Symmetry int64
	DR, DZ, DPhi                 float64
}

type RunInfo struct {
	ID         [16]byte
	State      int64
	Iterations int64
	Omega2     float64
	Mass       [2]float64
}

// FieldNames are the fields of a field file, in order.
var FieldNames = []string{"density", "enthalpy", "potential"}

func newFieldsHeader(id uuid.UUID, res *binscf.Result) *FieldsHeader {
	var endFlag int64
	if end == binary.LittleEndian {
		endFlag = -1
	}

	g := res.Grid
	hd := &FieldsHeader{}
	hd.Type.Endianness = endFlag
	hd.Type.HeaderSize = int64(binary.Size(hd))
	hd.Type.Fields = int64(len(FieldNames))

	hd.Grid = GridInfo{
		NumR: int64(g.NumR), NumZ: int64(g.NumZ), NumPhi: int64(g.NumPhi),
		Symmetry: int64(g.Sym),
		DR:       g.DR, DZ: g.DZ, DPhi: g.DPhi,
	}

	hd.Run.ID = id
	hd.Run.State = int64(res.State)
	hd.Run.Iterations = int64(res.Iterations)
	hd.Run.Omega2 = res.Omega2
	hd.Run.Mass = [2]float64{res.Stars[0].Mass, res.Stars[1].Mass}
	return hd
}

// WriteFields writes the final density, enthalpy and potential of res.
func WriteFields(wr io.Writer, id uuid.UUID, res *binscf.Result) error {
	hd := newFieldsHeader(id, res)
	if err := binary.Write(wr, end, hd); err != nil {
		return err
	}
	for _, xs := range [][]float64{res.Density, res.Enthalpy, res.Potential} {
		if err := binary.Write(wr, end, xs); err != nil {
			return err
		}
	}
	return nil
}

// ReadFields reads a file written by WriteFields. fields are in the order of
// FieldNames.
func ReadFields(rd io.Reader) (hd *FieldsHeader, fields [][]float64, err error) {
	var flag int64
	if err := binary.Read(rd, binary.LittleEndian, &flag); err != nil {
		return nil, nil, err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if flag == 0 {
		order = binary.BigEndian
	} else if flag != -1 {
		return nil, nil, fmt.Errorf("Unrecognized endianness flag, %d.", flag)
	}

	hd = &FieldsHeader{}
	hd.Type.Endianness = flag
	rest := struct {
		HeaderSize, Fields int64
		Grid               GridInfo
		Run                RunInfo
	}{}
	if err := binary.Read(rd, order, &rest); err != nil {
		return nil, nil, err
	}
	hd.Type.HeaderSize, hd.Type.Fields = rest.HeaderSize, rest.Fields
	hd.Grid, hd.Run = rest.Grid, rest.Run

	if size := int64(binary.Size(hd)); hd.Type.HeaderSize != size {
		return nil, nil, fmt.Errorf(
			"Header size is %d, but expected %d.", hd.Type.HeaderSize, size,
		)
	}

	n := hd.Grid.NumR * hd.Grid.NumZ * hd.Grid.NumPhi
	fields = make([][]float64, hd.Type.Fields)
	for i := range fields {
		fields[i] = make([]float64, n)
		if err := binary.Read(rd, order, fields[i]); err != nil {
			return nil, nil, err
		}
	}
	return hd, fields, nil
}

// Summary is the human-readable description of a finished run.
type Summary struct {
	RunID      string  `yaml:"run_id"`
	State      string  `yaml:"state"`
	Cancelled  bool    `yaml:"cancelled,omitempty"`
	Iterations int     `yaml:"iterations"`
	Residual   float64 `yaml:"residual"`

	Grid struct {
		NumR      int    `yaml:"numr"`
		NumZ      int    `yaml:"numz"`
		NumPhi    int    `yaml:"numphi"`
		Symmetry  string `yaml:"symmetry"`
		NumRProcs int    `yaml:"numr_procs"`
		NumZProcs int    `yaml:"numz_procs"`
	} `yaml:"grid"`

	Omega     float64 `yaml:"omega"`
	Omega2    float64 `yaml:"omega2"`
	MassRatio float64 `yaml:"mass_ratio"`
	Virial    float64 `yaml:"virial_error"`

	Stars []StarSummary `yaml:"stars"`
}

type StarSummary struct {
	N            float64   `yaml:"n"`
	NC           float64   `yaml:"nc"`
	Mass         float64   `yaml:"mass"`
	HMax         float64   `yaml:"hmax"`
	C            float64   `yaml:"c"`
	InnerEdge    int       `yaml:"inner_edge"`
	OuterEdge    int       `yaml:"outer_edge"`
	SurfaceInner float64   `yaml:"surface_inner"`
	SurfaceOuter float64   `yaml:"surface_outer"`
	CentreOfMass []float64 `yaml:"centre_of_mass,flow"`
	MaxAzimuth   int       `yaml:"max_azimuth"`
	AxisOK       bool      `yaml:"axis_ok"`
}

// NewSummary collects the summary of res.
func NewSummary(id uuid.UUID, res *binscf.Result) *Summary {
	sum := &Summary{
		RunID:      id.String(),
		State:      res.State.String(),
		Cancelled:  res.Cancelled,
		Iterations: res.Iterations,
		Omega2:     res.Omega2,
		MassRatio:  res.MassRatio,
		Virial:     res.Virial,
	}
	if res.Omega2 > 0 {
		sum.Omega = math.Sqrt(res.Omega2)
	}
	if n := len(res.History); n > 0 {
		sum.Residual = res.History[n-1].Residuals.Max()
	}

	p := &res.Params
	sum.Grid.NumR, sum.Grid.NumZ, sum.Grid.NumPhi = p.NumR, p.NumZ, p.NumPhi
	sum.Grid.Symmetry = p.Sym.String()
	sum.Grid.NumRProcs, sum.Grid.NumZProcs = p.NumRProcs, p.NumZProcs

	for _, star := range res.Stars {
		sum.Stars = append(sum.Stars, StarSummary{
			N: star.N, NC: star.NC,
			Mass: star.Mass, HMax: star.HMax, C: star.C,
			InnerEdge: star.InnerEdge, OuterEdge: star.OuterEdge,
			SurfaceInner: star.MeasuredInner, SurfaceOuter: star.MeasuredOuter,
			CentreOfMass: star.CentreOfMass[:],
			MaxAzimuth:   star.MaxAzimuth,
			AxisOK:       star.AxisOK,
		})
	}
	return sum
}

// WriteSummary writes the summary of res as YAML.
func WriteSummary(wr io.Writer, id uuid.UUID, res *binscf.Result) error {
	enc := yaml.NewEncoder(wr)
	enc.SetIndent(2)
	if err := enc.Encode(NewSummary(id, res)); err != nil {
		return err
	}
	return enc.Close()
}

// WriteHistory writes one whitespace-separated row per iteration, preceded
// by a commented header naming the columns.
func WriteHistory(wr io.Writer, history []binscf.Record) error {
	bw := bufio.NewWriter(wr)
	fmt.Fprintf(bw, "# %s\n", strings.Join(binscf.HistoryColumns, " "))
	for i := range history {
		row := history[i].Row()
		for j, x := range row {
			if j > 0 {
				bw.WriteByte(' ')
			}
			fmt.Fprintf(bw, "%.10g", x)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadHistory reads the columns of a history file written by WriteHistory.
// The returned columns are in the order of binscf.HistoryColumns.
func ReadHistory(fname string) ([][]float64, error) {
	colIdxs := make([]int, len(binscf.HistoryColumns))
	for i := range colIdxs {
		colIdxs[i] = i
	}
	return table.ReadTable(fname, colIdxs, nil)
}

// HistoryColumn returns the index of the named history column.
func HistoryColumn(name string) (int, error) {
	for i, col := range binscf.HistoryColumns {
		if col == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf(
		"Unknown history column '%s'. Valid columns are: %s",
		name, strings.Join(binscf.HistoryColumns, ", "),
	)
}
