package dataset

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/rulwatch/rulwatch/pkg/types"
)

// ErrMalformed is returned for any table that does not match the fixed
// C-MAPSS layout. It is always fatal for the run.
var ErrMalformed = errors.New("dataset: malformed table")

// trailingEmpty is the number of empty columns produced by the trailing
// delimiters at the end of every C-MAPSS line.
const trailingEmpty = 2

// ReadObservations parses a train or test table: single-space delimited,
// no header, 26 numeric columns optionally followed by two empty columns.
// The result is ordered by engine id, then cycle.
func ReadObservations(r io.Reader) ([]types.Observation, error) {
	cols, err := readColumns(r, types.NumColumns, trailingEmpty)
	if err != nil {
		return nil, err
	}

	n := len(cols[0])
	obs := make([]types.Observation, n)
	for i := 0; i < n; i++ {
		id, err := integral(cols[0][i])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: id: %v", ErrMalformed, i+1, err)
		}
		cycle, err := integral(cols[1][i])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: cycle: %v", ErrMalformed, i+1, err)
		}
		o := types.Observation{ID: id, Cycle: cycle}
		for j := 0; j < types.NumSettings; j++ {
			o.Settings[j] = cols[2+j][i]
		}
		for j := 0; j < types.NumSensors; j++ {
			o.Sensors[j] = cols[2+types.NumSettings+j][i]
		}
		obs[i] = o
	}

	sort.SliceStable(obs, func(a, b int) bool {
		if obs[a].ID != obs[b].ID {
			return obs[a].ID < obs[b].ID
		}
		return obs[a].Cycle < obs[b].Cycle
	})
	for i := 1; i < len(obs); i++ {
		if obs[i].ID == obs[i-1].ID && obs[i].Cycle == obs[i-1].Cycle {
			return nil, fmt.Errorf("%w: engine %d: duplicate cycle %d", ErrMalformed, obs[i].ID, obs[i].Cycle)
		}
	}
	return obs, nil
}

// ReadTruth parses the ground-truth table: one remaining-cycles value per
// test engine, in engine id order, optionally followed by one empty column.
func ReadTruth(r io.Reader) ([]float64, error) {
	cols, err := readColumns(r, 1, 1)
	if err != nil {
		return nil, err
	}
	for i, v := range cols[0] {
		if v < 0 {
			return nil, fmt.Errorf("%w: row %d: negative remaining cycles %v", ErrMalformed, i+1, v)
		}
	}
	return cols[0], nil
}

// readColumns loads a headerless space-delimited table through gota and
// returns its first width columns as float slices. The table may carry
// exactly trailing extra columns, which must be empty on every row.
// Ragged rows are rejected by the CSV reader itself.
func readColumns(r io.Reader, width, trailing int) ([][]float64, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(false),
		dataframe.WithDelimiter(' '),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, df.Err)
	}

	ncol := df.Ncol()
	if ncol != width && ncol != width+trailing {
		return nil, fmt.Errorf("%w: got %d columns, want %d (or %d with trailing delimiters)",
			ErrMalformed, ncol, width, width+trailing)
	}

	names := df.Names()
	out := make([][]float64, width)
	for j := 0; j < width; j++ {
		vals := df.Col(names[j]).Float()
		for i, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d column %d: not a number", ErrMalformed, i+1, j+1)
			}
		}
		out[j] = vals
	}
	for j := width; j < ncol; j++ {
		for i, v := range df.Col(names[j]).Float() {
			if !math.IsNaN(v) {
				return nil, fmt.Errorf("%w: row %d: unexpected value in trailing column %d", ErrMalformed, i+1, j+1)
			}
		}
	}
	return out, nil
}

// integral converts a parsed cell to an int, rejecting fractional values.
func integral(v float64) (int, error) {
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%v is not an integer", v)
	}
	return int(v), nil
}

// Engines returns the distinct engine ids of obs in ascending order.
// obs must be ordered by id, as returned by ReadObservations.
func Engines(obs []types.Observation) []int {
	series := Split(obs)
	ids := make([]int, len(series))
	for i, s := range series {
		ids[i] = s.ID
	}
	return ids
}

// Series is the ordered run of one engine.
type Series struct {
	ID  int
	Obs []types.Observation
}

// Split groups obs into per-engine series. obs must be ordered by (id, cycle),
// as returned by ReadObservations; the series share its backing array.
func Split(obs []types.Observation) []Series {
	var out []Series
	start := 0
	for i := 1; i <= len(obs); i++ {
		if i == len(obs) || obs[i].ID != obs[start].ID {
			out = append(out, Series{ID: obs[start].ID, Obs: obs[start:i:i]})
			start = i
		}
	}
	return out
}
