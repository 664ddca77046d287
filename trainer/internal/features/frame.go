package features

import (
	"fmt"
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/rulwatch/rulwatch/pkg/types"
)

// Frame is an engineered table: identity and target columns kept apart from
// the dense feature matrix X, whose columns are named by Columns.
type Frame struct {
	Columns []string
	IDs     []int
	Cycles  []int
	RUL     []int
	Labels  []int
	X       [][]float64
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.X) }

// Engines returns the number of distinct engines present.
func (f *Frame) Engines() int {
	n := 0
	for i, id := range f.IDs {
		if i == 0 || id != f.IDs[i-1] {
			n++
		}
	}
	return n
}

// Column returns a copy of the named feature column.
func (f *Frame) Column(name string) ([]float64, bool) {
	j := -1
	for k, c := range f.Columns {
		if c == name {
			j = k
			break
		}
	}
	if j < 0 {
		return nil, false
	}
	out := make([]float64, len(f.X))
	for i, row := range f.X {
		out[i] = row[j]
	}
	return out, true
}

// DataFrame converts the frame to a gota DataFrame with id, cycle, the
// feature columns, RUL and label, in that order.
func (f *Frame) DataFrame() dataframe.DataFrame {
	cols := make([]series.Series, 0, len(f.Columns)+4)
	cols = append(cols,
		series.New(f.IDs, series.Int, types.ColumnID),
		series.New(f.Cycles, series.Int, types.ColumnCycle),
	)
	for j, name := range f.Columns {
		vals := make([]float64, len(f.X))
		for i, row := range f.X {
			vals[i] = row[j]
		}
		cols = append(cols, series.New(vals, series.Float, name))
	}
	cols = append(cols,
		series.New(f.RUL, series.Int, "RUL"),
		series.New(f.Labels, series.Int, "label"),
	)
	return dataframe.New(cols...)
}

// WriteCSV writes the frame with a header row.
func (f *Frame) WriteCSV(w io.Writer) error {
	df := f.DataFrame()
	if df.Err != nil {
		return fmt.Errorf("features: build dataframe: %w", df.Err)
	}
	if err := df.WriteCSV(w); err != nil {
		return fmt.Errorf("features: write csv: %w", err)
	}
	return nil
}
