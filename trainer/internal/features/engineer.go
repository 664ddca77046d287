package features

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/rulwatch/rulwatch/pkg/types"
	"github.com/rulwatch/rulwatch/trainer/internal/config"
)

// Stats describes what a Transform call kept and dropped.
type Stats struct {
	RowsIn   int
	RowsOut  int
	Dropped  int
	Engines  int
	Columns  int
	Sparsest int // fewest rows kept for any surviving engine
}

// Engineer builds rolling and lag features per engine. A single Engineer
// is applied to both train and test so both frames share one column layout.
type Engineer struct {
	window  int
	lags    int
	sensors []string
	idx     []int // sensor positions in types.Observation.Sensors
}

// New returns an Engineer for cfg. An empty sensor list selects every sensor.
func New(cfg config.FeaturesConfig) (*Engineer, error) {
	if cfg.Window < 2 {
		return nil, fmt.Errorf("features: window must be at least 2, got %d", cfg.Window)
	}
	if cfg.Lags < 0 {
		return nil, fmt.Errorf("features: lags must not be negative, got %d", cfg.Lags)
	}
	sensors := cfg.Sensors
	if len(sensors) == 0 {
		sensors = types.SensorColumns
	}
	e := &Engineer{window: cfg.Window, lags: cfg.Lags}
	seen := make(map[string]bool, len(sensors))
	for _, s := range sensors {
		i := types.SensorIndex(s)
		if i < 0 {
			return nil, fmt.Errorf("features: unknown sensor %q", s)
		}
		if seen[s] {
			return nil, fmt.Errorf("features: sensor %q listed twice", s)
		}
		seen[s] = true
		e.sensors = append(e.sensors, s)
		e.idx = append(e.idx, i)
	}
	return e, nil
}

// Columns returns the feature column names in matrix order: raw settings
// and sensors, rolling means, rolling stds, then lag1..lagN blocks.
func (e *Engineer) Columns() []string {
	out := types.MeasurementColumns()
	for _, s := range e.sensors {
		out = append(out, fmt.Sprintf("%s_mean%d", s, e.window))
	}
	for _, s := range e.sensors {
		out = append(out, fmt.Sprintf("%s_std%d", s, e.window))
	}
	for k := 1; k <= e.lags; k++ {
		for _, s := range e.sensors {
			out = append(out, fmt.Sprintf("%s_lag%d", s, k))
		}
	}
	return out
}

// Transform engineers features for each engine's cycle-ordered series and
// drops every row with an incomplete window or lag context.
func (e *Engineer) Transform(rows []types.Labeled) (*Frame, Stats, error) {
	sorted := make([]types.Labeled, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].ID != sorted[b].ID {
			return sorted[a].ID < sorted[b].ID
		}
		return sorted[a].Cycle < sorted[b].Cycle
	})

	cols := e.Columns()
	f := &Frame{Columns: cols}
	st := Stats{RowsIn: len(rows), Columns: len(cols), Sparsest: -1}

	for _, span := range spans(sorted) {
		series := sorted[span[0]:span[1]]
		kept := e.appendEngine(f, series)
		if kept == 0 {
			slog.Debug("features: engine too short, no complete rows",
				"engine", series[0].ID, "cycles", len(series))
			continue
		}
		st.Engines++
		if st.Sparsest < 0 || kept < st.Sparsest {
			st.Sparsest = kept
		}
	}
	if st.Sparsest < 0 {
		st.Sparsest = 0
	}

	st.RowsOut = f.Len()
	st.Dropped = st.RowsIn - st.RowsOut
	if st.RowsOut == 0 {
		return nil, st, fmt.Errorf("features: no complete rows in %d input rows", st.RowsIn)
	}
	return f, st, nil
}

// appendEngine engineers one engine's series into f and returns the number
// of rows kept.
func (e *Engineer) appendEngine(f *Frame, rows []types.Labeled) int {
	n := len(rows)
	nsens := len(e.idx)

	// Per-sensor derived columns for this engine.
	means := make([][]float64, nsens)
	stds := make([][]float64, nsens)
	lags := make([][][]float64, e.lags)
	for k := range lags {
		lags[k] = make([][]float64, nsens)
	}
	for j, si := range e.idx {
		vals := make([]float64, n)
		for i, r := range rows {
			vals[i] = r.Sensors[si]
		}
		means[j] = RollingMean(vals, e.window)
		stds[j] = RollingStd(vals, e.window)
		for k := 0; k < e.lags; k++ {
			lags[k][j] = Lag(vals, k+1)
		}
	}

	kept := 0
	for i, r := range rows {
		x := r.Measurements()
		for j := range e.idx {
			x = append(x, means[j][i])
		}
		for j := range e.idx {
			x = append(x, stds[j][i])
		}
		for k := 0; k < e.lags; k++ {
			for j := range e.idx {
				x = append(x, lags[k][j][i])
			}
		}
		if hasNaN(x) {
			continue
		}
		f.IDs = append(f.IDs, r.ID)
		f.Cycles = append(f.Cycles, r.Cycle)
		f.RUL = append(f.RUL, r.RUL)
		f.Labels = append(f.Labels, r.Label)
		f.X = append(f.X, x)
		kept++
	}
	return kept
}

// spans returns [start, end) index pairs of consecutive rows sharing an id.
func spans(rows []types.Labeled) [][2]int {
	var out [][2]int
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].ID != rows[start].ID {
			out = append(out, [2]int{start, i})
			start = i
		}
	}
	return out
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
