package model

import (
	"sort"
)

// binner discretises each feature into at most maxBins ordered buckets.
// A value x falls in bucket b when edges[b-1] < x <= edges[b], so a split
// "bucket <= b" is the same as the raw threshold "x <= edges[b]".
type binner struct {
	edges [][]float64
}

func newBinner(X [][]float64, maxBins int) *binner {
	d := len(X[0])
	b := &binner{edges: make([][]float64, d)}
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		b.edges[j] = edgesFor(col, maxBins)
	}
	return b
}

// edgesFor returns ascending split thresholds for one feature column.
// With few distinct values every midpoint is a candidate; otherwise the
// thresholds sit on quantiles of the sorted column.
func edgesFor(col []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)

	uniq := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) <= 1 {
		return nil
	}

	if len(uniq) <= maxBins {
		edges := make([]float64, len(uniq)-1)
		for i := range edges {
			edges[i] = (uniq[i] + uniq[i+1]) / 2
		}
		return edges
	}

	n := len(sorted)
	edges := make([]float64, 0, maxBins-1)
	for q := 1; q < maxBins; q++ {
		v := sorted[q*n/maxBins]
		if len(edges) > 0 && v <= edges[len(edges)-1] {
			continue
		}
		// The maximum cannot be an upper edge: nothing would fall right of it.
		if v >= sorted[n-1] {
			break
		}
		edges = append(edges, v)
	}
	return edges
}

// bin returns the bucket of x for feature j.
func (b *binner) bin(j int, x float64) uint8 {
	e := b.edges[j]
	return uint8(sort.Search(len(e), func(i int) bool { return x <= e[i] }))
}

// nbins returns the number of buckets of feature j.
func (b *binner) nbins(j int) int { return len(b.edges[j]) + 1 }

// transform bins X column-major: out[j][i] is the bucket of X[i][j].
func (b *binner) transform(X [][]float64) [][]uint8 {
	d := len(b.edges)
	out := make([][]uint8, d)
	for j := 0; j < d; j++ {
		col := make([]uint8, len(X))
		for i, row := range X {
			col[i] = b.bin(j, row[j])
		}
		out[j] = col
	}
	return out
}
