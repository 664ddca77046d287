package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA projects feature rows onto the leading principal components of the
// matrix it was fitted on.
type PCA struct {
	components int
	dims       int
	mean       []float64
	vecs       *mat.Dense // dims × k
	ratio      []float64
}

// NewPCA returns an unfitted PCA keeping up to components dimensions.
func NewPCA(components int) *PCA {
	return &PCA{components: components}
}

// Fit learns the projection from X. The number of kept components is
// clamped to what the data supports.
func (p *PCA) Fit(X [][]float64) error {
	a, err := dense(X)
	if err != nil {
		return err
	}
	n, d := a.Dims()
	if n < 2 {
		return fmt.Errorf("model: pca needs at least 2 rows, got %d", n)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return fmt.Errorf("model: pca decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	_, avail := vecs.Dims()
	k := p.components
	if k > avail {
		k = avail
	}

	p.dims = d
	p.mean = make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, a)
		p.mean[j] = stat.Mean(col, nil)
	}
	p.vecs = mat.DenseCopyOf(vecs.Slice(0, d, 0, k))

	var total float64
	for _, v := range vars {
		total += v
	}
	p.ratio = make([]float64, k)
	for i := 0; i < k; i++ {
		if total > 0 {
			p.ratio[i] = vars[i] / total
		}
	}
	return nil
}

// Transform centres X with the fitted means and projects it.
func (p *PCA) Transform(X [][]float64) ([][]float64, error) {
	if p.vecs == nil {
		return nil, ErrNotFitted
	}
	a, err := dense(X)
	if err != nil {
		return nil, err
	}
	n, d := a.Dims()
	if d != p.dims {
		return nil, fmt.Errorf("%w: pca fitted on %d columns, got %d", ErrShapeMismatch, p.dims, d)
	}
	for i := 0; i < n; i++ {
		row := a.RawRowView(i)
		for j := range row {
			row[j] -= p.mean[j]
		}
	}

	_, k := p.vecs.Dims()
	proj := mat.NewDense(n, k, nil)
	proj.Mul(a, p.vecs)

	out := make([][]float64, n)
	for i := range out {
		out[i] = append([]float64(nil), proj.RawRowView(i)...)
	}
	return out, nil
}

// Components returns the number of kept components.
func (p *PCA) Components() int { return len(p.ratio) }

// ExplainedVarianceRatio returns each kept component's share of total variance.
func (p *PCA) ExplainedVarianceRatio() []float64 {
	return append([]float64(nil), p.ratio...)
}

// Names returns pc1..pcK column names for the projected matrix.
func (p *PCA) Names() []string {
	out := make([]string, len(p.ratio))
	for i := range out {
		out[i] = fmt.Sprintf("pc%d", i+1)
	}
	return out
}

// dense copies row-major X into a gonum matrix.
func dense(X [][]float64) (*mat.Dense, error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return nil, fmt.Errorf("model: empty matrix")
	}
	d := len(X[0])
	data := make([]float64, 0, len(X)*d)
	for i, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(row), d)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(X), d, data), nil
}
