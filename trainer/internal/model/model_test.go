package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// synthetic returns rows where only column 1 carries signal: label is 1
// when x1 > 0.6. Columns 0 and 2 are noise.
func synthetic(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		x1 := rng.Float64()
		X[i] = []float64{rng.NormFloat64(), x1, rng.Float64() * 100}
		if x1 > 0.6 {
			y[i] = 1
		}
	}
	return X, y
}

var names3 = []string{"noise_a", "signal", "noise_b"}

func smallParams() Params {
	p := DefaultParams()
	p.Trees = 30
	return p
}

func accuracy(pred, y []int) float64 {
	ok := 0
	for i := range y {
		if pred[i] == y[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(y))
}

func TestClassifier_LearnsThreshold(t *testing.T) {
	X, y := synthetic(800, 1)
	c := NewClassifier(smallParams())
	if err := c.Fit(X, y, names3); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	Xt, yt := synthetic(400, 2)
	pred, err := c.Predict(Xt)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if acc := accuracy(pred, yt); acc < 0.95 {
		t.Errorf("held-out accuracy = %.3f, want >= 0.95", acc)
	}

	imp := c.FeatureImportances()
	if imp[0].Feature != "signal" {
		t.Errorf("top feature = %q, want signal (%v)", imp[0].Feature, imp)
	}
	var sum float64
	for _, v := range imp {
		sum += v.Value
	}
	if !almostEqual(sum, 1, 1e-9) {
		t.Errorf("importances sum to %v, want 1", sum)
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	X, y := synthetic(300, 3)
	p := smallParams()
	p.Subsample = 0.7

	a, b := NewClassifier(p), NewClassifier(p)
	if err := a.Fit(X, y, names3); err != nil {
		t.Fatalf("Fit a: %v", err)
	}
	if err := b.Fit(X, y, names3); err != nil {
		t.Fatalf("Fit b: %v", err)
	}
	pa, _ := a.PredictProba(X)
	pb, _ := b.PredictProba(X)
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("row %d: %v != %v with identical seed", i, pa[i], pb[i])
		}
	}
}

func TestClassifier_ProbabilitiesInRange(t *testing.T) {
	X, y := synthetic(200, 4)
	c := NewClassifier(smallParams())
	if err := c.Fit(X, y, names3); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	probs, err := c.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	for i, p := range probs {
		if p < 0 || p > 1 || math.IsNaN(p) {
			t.Fatalf("row %d: probability %v out of range", i, p)
		}
	}
}

func TestClassifier_Errors(t *testing.T) {
	X, y := synthetic(50, 5)

	c := NewClassifier(smallParams())
	if _, err := c.Predict(X); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Predict before Fit: got %v, want ErrNotFitted", err)
	}
	if err := c.Fit(X, y[:10], names3); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("label count mismatch: got %v", err)
	}
	if err := c.Fit(X, y, names3[:2]); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("name count mismatch: got %v", err)
	}
	if err := c.Fit(X, make([]int, len(X)), names3); err == nil {
		t.Error("single class: expected error")
	}
	if err := c.Fit(nil, nil, names3); err == nil {
		t.Error("empty matrix: expected error")
	}

	if err := c.Fit(X, y, names3); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	narrow := [][]float64{{1, 2}}
	if _, err := c.Predict(narrow); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("narrow predict: got %v, want ErrShapeMismatch", err)
	}
}

func TestCheckColumns(t *testing.T) {
	if err := CheckColumns(names3, []string{"noise_a", "signal", "noise_b"}); err != nil {
		t.Errorf("identical layouts: %v", err)
	}
	if err := CheckColumns(names3, names3[:2]); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("count divergence: got %v", err)
	}
	if err := CheckColumns(names3, []string{"noise_a", "s2_mean5", "noise_b"}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("name divergence: got %v", err)
	}
}

func TestEdgesFor(t *testing.T) {
	if e := edgesFor([]float64{3, 3, 3}, 8); len(e) != 0 {
		t.Errorf("constant column edges: got %v", e)
	}
	e := edgesFor([]float64{1, 2, 2, 4}, 8)
	if len(e) != 2 || e[0] != 1.5 || e[1] != 3 {
		t.Errorf("midpoint edges: got %v", e)
	}

	col := make([]float64, 1000)
	for i := range col {
		col[i] = float64(i)
	}
	e = edgesFor(col, 16)
	if len(e) != 15 {
		t.Fatalf("quantile edges: got %d, want 15", len(e))
	}
	for i := 1; i < len(e); i++ {
		if e[i] <= e[i-1] {
			t.Fatalf("edges not increasing at %d: %v", i, e)
		}
	}
}

func TestBinner_ThresholdAgreesWithBin(t *testing.T) {
	X, _ := synthetic(500, 6)
	b := newBinner(X, 32)
	for j := range b.edges {
		for bin, edge := range b.edges[j] {
			for _, row := range X {
				left := int(b.bin(j, row[j])) <= bin
				if left != (row[j] <= edge) {
					t.Fatalf("feature %d bin %d: bucket and threshold disagree for %v", j, bin, row[j])
				}
			}
		}
	}
}

func TestPCA_ProjectsOntoDominantAxis(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	X := make([][]float64, 300)
	for i := range X {
		s := rng.NormFloat64() * 10
		X[i] = []float64{s, 2 * s, rng.NormFloat64() * 0.01}
	}

	p := NewPCA(20)
	if err := p.Fit(X); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if p.Components() != 3 {
		t.Errorf("components clamped to %d, want 3", p.Components())
	}
	ratio := p.ExplainedVarianceRatio()
	if ratio[0] < 0.99 {
		t.Errorf("first component ratio = %v, want > 0.99", ratio[0])
	}
	if names := p.Names(); names[0] != "pc1" || names[2] != "pc3" {
		t.Errorf("names: got %v", names)
	}

	out, err := p.Transform(X)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(out) != len(X) || len(out[0]) != 3 {
		t.Fatalf("projected shape: %dx%d", len(out), len(out[0]))
	}
	// Projected scores are centred.
	var mean float64
	for _, row := range out {
		mean += row[0]
	}
	if !almostEqual(mean/float64(len(out)), 0, 1e-9) {
		t.Errorf("pc1 mean = %v, want 0", mean/float64(len(out)))
	}
}

func TestPCA_Errors(t *testing.T) {
	p := NewPCA(2)
	if _, err := p.Transform([][]float64{{1, 2}}); !errors.Is(err, ErrNotFitted) {
		t.Errorf("Transform before Fit: got %v", err)
	}
	if err := p.Fit([][]float64{{1, 2}}); err == nil {
		t.Error("single row: expected error")
	}
	if err := p.Fit([][]float64{{1, 2}, {3, 5}, {4, 4}}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := p.Transform([][]float64{{1, 2, 3}}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("wide Transform: got %v", err)
	}
}
