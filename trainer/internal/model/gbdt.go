package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/rulwatch/rulwatch/trainer/internal/config"
)

var (
	// ErrShapeMismatch is returned when a matrix does not match the fitted
	// feature layout, or train and test layouts diverge.
	ErrShapeMismatch = errors.New("model: shape mismatch")

	// ErrNotFitted is returned by prediction methods before Fit.
	ErrNotFitted = errors.New("model: classifier not fitted")
)

// probability clamp keeping log-odds and hessians finite.
const probEps = 1e-15

// Params are gradient boosting hyperparameters.
type Params struct {
	Trees          int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
	Subsample      float64
	MaxBins        int
	L2             float64
	Seed           int64
}

// ParamsFrom maps the model section of the config.
func ParamsFrom(cfg config.ModelConfig) Params {
	return Params{
		Trees:          cfg.Trees,
		LearningRate:   cfg.LearningRate,
		MaxDepth:       cfg.MaxDepth,
		MinSamplesLeaf: cfg.MinSamplesLeaf,
		Subsample:      cfg.Subsample,
		MaxBins:        cfg.MaxBins,
		L2:             cfg.L2,
		Seed:           cfg.Seed,
	}
}

// DefaultParams mirrors the config defaults.
func DefaultParams() Params {
	return ParamsFrom(config.Defaults().Model)
}

// Importance is the normalised split gain attributed to one feature.
type Importance struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Classifier is a binary gradient-boosted tree ensemble trained on log-loss.
// Given the same data and Params, Fit is deterministic.
type Classifier struct {
	params   Params
	features []string
	base     float64
	trees    []*tree
	gains    []float64
}

// NewClassifier returns an unfitted classifier.
func NewClassifier(p Params) *Classifier {
	return &Classifier{params: p}
}

// Fit trains the ensemble on row-major X with 0/1 labels y. names labels the
// columns of X; prediction inputs must use the same layout.
func (c *Classifier) Fit(X [][]float64, y []int, names []string) error {
	if len(X) == 0 {
		return fmt.Errorf("model: empty training matrix")
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows but %d labels", ErrShapeMismatch, len(X), len(y))
	}
	d := len(names)
	for i, row := range X {
		if len(row) != d {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(row), d)
		}
	}

	var positives int
	for i, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("model: label %d at row %d is not 0 or 1", v, i)
		}
		positives += v
	}
	if positives == 0 || positives == len(y) {
		return fmt.Errorf("model: training labels contain a single class")
	}

	p := c.params
	n := len(X)
	prior := float64(positives) / float64(n)
	c.base = math.Log(prior / (1 - prior))
	c.features = append([]string(nil), names...)
	c.gains = make([]float64, d)
	c.trees = make([]*tree, 0, p.Trees)

	b := newBinner(X, p.MaxBins)
	bins := b.transform(X)
	rng := rand.New(rand.NewSource(p.Seed))

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = c.base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	sampleSize := int(math.Round(p.Subsample * float64(n)))
	if sampleSize < 1 {
		sampleSize = 1
	}

	for t := 0; t < p.Trees; t++ {
		for i := range raw {
			prob := clampProb(sigmoid(raw[i]))
			grad[i] = prob - float64(y[i])
			hess[i] = prob * (1 - prob)
		}

		rows := all
		if sampleSize < n {
			rows = rng.Perm(n)[:sampleSize]
			sort.Ints(rows)
		}

		g := newGrower(bins, b, grad, hess, p, c.gains)
		g.grow(rows, 0)
		tr := g.tree
		for k := range tr.nodes {
			tr.nodes[k].value *= p.LearningRate
		}
		c.trees = append(c.trees, tr)

		for i := range raw {
			raw[i] += tr.predictBinned(bins, i)
		}

		if (t+1)%25 == 0 || t+1 == p.Trees {
			slog.Debug("model: boosting progress",
				"trees", t+1, "log_loss", logLoss(raw, y))
		}
	}
	return nil
}

// Features returns the fitted column layout.
func (c *Classifier) Features() []string {
	return append([]string(nil), c.features...)
}

// DecisionFunction returns the raw log-odds score per row.
func (c *Classifier) DecisionFunction(X [][]float64) ([]float64, error) {
	if c.trees == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(c.features) {
			return nil, fmt.Errorf("%w: row %d has %d columns, model expects %d",
				ErrShapeMismatch, i, len(row), len(c.features))
		}
		s := c.base
		for _, t := range c.trees {
			s += t.predict(row)
		}
		out[i] = s
	}
	return out, nil
}

// PredictProba returns the probability of class 1 per row.
func (c *Classifier) PredictProba(X [][]float64) ([]float64, error) {
	raw, err := c.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	for i, v := range raw {
		raw[i] = sigmoid(v)
	}
	return raw, nil
}

// Predict returns 0/1 labels using a 0.5 probability cut.
func (c *Classifier) Predict(X [][]float64) ([]int, error) {
	raw, err := c.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		if v > 0 {
			out[i] = 1
		}
	}
	return out, nil
}

// FeatureImportances returns gain importances normalised to sum to 1,
// strongest first. Features that were never split on have value 0.
func (c *Classifier) FeatureImportances() []Importance {
	var total float64
	for _, g := range c.gains {
		total += g
	}
	out := make([]Importance, len(c.features))
	for j, name := range c.features {
		v := 0.0
		if total > 0 {
			v = c.gains[j] / total
		}
		out[j] = Importance{Feature: name, Value: v}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Value > out[b].Value })
	return out
}

// CheckColumns verifies that test columns match the training layout exactly.
func CheckColumns(train, test []string) error {
	if len(train) != len(test) {
		return fmt.Errorf("%w: train has %d columns, test has %d", ErrShapeMismatch, len(train), len(test))
	}
	for i := range train {
		if train[i] != test[i] {
			return fmt.Errorf("%w: column %d is %q in train but %q in test", ErrShapeMismatch, i, train[i], test[i])
		}
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func clampProb(p float64) float64 {
	return math.Min(math.Max(p, probEps), 1-probEps)
}

func logLoss(raw []float64, y []int) float64 {
	var sum float64
	for i, z := range raw {
		p := clampProb(sigmoid(z))
		if y[i] == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(raw))
}
