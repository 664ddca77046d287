package evaluate

import (
	"fmt"
)

// Class names used in reports, indexed by label value.
var ClassNames = [2]string{"Healthy", "Failure30"}

// Confusion is a 2×2 confusion matrix. Rows are actual labels, columns are
// predicted labels, so M[1][0] counts failing rows predicted healthy.
type Confusion struct {
	M [2][2]int `json:"matrix"`
}

// NewConfusion tallies actual against predicted 0/1 labels.
func NewConfusion(actual, predicted []int) (Confusion, error) {
	var c Confusion
	if len(actual) != len(predicted) {
		return c, fmt.Errorf("evaluate: %d actual labels but %d predictions", len(actual), len(predicted))
	}
	for i := range actual {
		a, p := actual[i], predicted[i]
		if a < 0 || a > 1 || p < 0 || p > 1 {
			return c, fmt.Errorf("evaluate: row %d: labels must be 0 or 1 (actual=%d predicted=%d)", i, a, p)
		}
		c.M[a][p]++
	}
	return c, nil
}

// Total returns the number of tallied rows.
func (c Confusion) Total() int {
	return c.M[0][0] + c.M[0][1] + c.M[1][0] + c.M[1][1]
}

// ClassMetrics are the per-class figures of a classification report.
type ClassMetrics struct {
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report mirrors the classic classification report: per-class rows,
// accuracy, and macro and support-weighted averages.
type Report struct {
	Classes     [2]ClassMetrics `json:"classes"`
	Accuracy    float64         `json:"accuracy"`
	MacroAvg    ClassMetrics    `json:"macro_avg"`
	WeightedAvg ClassMetrics    `json:"weighted_avg"`
	Total       int             `json:"total"`
}

// Classification derives the report from a confusion matrix. Undefined
// ratios (no predictions or no support for a class) are reported as 0.
func Classification(c Confusion) Report {
	var r Report
	r.Total = c.Total()
	for k := 0; k < 2; k++ {
		tp := c.M[k][k]
		predicted := c.M[0][k] + c.M[1][k]
		support := c.M[k][0] + c.M[k][1]
		m := ClassMetrics{
			Name:      ClassNames[k],
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes[k] = m
	}
	r.Accuracy = ratio(c.M[0][0]+c.M[1][1], r.Total)

	r.MacroAvg = ClassMetrics{Name: "macro avg", Support: r.Total}
	r.WeightedAvg = ClassMetrics{Name: "weighted avg", Support: r.Total}
	for _, m := range r.Classes {
		r.MacroAvg.Precision += m.Precision / 2
		r.MacroAvg.Recall += m.Recall / 2
		r.MacroAvg.F1 += m.F1 / 2
		if r.Total > 0 {
			w := float64(m.Support) / float64(r.Total)
			r.WeightedAvg.Precision += m.Precision * w
			r.WeightedAvg.Recall += m.Recall * w
			r.WeightedAvg.F1 += m.F1 * w
		}
	}
	return r
}

// Fields flattens the report into named values for gate conditions,
// e.g. "recall_failure" or "pca_accuracy" with prefix "pca_".
func (r Report) Fields(prefix string) map[string]float64 {
	out := map[string]float64{
		prefix + "accuracy": r.Accuracy,
		prefix + "macro_f1": r.MacroAvg.F1,
	}
	for k, suffix := range [2]string{"healthy", "failure"} {
		m := r.Classes[k]
		out[prefix+"precision_"+suffix] = m.Precision
		out[prefix+"recall_"+suffix] = m.Recall
		out[prefix+"f1_"+suffix] = m.F1
	}
	return out
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
