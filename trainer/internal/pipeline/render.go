package pipeline

import (
	"fmt"

	"github.com/rulwatch/rulwatch/trainer/internal/evaluate"
)

const barWidth = 40

// render prints the human-readable run summary to the configured output.
func (r *Runner) render(res *Result) error {
	w := r.deps.Out
	fmt.Fprintf(w, "run %s\n", res.RunID)
	fmt.Fprintf(w, "train: %d rows, %d engines, %d kept (%d failing)\n",
		res.Train.Rows, res.Train.Engines, res.Train.Kept, res.Train.Failing)
	fmt.Fprintf(w, "test:  %d rows, %d engines, %d kept (%d failing)\n\n",
		res.Test.Rows, res.Test.Engines, res.Test.Kept, res.Test.Failing)

	if err := writeEvaluation(r, "Gradient boosting on engineered features", res.Raw); err != nil {
		return err
	}

	imp := res.Importances
	if top := r.cfg.Output.ImportanceTop; top > 0 && len(imp) > top {
		imp = imp[:top]
	}
	bars := make([]evaluate.Bar, len(imp))
	for i, v := range imp {
		bars[i] = evaluate.Bar{Label: v.Feature, Value: v.Value}
	}
	if err := evaluate.WriteBars(w, fmt.Sprintf("Feature importance (top %d)", len(bars)), bars, barWidth); err != nil {
		return err
	}

	if res.PCA == nil {
		return nil
	}
	fmt.Fprintln(w)
	var cum float64
	pcs := make([]evaluate.Bar, len(res.PCA.ExplainedVariance))
	for i, v := range res.PCA.ExplainedVariance {
		cum += v
		pcs[i] = evaluate.Bar{Label: fmt.Sprintf("pc%d", i+1), Value: v}
	}
	title := fmt.Sprintf("PCA explained variance (%d components, %.1f%% total)", res.PCA.Components, cum*100)
	if err := evaluate.WriteBars(w, title, pcs, barWidth); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return writeEvaluation(r, "Gradient boosting on principal components", res.PCA.Evaluation)
}

func writeEvaluation(r *Runner, title string, e Evaluation) error {
	w := r.deps.Out
	fmt.Fprintf(w, "== %s ==\n\nConfusion matrix\n", title)
	if err := evaluate.WriteConfusion(w, e.Confusion); err != nil {
		return err
	}
	fmt.Fprintln(w, "\nClassification report")
	if err := evaluate.WriteReport(w, e.Report); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
