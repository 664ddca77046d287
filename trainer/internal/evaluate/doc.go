// Package evaluate scores predictions against held-out labels.
//
// report.go builds the 2×2 confusion matrix and the per-class
// precision/recall/F1 report (plus accuracy, macro and weighted averages).
// render.go prints both, and an ASCII bar chart used for feature
// importances and PCA explained variance.
//
// gate.go checks "field op value" quality gates, e.g. "recall_failure < 0.9",
// against Report.Fields. Field names are accuracy, macro_f1 and
// {precision,recall,f1}_{healthy,failure}, optionally prefixed "pca_".
package evaluate
