// Package pipeline runs one end-to-end training pass.
//
// Data flow:
//
//	dataset.Load → label.Train / label.Test → features.Engineer.Transform
//	  → model.CheckColumns → model.Classifier (raw) → evaluate
//	  → [model.PCA → model.Classifier (pca) → evaluate]
//	  → render → gates → notify → publish → telemetry textfile
//
// The same Engineer, and therefore the same rolling window, is applied to
// the train and test splits. PCA is fit on the training matrix only.
package pipeline
