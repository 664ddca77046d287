// Package config loads and watches the trainer configuration file.
//
// Top-level types:
//   - Config{Data, Label, Features, Model, PCA, Output, Publish, Gates, Notify}
//   - DataConfig: train/test/truth locations and an optional ObjectStoreConfig
//     for s3:// locations (credentials resolved from *_env variables)
//   - FeaturesConfig: one rolling window and lag depth shared by train and test
//   - ModelConfig: gradient boosting hyperparameters and the random seed
//   - Gate, NotifyConfig: quality conditions and webhook targets
//
// Load(path) reads the YAML file, applies defaults (window 30, rolling 3,
// lags 3, 100 trees of depth 3, PCA to 20 components), then validates.
//
// Watch(ctx, path, onChange) uses fsnotify to re-run the pipeline when the
// file changes. It re-adds the watch after atomic-save editors replace the file.
package config
