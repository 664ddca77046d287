// Package dataset reads the C-MAPSS input tables.
//
// ReadObservations parses a train or test table into types.Observation rows
// ordered by engine and cycle; ReadTruth parses the per-engine remaining
// cycles of the test set. Both go through gota's CSV reader with a single
// space delimiter, so a ragged row fails the whole table with ErrMalformed.
//
// Opener abstracts where the bytes come from: plain paths are read from disk,
// s3://bucket/key locations from an S3-compatible store via minio-go.
package dataset
