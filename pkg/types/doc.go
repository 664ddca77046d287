// Package types defines the shared in-memory representation of engine
// observations used by every stage of the trainer: the raw C-MAPSS record
// layout and the labelled form produced once RUL is known.
package types
