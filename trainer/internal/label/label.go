// Package label derives remaining useful life and the failure-within-window
// label for every observation.
package label

import (
	"errors"
	"fmt"
	"math"

	"github.com/rulwatch/rulwatch/pkg/types"
)

// ErrMissingTruth is returned when a test engine has no ground-truth row.
var ErrMissingTruth = errors.New("label: missing ground truth")

// MaxCycles returns the last observed cycle per engine.
func MaxCycles(obs []types.Observation) map[int]int {
	out := make(map[int]int)
	for _, o := range obs {
		if c, ok := out[o.ID]; !ok || o.Cycle > c {
			out[o.ID] = o.Cycle
		}
	}
	return out
}

// Train labels run-to-failure observations: RUL = max_cycle(id) - cycle.
func Train(obs []types.Observation, window int) []types.Labeled {
	maxCycle := MaxCycles(obs)
	out := make([]types.Labeled, len(obs))
	for i, o := range obs {
		out[i] = newLabeled(o, maxCycle[o.ID]-o.Cycle, window)
	}
	return out
}

// Test labels truncated observations. truth[k] is the number of cycles the
// engine with id k+1 kept running after its last observed cycle, so
// RUL = max_cycle(id) + truth[id-1] - cycle.
func Test(obs []types.Observation, truth []float64, window int) ([]types.Labeled, error) {
	maxCycle := MaxCycles(obs)
	out := make([]types.Labeled, len(obs))
	for i, o := range obs {
		k := o.ID - 1
		if k < 0 || k >= len(truth) {
			return nil, fmt.Errorf("%w: engine %d (have %d truth rows)", ErrMissingTruth, o.ID, len(truth))
		}
		remaining := int(math.Round(truth[k]))
		out[i] = newLabeled(o, maxCycle[o.ID]+remaining-o.Cycle, window)
	}
	return out, nil
}

// Of returns the label for a RUL value: 1 when the engine fails within window cycles.
func Of(rul, window int) int {
	if rul <= window {
		return 1
	}
	return 0
}

func newLabeled(o types.Observation, rul, window int) types.Labeled {
	return types.Labeled{Observation: o, RUL: rul, Label: Of(rul, window)}
}

// Counts returns how many rows carry label 0 and label 1.
func Counts(rows []types.Labeled) (healthy, failing int) {
	for _, r := range rows {
		if r.Label == 1 {
			failing++
		} else {
			healthy++
		}
	}
	return healthy, failing
}
