package evaluate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rulwatch/rulwatch/trainer/internal/config"
)

// Violation is a gate whose condition held for a run.
type Violation struct {
	Gate     string  `json:"gate"`
	Severity string  `json:"severity"`
	Field    string  `json:"field"`
	Value    float64 `json:"value"`
	Message  string  `json:"message"`
}

// Critical reports whether the violation should fail the run.
func (v Violation) Critical() bool { return v.Severity == "critical" }

// CheckGates evaluates every gate against fields and returns those that fire.
// Gates naming a field absent from fields are returned in unknown so callers
// can warn about them; they never fire.
func CheckGates(gates []config.Gate, fields map[string]float64) (fired []Violation, unknown []string) {
	for _, g := range gates {
		ok, field, value, known := evalCondition(g.Condition, fields)
		if !known {
			unknown = append(unknown, g.Name)
			continue
		}
		if !ok {
			continue
		}
		sev := g.Severity
		if sev == "" {
			sev = "warning"
		}
		fired = append(fired, Violation{
			Gate:     g.Name,
			Severity: sev,
			Field:    field,
			Value:    value,
			Message:  fmt.Sprintf("[%s] %s: %s (%s = %.4f)", sev, g.Name, g.Condition, field, value),
		})
	}
	return fired, unknown
}

// evalCondition evaluates a "field op value" condition such as
//
//	recall_failure < 0.9
//	accuracy <= 0.85
//	pca_f1_failure < 0.8
//
// known is false if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, fields map[string]float64) (fires bool, field string, value float64, known bool) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, "", 0, false
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := fields[field]
	if !ok {
		return false, field, 0, false
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, field, v, false
	}
	fires, ok = compareFloat(v, op, threshold)
	return fires, field, v, ok
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) (bool, bool) {
	switch op {
	case ">":
		return v > threshold, true
	case ">=":
		return v >= threshold, true
	case "<":
		return v < threshold, true
	case "<=":
		return v <= threshold, true
	case "==":
		return v == threshold, true
	default:
		return false, false
	}
}
