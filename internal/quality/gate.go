// Package quality decides whether a measured dataset passes its declared
// rules. It classifies only: it never reads or changes data.
package quality

import (
	"math"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
)

// epsilon absorbs float noise from ratio computations such as 19/20.
const epsilon = 1e-9

// Verdict is the gate's decision for one quality task instance.
type Verdict struct {
	Passed bool
	// Results holds one entry per declared rule, in declaration order.
	Results []model.RuleResult
	// Score is the fraction of non-advisory rules that passed; 1 when every
	// rule is advisory.
	Score float64
}

// FailedRules returns the ids of the non-advisory rules that failed.
func (v Verdict) FailedRules() []string {
	var ids []string
	for _, r := range v.Results {
		if !r.Passed && !r.Advisory {
			ids = append(ids, r.RuleID)
		}
	}
	return ids
}

// Err returns a QualityThresholdError for a failed verdict and nil otherwise.
func (v Verdict) Err(taskID string) error {
	if v.Passed {
		return nil
	}
	return &failure.QualityThresholdError{TaskID: taskID, FailedRules: v.FailedRules()}
}

// Evaluate compares measurements with the rules of task. A non-advisory rule
// without a measurement fails; advisory rules are reported but never fail the
// verdict. Measurements for undeclared rules are ignored.
func Evaluate(task *model.TaskDefinition, measurements []collaborator.Measurement) Verdict {
	byRule := make(map[string]collaborator.Measurement, len(measurements))
	for _, m := range measurements {
		if _, dup := byRule[m.RuleID]; !dup {
			byRule[m.RuleID] = m
		}
	}

	v := Verdict{Passed: true, Results: make([]model.RuleResult, 0, len(task.Rules))}
	var binding, passed int
	for _, rule := range task.Rules {
		res := model.RuleResult{
			RuleID:    rule.ID,
			Operator:  rule.Operator,
			Threshold: rule.Threshold,
			Advisory:  rule.Advisory,
		}
		m, ok := byRule[rule.ID]
		if !ok || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			res.Missing = true
		} else {
			res.Measured = m.Value
			res.Passed = Satisfies(rule.Operator, m.Value, rule.Threshold)
		}

		if !rule.Advisory {
			binding++
			if res.Passed {
				passed++
			} else {
				v.Passed = false
			}
		}
		v.Results = append(v.Results, res)
	}

	v.Score = 1
	if binding > 0 {
		v.Score = float64(passed) / float64(binding)
	}
	return v
}

// Satisfies reports whether measured meets threshold under op.
func Satisfies(op model.Operator, measured, threshold float64) bool {
	switch op {
	case model.OpEquals:
		return math.Abs(measured-threshold) <= epsilon
	case model.OpLessOrEqual:
		return measured <= threshold+epsilon
	case model.OpGreaterThan:
		return measured > threshold+epsilon
	case model.OpCompletenessAtLeast, model.OpUniquenessRatioAtLeast:
		return measured >= threshold-epsilon
	default:
		return false
	}
}
