package localfs

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/fsutil"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/quality"
)

// Metrics understood by RuleEvaluator. Ratio operators imply their metric
// when a rule leaves it out.
const (
	MetricRowCount      = "row_count"
	MetricNullCount     = "null_count"
	MetricDistinctCount = "distinct_count"
	MetricCompleteness  = "completeness"
	MetricUniqueness    = "uniqueness"
)

// RuleEvaluator measures rules over the union of the given datasets in a
// single pass.
//
// completeness is non-null rows over all rows; uniqueness is distinct
// non-null values over non-null rows. Both are NaN on an empty dataset,
// which the quality gate reports as a missing measurement.
type RuleEvaluator struct{}

type fieldStats struct {
	nonNull  int64
	distinct map[string]struct{}
}

// Evaluate implements collaborator.Evaluator.
func (e *RuleEvaluator) Evaluate(ctx context.Context, req collaborator.EvaluateRequest) ([]collaborator.Measurement, error) {
	metrics := make([]string, len(req.Rules))
	stats := make(map[string]*fieldStats)
	for i, rule := range req.Rules {
		m, err := metricOf(rule)
		if err != nil {
			return nil, err
		}
		metrics[i] = m
		if m != MetricRowCount {
			if rule.Field == "" {
				return nil, failure.Permanentf("rule %s: metric %s needs a field", rule.ID, m)
			}
			if stats[rule.Field] == nil {
				stats[rule.Field] = &fieldStats{distinct: make(map[string]struct{})}
			}
		}
	}

	var rows int64
	for _, ds := range req.Datasets {
		err := fsutil.ReadDataset(ctx, ds, func(rec fsutil.Record) error {
			rows++
			for field, st := range stats {
				v := rec[field]
				if v == nil {
					continue
				}
				st.nonNull++
				st.distinct[fmt.Sprint(v)] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset %s: %w", ds, err)
		}
	}

	out := make([]collaborator.Measurement, len(req.Rules))
	for i, rule := range req.Rules {
		v := measure(metrics[i], rows, stats[rule.Field])
		out[i] = collaborator.Measurement{
			RuleID: rule.ID,
			Value:  v,
			Passed: !math.IsNaN(v) && quality.Satisfies(rule.Operator, v, rule.Threshold),
		}
	}
	ctxlog.FromContext(ctx).Debug("Measured quality rules.", "rules", len(out), "rows", rows)
	return out, nil
}

func metricOf(rule model.Rule) (string, error) {
	m := rule.Metric
	if m == "" {
		switch rule.Operator {
		case model.OpCompletenessAtLeast:
			m = MetricCompleteness
		case model.OpUniquenessRatioAtLeast:
			m = MetricUniqueness
		default:
			return "", failure.Permanentf("rule %s: operator %s needs an explicit metric", rule.ID, rule.Operator)
		}
	}
	switch m {
	case MetricRowCount, MetricNullCount, MetricDistinctCount, MetricCompleteness, MetricUniqueness:
		return m, nil
	default:
		return "", failure.Permanentf("rule %s: unknown metric %q", rule.ID, m)
	}
}

func measure(metric string, rows int64, st *fieldStats) float64 {
	switch metric {
	case MetricRowCount:
		return float64(rows)
	case MetricNullCount:
		return float64(rows - st.nonNull)
	case MetricDistinctCount:
		return float64(len(st.distinct))
	case MetricCompleteness:
		return ratio(st.nonNull, rows)
	case MetricUniqueness:
		return ratio(int64(len(st.distinct)), st.nonNull)
	}
	return math.NaN()
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return math.NaN()
	}
	return float64(n) / float64(d)
}
