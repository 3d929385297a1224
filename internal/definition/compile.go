// Package definition validates raw pipeline definitions and compiles them
// into immutable model.Pipeline values. Every problem is reported as a
// *failure.DefinitionError so that registration aborts before any run exists.
package definition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/medallion/internal/config"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/dag"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
)

// Resolver checks that an operation name is bound to a collaborator of the
// given kind.
type Resolver interface {
	Resolve(kind model.TaskKind, operation string) error
}

// Compile validates every pipeline in m. It returns all pipelines or, if any
// is invalid, an error joining one DefinitionError per invalid pipeline.
func Compile(ctx context.Context, m *config.Model, resolver Resolver) ([]*model.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)

	var (
		out  []*model.Pipeline
		errs []error
		seen = make(map[string]string)
	)
	for _, raw := range m.Pipelines {
		if prev, dup := seen[raw.Name]; dup {
			errs = append(errs, &failure.DefinitionError{
				Pipeline: raw.Name,
				Err:      fmt.Errorf("declared in both %s and %s", prev, raw.Origin),
			})
			continue
		}
		seen[raw.Name] = raw.Origin

		p, err := compilePipeline(raw, resolver)
		if err != nil {
			errs = append(errs, &failure.DefinitionError{Pipeline: raw.Name, Err: err})
			continue
		}
		logger.Debug("Compiled pipeline definition.", "pipeline", p.Name, "tasks", len(p.Tasks))
		out = append(out, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func compilePipeline(raw *config.Pipeline, resolver Resolver) (*model.Pipeline, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("pipeline name is empty")
	}
	if len(raw.Sources) == 0 {
		return nil, fmt.Errorf("at least one watermark source is required")
	}
	if raw.MaxParallel < 0 {
		return nil, fmt.Errorf("max_parallel must not be negative")
	}
	if len(raw.Tasks) == 0 {
		return nil, fmt.Errorf("pipeline has no tasks")
	}

	p := model.Pipeline{
		Name:        raw.Name,
		Sources:     raw.Sources,
		FailFast:    raw.FailFast,
		MaxParallel: raw.MaxParallel,
	}
	if raw.StartPartition != "" {
		k, err := partition.Parse(raw.StartPartition)
		if err != nil {
			return nil, fmt.Errorf("start_partition: %w", err)
		}
		p.StartPartition = k
	}

	g := dag.New()
	defs := make(map[string]*model.TaskDefinition, len(raw.Tasks))
	for _, rt := range raw.Tasks {
		if rt.ID == "" {
			return nil, fmt.Errorf("task id is empty")
		}
		if g.Has(rt.ID) {
			return nil, fmt.Errorf("duplicate task id %q", rt.ID)
		}
		def, err := compileTask(rt, resolver)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", rt.ID, err)
		}
		g.AddNode(rt.ID)
		defs[rt.ID] = def
	}

	for _, rt := range raw.Tasks {
		for _, up := range rt.Upstream {
			if !g.Has(up) {
				return nil, fmt.Errorf("task %q: unknown upstream task %q", rt.ID, up)
			}
			if err := g.AddEdge(up, rt.ID); err != nil {
				return nil, fmt.Errorf("task %q: %w", rt.ID, err)
			}
		}
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for _, id := range order {
		p.Tasks = append(p.Tasks, defs[id])
	}
	compiled := model.NewPipeline(p)

	if err := checkInputs(compiled); err != nil {
		return nil, err
	}
	return compiled, nil
}

func compileTask(rt *config.Task, resolver Resolver) (*model.TaskDefinition, error) {
	kind, err := model.ParseTaskKind(rt.Kind)
	if err != nil {
		return nil, err
	}
	if rt.Operation == "" {
		return nil, fmt.Errorf("operation is required")
	}
	if err := resolver.Resolve(kind, rt.Operation); err != nil {
		return nil, err
	}
	idem, err := model.ParseIdempotency(rt.Idempotency)
	if err != nil {
		return nil, err
	}

	def := &model.TaskDefinition{
		ID:                rt.ID,
		Kind:              kind,
		Operation:         rt.Operation,
		Upstream:          rt.Upstream,
		Idempotency:       idem,
		IdempotentReapply: rt.IdempotentReapply,
		Timeout:           model.DefaultTimeout,
		Source:            rt.Source,
		Params:            rt.Params,
	}
	if rt.Timeout != "" {
		if def.Timeout, err = positiveDuration("timeout", rt.Timeout); err != nil {
			return nil, err
		}
	}
	if def.Retry, err = compileRetry(rt.Retry); err != nil {
		return nil, err
	}
	if kind == model.KindExtract && rt.Source == "" {
		return nil, fmt.Errorf("extract tasks require a source")
	}

	if kind != model.KindQuality {
		if len(rt.Rules) > 0 {
			return nil, fmt.Errorf("rules are only allowed on quality tasks")
		}
		return def, nil
	}
	if len(rt.Rules) == 0 {
		return nil, fmt.Errorf("quality tasks require at least one rule")
	}
	ruleIDs := make(map[string]bool, len(rt.Rules))
	for _, rr := range rt.Rules {
		if ruleIDs[rr.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", rr.ID)
		}
		ruleIDs[rr.ID] = true
		rule, err := compileRule(rr)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rr.ID, err)
		}
		def.Rules = append(def.Rules, rule)
	}
	return def, nil
}

func compileRetry(raw *config.Retry) (model.RetryPolicy, error) {
	policy := model.DefaultRetryPolicy
	if raw == nil {
		return policy, nil
	}
	var err error
	if raw.MaxAttempts < 0 {
		return policy, fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if raw.MaxAttempts > 0 {
		policy.MaxAttempts = raw.MaxAttempts
	}
	if raw.InitialBackoff != "" {
		if policy.InitialBackoff, err = positiveDuration("retry.initial_backoff", raw.InitialBackoff); err != nil {
			return policy, err
		}
	}
	if raw.MaxBackoff != "" {
		if policy.MaxBackoff, err = positiveDuration("retry.max_backoff", raw.MaxBackoff); err != nil {
			return policy, err
		}
	}
	if raw.Multiplier != 0 {
		if raw.Multiplier < 1 {
			return policy, fmt.Errorf("retry.multiplier must be at least 1")
		}
		policy.Multiplier = raw.Multiplier
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		return policy, fmt.Errorf("retry.max_backoff is shorter than retry.initial_backoff")
	}
	policy.Jitter = raw.Jitter
	return policy, nil
}

func compileRule(rr *config.Rule) (model.Rule, error) {
	if rr.ID == "" {
		return model.Rule{}, fmt.Errorf("rule id is empty")
	}
	op, err := model.ParseOperator(rr.Operator)
	if err != nil {
		return model.Rule{}, err
	}
	rule := model.Rule{
		ID:        rr.ID,
		Metric:    rr.Metric,
		Field:     rr.Field,
		Operator:  op,
		Threshold: rr.Threshold,
		Advisory:  rr.Advisory,
	}
	switch {
	case op.IsRatio():
		if rr.Threshold < 0 || rr.Threshold > 1 {
			return model.Rule{}, fmt.Errorf("ratio threshold %v is outside [0, 1]", rr.Threshold)
		}
		if rr.Field == "" {
			return model.Rule{}, fmt.Errorf("%s requires a field", op)
		}
		if rule.Metric == "" {
			rule.Metric = impliedMetric[op]
		}
	case rule.Metric == "":
		return model.Rule{}, fmt.Errorf("metric is required for operator %s", op)
	}
	return rule, nil
}

var impliedMetric = map[model.Operator]string{
	model.OpCompletenessAtLeast:    "completeness",
	model.OpUniquenessRatioAtLeast: "uniqueness",
}

// checkInputs makes sure every task can find the datasets it consumes.
func checkInputs(p *model.Pipeline) error {
	for _, t := range p.Tasks {
		var want model.TaskKind
		switch t.Kind {
		case model.KindTransform:
			want = model.KindExtract
		case model.KindQuality, model.KindModel:
			want = model.KindTransform
		default:
			continue
		}
		if len(p.NearestUpstream(t.ID, want)) == 0 {
			return fmt.Errorf("task %q: %s tasks need an upstream %s task", t.ID, t.Kind, want)
		}
	}
	return nil
}

func positiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}
