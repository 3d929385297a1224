// This file translates decoded HCL blocks into the format-agnostic model
// defined in the config package.

package hclconfig

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/medallion/internal/config"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// evalContext exposes `var.*` from the loader's variables and `env.*` from
// the process environment.
func (l *Loader) evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(l.vars))
	for k, v := range l.vars {
		vars[k] = cty.StringVal(v)
	}
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"var": objectOrEmpty(vars),
			"env": objectOrEmpty(env),
		},
	}
}

func objectOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(m)
}

// isExprDefined checks if an HCL expression was actually present in the
// source. gohcl populates omitted optional expression fields with zero-width
// placeholders, so a nil check is insufficient.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}

func translatePipeline(ctx context.Context, pb *pipelineBlock, evalCtx *hcl.EvalContext) (*config.Pipeline, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", pb.Name)
	logger.Debug("Translating HCL pipeline to internal config model.", "tasks", len(pb.Tasks))

	p := &config.Pipeline{
		Name:           pb.Name,
		Sources:        pb.Sources,
		StartPartition: deref(pb.StartPartition),
		FailFast:       deref(pb.FailFast),
		MaxParallel:    deref(pb.MaxParallel),
	}
	for _, tb := range pb.Tasks {
		params, err := decodeParams(tb.Params, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("pipeline '%s', task '%s': %w", pb.Name, tb.ID, err)
		}
		t := &config.Task{
			ID:                tb.ID,
			Kind:              tb.Kind,
			Operation:         tb.Operation,
			Upstream:          tb.Upstream,
			Idempotency:       deref(tb.Idempotency),
			IdempotentReapply: deref(tb.IdempotentReapply),
			Timeout:           deref(tb.Timeout),
			Source:            deref(tb.Source),
			Params:            params,
		}
		if rb := tb.Retry; rb != nil {
			t.Retry = &config.Retry{
				MaxAttempts:    deref(rb.MaxAttempts),
				InitialBackoff: deref(rb.InitialBackoff),
				MaxBackoff:     deref(rb.MaxBackoff),
				Multiplier:     deref(rb.Multiplier),
				Jitter:         deref(rb.Jitter),
			}
		}
		for _, rb := range tb.Rules {
			t.Rules = append(t.Rules, &config.Rule{
				ID:        rb.ID,
				Metric:    deref(rb.Metric),
				Field:     deref(rb.Field),
				Operator:  rb.Operator,
				Threshold: rb.Threshold,
				Advisory:  deref(rb.Advisory),
			})
		}
		p.Tasks = append(p.Tasks, t)
	}
	return p, nil
}

// decodeParams evaluates a `params = { ... }` object and converts every
// attribute to a string, so numbers and bools may be written unquoted.
func decodeParams(expr hcl.Expression, evalCtx *hcl.EvalContext) (map[string]string, error) {
	if !isExprDefined(expr) {
		return nil, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid params: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("params must be an object, got %s", ty.FriendlyName())
	}

	out := make(map[string]string, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		name := k.AsString()
		sv, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, fmt.Errorf("param '%s': %w", name, err)
		}
		var s string
		if err := gocty.FromCtyValue(sv, &s); err != nil {
			return nil, fmt.Errorf("param '%s': %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
