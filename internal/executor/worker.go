package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
)

// attempt is everything a worker needs to run one task attempt. It is built
// by the walk goroutine so workers never read the run.
type attempt struct {
	def      *model.TaskDefinition
	pipeline string
	key      partition.Key
	number   int
	inputs   []string
	output   string
}

// report is a worker's answer for one attempt.
type report struct {
	taskID       string
	result       collaborator.Result
	measurements []collaborator.Measurement
	err          error
}

func (w *walk) newAttempt(def *model.TaskDefinition, number int) attempt {
	a := attempt{
		def:      def,
		pipeline: w.p.Name,
		key:      w.run.Partition,
		number:   number,
	}
	switch def.Kind {
	case model.KindExtract:
		a.output = w.location(def)
	case model.KindTransform:
		a.inputs = w.locations(w.p.NearestUpstream(def.ID, model.KindExtract))
		a.output = w.location(def)
	case model.KindQuality, model.KindModel:
		a.inputs = w.locations(w.p.NearestUpstream(def.ID, model.KindTransform))
	}
	return a
}

func (w *walk) location(def *model.TaskDefinition) string {
	return w.e.layout.Location(w.p.Name, def.Kind, def.ID, w.run.Partition)
}

func (w *walk) locations(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		def, _ := w.p.Task(id)
		out = append(out, w.location(def))
	}
	return out
}

// perform runs one attempt on the shared pool under the task's timeout.
func (e *Engine) perform(ctx context.Context, a attempt) (r report) {
	r.taskID = a.def.ID
	logger := ctxlog.FromContext(ctx)

	if err := e.pool.Acquire(ctx, 1); err != nil {
		r.err = fmt.Errorf("waiting for a worker: %w", err)
		return r
	}
	defer e.pool.Release(1)

	timeout := a.def.Timeout
	if timeout <= 0 {
		timeout = model.DefaultTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.err = failure.Permanentf("operation %s panicked: %v", a.def.Operation, p)
		}
	}()

	logger.Info("▶️ Starting task attempt.", "kind", a.def.Kind, "operation", a.def.Operation)
	r.result, r.measurements, r.err = e.call(actx, a)

	if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		r.err = failure.Transient(fmt.Errorf("timed out after %s: %w", timeout, r.err))
	}
	return r
}

// call dispatches the attempt to the collaborator for its kind.
func (e *Engine) call(ctx context.Context, a attempt) (collaborator.Result, []collaborator.Measurement, error) {
	def := a.def
	switch def.Kind {
	case model.KindExtract:
		x, ok := e.ops.Extractor(def.Operation)
		if !ok {
			return collaborator.Result{}, nil, unresolved(def)
		}
		res, err := x.Extract(ctx, collaborator.ExtractRequest{
			Pipeline:    a.pipeline,
			TaskID:      def.ID,
			Source:      def.Source,
			Partition:   a.key,
			Destination: a.output,
			Params:      def.Params,
		})
		return res, nil, err

	case model.KindTransform:
		t, ok := e.ops.Transformer(def.Operation)
		if !ok {
			return collaborator.Result{}, nil, unresolved(def)
		}
		res, err := t.Transform(ctx, collaborator.TransformRequest{
			Pipeline:    a.pipeline,
			TaskID:      def.ID,
			Inputs:      a.inputs,
			Partition:   a.key,
			Destination: a.output,
			Params:      def.Params,
		})
		return res, nil, err

	case model.KindQuality:
		ev, ok := e.ops.Evaluator(def.Operation)
		if !ok {
			return collaborator.Result{}, nil, unresolved(def)
		}
		ms, err := ev.Evaluate(ctx, collaborator.EvaluateRequest{
			Pipeline:  a.pipeline,
			TaskID:    def.ID,
			Datasets:  a.inputs,
			Partition: a.key,
			Rules:     def.Rules,
			Params:    def.Params,
		})
		return collaborator.Result{}, ms, err

	case model.KindModel:
		m, ok := e.ops.Modeler(def.Operation)
		if !ok {
			return collaborator.Result{}, nil, unresolved(def)
		}
		res, err := m.Load(ctx, collaborator.LoadRequest{
			Pipeline:  a.pipeline,
			TaskID:    def.ID,
			Inputs:    a.inputs,
			Partition: a.key,
			Params:    def.Params,
		})
		return res, nil, err
	}
	return collaborator.Result{}, nil, failure.Permanentf("unknown task kind %q", def.Kind)
}

func unresolved(def *model.TaskDefinition) error {
	return failure.Permanentf("no %s operation named %q is registered", def.Kind, def.Operation)
}
