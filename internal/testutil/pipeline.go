package testutil

import (
	"time"

	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
)

// FastRetry keeps retry tests quick: three attempts a millisecond apart.
var FastRetry = model.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	Multiplier:     2,
}

// Task builds a task definition served by Fakes.
func Task(id string, kind model.TaskKind, upstream ...string) *model.TaskDefinition {
	t := &model.TaskDefinition{
		ID:          id,
		Kind:        kind,
		Operation:   FakeOperation,
		Upstream:    upstream,
		Idempotency: model.SafeToRetry,
		Retry:       FastRetry,
		Timeout:     time.Minute,
	}
	if kind == model.KindExtract {
		t.Source = id
	}
	return t
}

// QualityTask builds a quality task with the given rules.
func QualityTask(id string, upstream string, rules ...model.Rule) *model.TaskDefinition {
	t := Task(id, model.KindQuality, upstream)
	t.Rules = rules
	return t
}

// Pipeline indexes tasks, which must already be in topological order. The
// pipeline's watermark sources are its extract tasks.
func Pipeline(name string, tasks ...*model.TaskDefinition) *model.Pipeline {
	var sources []string
	for _, t := range tasks {
		if t.Kind == model.KindExtract {
			sources = append(sources, t.Source)
		}
	}
	return model.NewPipeline(model.Pipeline{
		Name:           name,
		Sources:        sources,
		StartPartition: partition.MustParse("2024-01-01"),
		Tasks:          tasks,
	})
}

// Linear builds extract -> transform -> quality -> model with one passing
// row-count rule on the quality task.
func Linear(name string) *model.Pipeline {
	return Pipeline(name,
		Task("extract", model.KindExtract),
		Task("transform", model.KindTransform, "extract"),
		QualityTask("quality", "transform", model.Rule{
			ID: "has_rows", Metric: "row_count", Operator: model.OpGreaterThan, Threshold: 0,
		}),
		Task("model", model.KindModel, "quality"),
	)
}
