// Package collaborator defines the boundary between the orchestrator and the
// jobs that actually move data. The engine never reads or writes datasets
// itself; it hands each task to one of the interfaces below and waits.
//
// Implementations must honour ctx: when it is done they should stop and
// return ctx.Err() (possibly wrapped). Errors may be classified with the
// failure package; unclassified errors are treated as transient.
package collaborator

import (
	"context"

	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
)

// Result is what a data-moving collaborator reports on success.
type Result struct {
	Rows int64
}

// ExtractRequest asks an extractor to land one partition of a source.
type ExtractRequest struct {
	Pipeline    string
	TaskID      string
	Source      string
	Partition   partition.Key
	Destination string
	Params      map[string]string
}

// TransformRequest asks a transformer to cleanse landed inputs.
type TransformRequest struct {
	Pipeline    string
	TaskID      string
	Inputs      []string
	Partition   partition.Key
	Destination string
	Params      map[string]string
}

// EvaluateRequest asks the quality evaluator to measure a dataset.
type EvaluateRequest struct {
	Pipeline  string
	TaskID    string
	Datasets  []string
	Partition partition.Key
	Rules     []model.Rule
	Params    map[string]string
}

// Measurement is one measured rule, in rule order. Passed is the
// evaluator's own opinion; the quality gate makes the binding decision.
type Measurement struct {
	RuleID string
	Value  float64
	Passed bool
}

// LoadRequest asks the modeler to load transformed data into serving tables.
type LoadRequest struct {
	Pipeline  string
	TaskID    string
	Inputs    []string
	Partition partition.Key
	Params    map[string]string
}

// Extractor reads a source and writes raw records to a landing location.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (Result, error)
}

// Transformer reads landed data and writes cleansed, normalized data.
type Transformer interface {
	Transform(ctx context.Context, req TransformRequest) (Result, error)
}

// Evaluator measures a dataset against a rule set.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluateRequest) ([]Measurement, error)
}

// Modeler loads transformed data into the dimensional serving store.
type Modeler interface {
	Load(ctx context.Context, req LoadRequest) (Result, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, req ExtractRequest) (Result, error)

func (f ExtractorFunc) Extract(ctx context.Context, req ExtractRequest) (Result, error) {
	return f(ctx, req)
}

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc func(ctx context.Context, req TransformRequest) (Result, error)

func (f TransformerFunc) Transform(ctx context.Context, req TransformRequest) (Result, error) {
	return f(ctx, req)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, req EvaluateRequest) ([]Measurement, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, req EvaluateRequest) ([]Measurement, error) {
	return f(ctx, req)
}

// ModelerFunc adapts a function to the Modeler interface.
type ModelerFunc func(ctx context.Context, req LoadRequest) (Result, error)

func (f ModelerFunc) Load(ctx context.Context, req LoadRequest) (Result, error) {
	return f(ctx, req)
}
