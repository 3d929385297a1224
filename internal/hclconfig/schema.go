package hclconfig

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes the top-level blocks of a definition file.
type fileRoot struct {
	Pipelines []*pipelineBlock `hcl:"pipeline,block"`
}

type pipelineBlock struct {
	Name           string       `hcl:"name,label"`
	Sources        []string     `hcl:"sources"`
	StartPartition *string      `hcl:"start_partition,optional"`
	FailFast       *bool        `hcl:"fail_fast,optional"`
	MaxParallel    *int         `hcl:"max_parallel,optional"`
	Tasks          []*taskBlock `hcl:"task,block"`
}

type taskBlock struct {
	ID                string         `hcl:"id,label"`
	Kind              string         `hcl:"kind"`
	Operation         string         `hcl:"operation"`
	Upstream          []string       `hcl:"upstream,optional"`
	Idempotency       *string        `hcl:"idempotency,optional"`
	IdempotentReapply *bool          `hcl:"idempotent_reapply,optional"`
	Timeout           *string        `hcl:"timeout,optional"`
	Source            *string        `hcl:"source,optional"`
	Params            hcl.Expression `hcl:"params,optional"`
	Retry             *retryBlock    `hcl:"retry,block"`
	Rules             []*ruleBlock   `hcl:"rule,block"`
}

type retryBlock struct {
	MaxAttempts    *int     `hcl:"max_attempts,optional"`
	InitialBackoff *string  `hcl:"initial_backoff,optional"`
	MaxBackoff     *string  `hcl:"max_backoff,optional"`
	Multiplier     *float64 `hcl:"multiplier,optional"`
	Jitter         *bool    `hcl:"jitter,optional"`
}

type ruleBlock struct {
	ID        string  `hcl:"id,label"`
	Metric    *string `hcl:"metric,optional"`
	Field     *string `hcl:"field,optional"`
	Operator  string  `hcl:"operator"`
	Threshold float64 `hcl:"threshold"`
	Advisory  *bool   `hcl:"advisory,optional"`
}
