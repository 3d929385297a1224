package model

import (
	"fmt"
	"time"
)

// TaskKind is the closed set of task kinds. Each kind is dispatched to exactly
// one collaborator interface.
type TaskKind string

const (
	KindExtract   TaskKind = "extract"
	KindTransform TaskKind = "transform"
	KindQuality   TaskKind = "quality"
	KindModel     TaskKind = "model"
)

// ParseTaskKind validates a kind read from configuration.
func ParseTaskKind(s string) (TaskKind, error) {
	switch k := TaskKind(s); k {
	case KindExtract, KindTransform, KindQuality, KindModel:
		return k, nil
	default:
		return "", fmt.Errorf("unknown task kind %q", s)
	}
}

// Idempotency declares whether re-executing a task for the same partition is harmless.
type Idempotency string

const (
	SafeToRetry      Idempotency = "safe-to-retry"
	MustNotDuplicate Idempotency = "must-not-duplicate"
)

// ParseIdempotency validates an idempotency class; empty means SafeToRetry.
func ParseIdempotency(s string) (Idempotency, error) {
	switch i := Idempotency(s); i {
	case "":
		return SafeToRetry, nil
	case SafeToRetry, MustNotDuplicate:
		return i, nil
	default:
		return "", fmt.Errorf("unknown idempotency class %q", s)
	}
}

// RetryPolicy bounds attempts and shapes the backoff between them.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultRetryPolicy is applied to fields a definition leaves unset.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	Multiplier:     2.0,
}

// DefaultTimeout is the wall-clock budget of a task attempt when none is declared.
const DefaultTimeout = 30 * time.Minute

// Operator is a quality rule comparison.
type Operator string

const (
	OpEquals                 Operator = "equals"
	OpLessOrEqual            Operator = "less_or_equal"
	OpGreaterThan            Operator = "greater_than"
	OpCompletenessAtLeast    Operator = "completeness_ratio_at_least"
	OpUniquenessRatioAtLeast Operator = "uniqueness_ratio_at_least"
)

// ParseOperator validates an operator read from configuration.
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpEquals, OpLessOrEqual, OpGreaterThan, OpCompletenessAtLeast, OpUniquenessRatioAtLeast:
		return op, nil
	default:
		return "", fmt.Errorf("unknown rule operator %q", s)
	}
}

// IsRatio reports whether the operator compares a ratio in [0, 1].
func (o Operator) IsRatio() bool {
	return o == OpCompletenessAtLeast || o == OpUniquenessRatioAtLeast
}

// Rule is one declared quality check.
type Rule struct {
	ID        string
	Metric    string // e.g. "row_count", "null_count"; implied for ratio operators
	Field     string
	Operator  Operator
	Threshold float64
	Advisory  bool
}

// TaskDefinition is one immutable node of a pipeline graph.
type TaskDefinition struct {
	ID          string
	Kind        TaskKind
	Operation   string
	Upstream    []string
	Idempotency Idempotency
	// IdempotentReapply records the collaborator's contractual guarantee that
	// re-applying a must-not-duplicate task for the same partition is safe.
	IdempotentReapply bool
	Retry             RetryPolicy
	Timeout           time.Duration
	Source            string
	Params            map[string]string
	Rules             []Rule
}

// Retryable reports whether a failed attempt of this task may be re-dispatched.
func (t *TaskDefinition) Retryable() bool {
	return t.Idempotency != MustNotDuplicate || t.IdempotentReapply
}
