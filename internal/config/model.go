package config

// Model is the unified, format-agnostic representation of every pipeline
// definition that was loaded.
type Model struct {
	Pipelines []*Pipeline
}

// Pipeline is the raw form of a `pipeline` block.
type Pipeline struct {
	Name           string
	Sources        []string
	StartPartition string
	FailFast       bool
	MaxParallel    int
	Tasks          []*Task
	// Origin names the file the block came from, for error messages.
	Origin string
}

// Task is the raw form of a `task` block.
type Task struct {
	ID                string
	Kind              string
	Operation         string
	Upstream          []string
	Idempotency       string
	IdempotentReapply bool
	Timeout           string
	Source            string
	Params            map[string]string
	Retry             *Retry
	Rules             []*Rule
}

// Retry is the raw form of a `retry` block. Zero values fall back to defaults.
type Retry struct {
	MaxAttempts    int
	InitialBackoff string
	MaxBackoff     string
	Multiplier     float64
	Jitter         bool
}

// Rule is the raw form of a `rule` block.
type Rule struct {
	ID        string
	Metric    string
	Field     string
	Operator  string
	Threshold float64
	Advisory  bool
}
