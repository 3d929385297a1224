package model

import (
	"fmt"
	"time"

	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/partition"
)

// RuleResult is the gate's verdict on one rule of a quality task instance.
type RuleResult struct {
	RuleID    string   `json:"rule_id"`
	Operator  Operator `json:"operator"`
	Measured  float64  `json:"measured"`
	Threshold float64  `json:"threshold"`
	Advisory  bool     `json:"advisory,omitempty"`
	// Missing is set when the evaluator returned no usable value for the rule.
	Missing   bool     `json:"missing,omitempty"`
	Passed    bool     `json:"passed"`
}

// TaskInstance is one execution record of a task definition within a run.
type TaskInstance struct {
	TaskID       string        `json:"task_id"`
	RunID        string        `json:"run_id"`
	Kind         TaskKind      `json:"kind"`
	State        TaskState     `json:"state"`
	Attempts     int           `json:"attempts"`
	Error        string        `json:"error,omitempty"`
	ErrorClass   failure.Class `json:"error_class,omitempty"`
	Rows         int64         `json:"rows"`
	QualityScore *float64      `json:"quality_score,omitempty"`
	Quality      []RuleResult  `json:"quality_results,omitempty"`
	Output       string        `json:"output,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}

// Transition moves the instance along the state machine and stamps times.
func (ti *TaskInstance) Transition(to TaskState, now time.Time) error {
	if !CanTransition(ti.State, to) {
		return fmt.Errorf("invalid transition for task %q: %s -> %s", ti.TaskID, ti.State, to)
	}
	ti.State = to
	switch {
	case to == TaskRunning && ti.StartedAt == nil:
		ti.StartedAt = &now
	case to.IsTerminal():
		ti.EndedAt = &now
	}
	return nil
}

// FailedRules returns the ids of non-advisory rules that did not pass.
func (ti *TaskInstance) FailedRules() []string {
	var ids []string
	for _, r := range ti.Quality {
		if !r.Passed && !r.Advisory {
			ids = append(ids, r.RuleID)
		}
	}
	return ids
}

// Clone returns a deep copy of ti.
func (ti *TaskInstance) Clone() *TaskInstance {
	c := *ti
	if ti.QualityScore != nil {
		v := *ti.QualityScore
		c.QualityScore = &v
	}
	if ti.Quality != nil {
		c.Quality = append([]RuleResult(nil), ti.Quality...)
	}
	if ti.StartedAt != nil {
		v := *ti.StartedAt
		c.StartedAt = &v
	}
	if ti.EndedAt != nil {
		v := *ti.EndedAt
		c.EndedAt = &v
	}
	return &c
}

// Run is one execution of a pipeline for a partition.
type Run struct {
	ID        string          `json:"run_id"`
	Pipeline  string          `json:"pipeline"`
	Partition partition.Key   `json:"partition"`
	State     RunState        `json:"state"`
	Forced    bool            `json:"forced,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	Tasks     []*TaskInstance `json:"tasks"`
}

// NewRun creates a pending run with one pending instance per task, in the
// pipeline's topological order.
func NewRun(id string, p *Pipeline, key partition.Key, forced bool, now time.Time) *Run {
	r := &Run{
		ID:        id,
		Pipeline:  p.Name,
		Partition: key,
		State:     RunPending,
		Forced:    forced,
		StartedAt: now,
		Tasks:     make([]*TaskInstance, 0, len(p.Tasks)),
	}
	for _, t := range p.Tasks {
		r.Tasks = append(r.Tasks, &TaskInstance{
			TaskID: t.ID,
			RunID:  id,
			Kind:   t.Kind,
			State:  TaskPending,
		})
	}
	return r
}

// Task returns the instance for taskID, or nil.
func (r *Run) Task(taskID string) *TaskInstance {
	for _, ti := range r.Tasks {
		if ti.TaskID == taskID {
			return ti
		}
	}
	return nil
}

// Outcome derives the run state from its task instances. A run with any
// non-terminal instance is still running.
func (r *Run) Outcome() RunState {
	allSucceeded := true
	for _, ti := range r.Tasks {
		if !ti.State.IsTerminal() {
			return RunRunning
		}
		if ti.State != TaskSucceeded {
			allSucceeded = false
		}
	}
	if allSucceeded {
		return RunSucceeded
	}
	return RunFailed
}

// RootCauses returns the failed and quality-failed instances, which explain
// why a run did not succeed. Skipped instances are symptoms, not causes.
func (r *Run) RootCauses() []*TaskInstance {
	var out []*TaskInstance
	for _, ti := range r.Tasks {
		if ti.State == TaskFailed || ti.State == TaskQualityFailed {
			out = append(out, ti)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand to readers.
func (r *Run) Clone() *Run {
	c := *r
	if r.EndedAt != nil {
		v := *r.EndedAt
		c.EndedAt = &v
	}
	c.Tasks = make([]*TaskInstance, len(r.Tasks))
	for i, ti := range r.Tasks {
		c.Tasks[i] = ti.Clone()
	}
	return &c
}
