package model

import "fmt"

// TaskState is the state of one task instance within a run.
type TaskState string

const (
	TaskPending       TaskState = "pending"
	TaskReady         TaskState = "ready"
	TaskRunning       TaskState = "running"
	TaskSucceeded     TaskState = "succeeded"
	TaskFailed        TaskState = "failed"
	TaskQualityFailed TaskState = "quality_failed"
	TaskSkipped       TaskState = "skipped"
)

// IsTerminal reports whether s can never change again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskQualityFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the task state machine.
// running -> ready is the retry edge.
func CanTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskReady || to == TaskSkipped
	case TaskReady:
		return to == TaskRunning || to == TaskSkipped
	case TaskRunning:
		return to == TaskSucceeded || to == TaskFailed || to == TaskQualityFailed || to == TaskReady
	default:
		return false
	}
}

// ParseTaskState validates a persisted state.
func ParseTaskState(s string) (TaskState, error) {
	switch st := TaskState(s); st {
	case TaskPending, TaskReady, TaskRunning, TaskSucceeded, TaskFailed, TaskQualityFailed, TaskSkipped:
		return st, nil
	default:
		return "", fmt.Errorf("unknown task state %q", s)
	}
}

// RunState is the overall state of a run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// IsTerminal reports whether the run has finished.
func (s RunState) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// ParseRunState validates a persisted state.
func ParseRunState(s string) (RunState, error) {
	switch st := RunState(s); st {
	case RunPending, RunRunning, RunSucceeded, RunFailed, RunCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown run state %q", s)
	}
}
