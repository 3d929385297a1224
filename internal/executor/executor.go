// Package executor walks the task graph of one pipeline run.
//
// Each run is owned by a single walk goroutine: it computes the ready set,
// dispatches attempts to workers and applies every state transition. Workers
// never touch the run; they only call a collaborator and report back over a
// channel. Total in-flight collaborator calls across runs are bounded by a
// shared worker pool.
//
// A task timeout cancels the context handed to the collaborator; it does not
// abandon the call. A collaborator that ignores its context keeps the attempt
// running, and so keeps the run running, until the call returns.
package executor

import (
	"context"

	"github.com/vk/medallion/internal/model"
)

// Executor is responsible for driving a run to a terminal state.
//
// Execute returns the state the run reached: succeeded, failed, cancelled,
// or running when it is blocked on an attempt whose outcome is unknown and
// must be settled by an operator. The returned error reports infrastructure
// problems (persistence), never task failures.
type Executor interface {
	Execute(ctx context.Context, p *model.Pipeline, run *model.Run) (model.RunState, error)
}
