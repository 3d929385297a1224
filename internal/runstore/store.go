// Package runstore defines the durable history of runs and task instances.
//
// Runs are never deleted. The store is also where partition exclusivity is
// enforced: CreateRun refuses a run whose partition overlaps a run of the
// same pipeline that has not reached a terminal state.
package runstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Filter narrows ListRuns. Zero values match everything.
type Filter struct {
	Pipeline string
	State    model.RunState
	Limit    int
}

// Store is the interface for persisting runs and their task instances.
//
// Implementations MUST be safe for concurrent use. Returned runs are copies
// owned by the caller.
type Store interface {
	// CreateRun persists a new run and all its task instances. It returns a
	// *failure.ConcurrencyConflictError naming the existing run if a
	// non-terminal run of the same pipeline overlaps run.Partition.
	CreateRun(ctx context.Context, run *model.Run) error

	// SaveRun updates the run header: state, end time and error summary.
	SaveRun(ctx context.Context, run *model.Run) error

	// SaveTask updates one task instance.
	SaveTask(ctx context.Context, ti *model.TaskInstance) error

	// GetRun returns a run with its task instances, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// ActiveRun returns the non-terminal run of pipeline whose partition
	// overlaps key, or ErrNotFound.
	ActiveRun(ctx context.Context, pipeline string, key partition.Key) (*model.Run, error)

	// LatestRun returns the most recently started run of pipeline for exactly
	// key, or ErrNotFound.
	LatestRun(ctx context.Context, pipeline string, key partition.Key) (*model.Run, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, f Filter) ([]*model.Run, error)

	// NonTerminalRuns returns every run that is pending or running, oldest first.
	NonTerminalRuns(ctx context.Context) ([]*model.Run, error)
}

// InFlight builds the conflict error for a partition that already has an
// active run.
func InFlight(existing *model.Run, requested partition.Key) error {
	return &failure.ConcurrencyConflictError{
		Pipeline:  existing.Pipeline,
		Partition: requested.String(),
		RunID:     existing.ID,
		Reason:    fmt.Sprintf("partition overlaps in-flight run for %s", existing.Partition),
	}
}
