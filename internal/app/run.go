package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
)

// ErrInvalidArgument is returned for malformed command input.
var ErrInvalidArgument = errors.New("invalid argument")

// Trigger requests a run of pipeline for partitionKey (empty: the partition
// after the watermark) and waits for the walk of a started run to end. A
// no-op trigger returns the existing run as stored, or nil when the
// partition was committed by a run that no longer exists.
func (a *App) Trigger(ctx context.Context, pipeline, partitionKey string, force bool) (coordinator.Ticket, *model.Run, error) {
	ctx = a.context(ctx)
	req := coordinator.Request{Pipeline: pipeline, Force: force}
	if partitionKey != "" {
		key, err := partition.Parse(partitionKey)
		if err != nil {
			return coordinator.Ticket{}, nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		req.Partition = key
	}

	ticket, err := a.coord.Trigger(ctx, req)
	if err != nil {
		return coordinator.Ticket{}, nil, err
	}
	if ticket.RunID == "" {
		return ticket, nil, nil
	}
	if ticket.Outcome == coordinator.OutcomeStarted {
		a.logger.Info("🚀 Run started, waiting for it to finish...", "runID", ticket.RunID, "pipeline", pipeline, "partition", ticket.Partition.String())
	}

	run, err := a.coord.Wait(ctx, ticket.RunID)
	if err != nil {
		return ticket, nil, err
	}
	if ticket.Outcome == coordinator.OutcomeStarted {
		a.logger.Info("🏁 Run finished.", "runID", run.ID, "state", run.State)
	}
	return ticket, run, nil
}

// Status returns a snapshot of a run.
func (a *App) Status(ctx context.Context, runID string) (*model.Run, error) {
	return a.coord.Status(a.context(ctx), runID)
}

// Resolve settles an interrupted task and waits for the resumed run to end.
func (a *App) Resolve(ctx context.Context, runID, taskID, outcome string) (*model.Run, error) {
	ctx = a.context(ctx)
	state := model.TaskState(outcome)
	if state != model.TaskSucceeded && state != model.TaskFailed {
		return nil, fmt.Errorf("%w: outcome must be %s or %s, got %q", ErrInvalidArgument, model.TaskSucceeded, model.TaskFailed, outcome)
	}
	if err := a.coord.Resolve(ctx, runID, taskID, state); err != nil {
		return nil, err
	}
	return a.coord.Wait(ctx, runID)
}
