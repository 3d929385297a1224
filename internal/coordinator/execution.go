package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/watermark"
)

// commitAttempts bounds how often a watermark commit re-reads after losing a
// compare-and-swap race to another run.
const commitAttempts = 3

// launch starts the walk of run in the background. The run outlives the
// request that created it, so only the context's values are inherited.
// The caller must hold c.mu.
func (c *Coordinator) launch(ctx context.Context, p *model.Pipeline, run *model.Run) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ex := &execution{cancel: cancel, done: make(chan struct{})}
	c.active[run.ID] = ex
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer close(ex.done)
		defer cancel()

		state, err := c.exec.Execute(ctx, p, run)
		if err != nil {
			ctxlog.FromContext(ctx).Error("Run walk reported persistence errors.", "runID", run.ID, "error", err)
		}
		c.finalize(context.WithoutCancel(ctx), p, run, state)

		c.mu.Lock()
		delete(c.active, run.ID)
		c.mu.Unlock()
	}()
}

// finalize records the end of a walk. On success the watermark is committed
// first; the run is only recorded succeeded once that has happened.
func (c *Coordinator) finalize(ctx context.Context, p *model.Pipeline, run *model.Run, state model.RunState) {
	logger := ctxlog.FromContext(ctx).With("runID", run.ID, "pipeline", p.Name, "partition", run.Partition.String())

	switch state {
	case model.RunSucceeded:
		if err := c.commit(ctx, p, run); err != nil {
			logger.Error("Failed to commit watermark.", "error", err)
			state = model.RunFailed
			run.Error = "watermark commit failed: " + err.Error()
		}
	case model.RunFailed:
		run.Error = summarize(run)
	case model.RunCancelled:
		run.Error = "run cancelled"
	default:
		logger.Warn("Run is waiting for attempts with an unknown outcome to be resolved.")
		return
	}

	end := c.now()
	run.State = state
	run.EndedAt = &end
	if err := c.runs.SaveRun(ctx, run); err != nil {
		logger.Error("Failed to persist run outcome.", "state", state, "error", err)
		return
	}
	logger.Info("Run finished.", "state", state, "error", run.Error)
}

// commit advances every source of the pipeline to cover the run's
// partition. Sources already at or past it are left alone, so a backfill
// never moves a watermark backwards and a repeated commit is a no-op.
func (c *Coordinator) commit(ctx context.Context, p *model.Pipeline, run *model.Run) error {
	var err error
	for range commitAttempts {
		var updates []watermark.Update
		for _, src := range p.Sources {
			current, _, gerr := c.marks.Get(ctx, p.Name, src)
			if gerr != nil {
				return gerr
			}
			next := partition.Max(current, run.Partition)
			if next.Equal(current) {
				continue
			}
			updates = append(updates, watermark.Update{Source: src, Expected: current, Next: next})
		}
		if len(updates) == 0 {
			return nil
		}

		err = c.marks.Advance(ctx, p.Name, run.ID, updates)
		var conflict *failure.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			return err
		}
	}
	return err
}

// summarize describes why a run failed from its root causes.
func summarize(run *model.Run) string {
	var parts []string
	for _, ti := range run.RootCauses() {
		parts = append(parts, fmt.Sprintf("%s %s: %s", ti.TaskID, ti.State, ti.Error))
	}
	if len(parts) == 0 {
		return "run failed"
	}
	return strings.Join(parts, "; ")
}

// Wait blocks until the run's walk in this process ends, then returns its
// snapshot. A run not executing here is returned as stored.
func (c *Coordinator) Wait(ctx context.Context, runID string) (*model.Run, error) {
	c.mu.Lock()
	ex, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		select {
		case <-ex.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.runs.GetRun(ctx, runID)
}

// Cancel asks a run to stop. Tasks that have not started are skipped;
// running attempts are asked to stop and recorded when they report.
func (c *Coordinator) Cancel(ctx context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ex, ok := c.active[runID]; ok {
		ctxlog.FromContext(ctx).Info("Cancelling run.", "runID", runID)
		ex.cancel()
		return nil
	}

	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.State.IsTerminal() {
		return fmt.Errorf("cancel %s: %w (%s)", runID, ErrRunFinished, run.State)
	}

	// Not executing here: the run is blocked on unresolved attempts or was
	// interrupted and not yet resumed.
	now := c.now()
	for _, ti := range run.Tasks {
		if ti.State != model.TaskPending && ti.State != model.TaskReady {
			continue
		}
		ti.Error = "run cancelled"
		if err := ti.Transition(model.TaskSkipped, now); err != nil {
			return err
		}
		if err := c.runs.SaveTask(ctx, ti); err != nil {
			return err
		}
	}
	run.State = model.RunCancelled
	run.Error = "run cancelled"
	run.EndedAt = &now
	return c.runs.SaveRun(ctx, run)
}

// Resume restarts the walk of every non-terminal run left by a previous
// process. Succeeded tasks are kept; see executor for how interrupted
// attempts are treated. It returns the ids of the runs resumed.
func (c *Coordinator) Resume(ctx context.Context) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	runs, err := c.runs.NonTerminalRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unfinished runs: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var resumed []string
	for _, run := range runs {
		if _, ok := c.active[run.ID]; ok {
			continue
		}
		p, ok := c.pipelines[run.Pipeline]
		if !ok {
			logger.Warn("Cannot resume run of an unknown pipeline.", "runID", run.ID, "pipeline", run.Pipeline)
			continue
		}
		logger.Info("Resuming run.", "runID", run.ID, "pipeline", run.Pipeline, "partition", run.Partition.String())
		c.launch(ctx, p, run)
		resumed = append(resumed, run.ID)
	}
	return resumed, nil
}

// Resolve settles a task whose attempt was interrupted with an unknown
// outcome, after an operator has checked its real side effects. outcome must
// be succeeded or failed. The run then continues from the settled state.
func (c *Coordinator) Resolve(ctx context.Context, runID, taskID string, outcome model.TaskState) error {
	if outcome != model.TaskSucceeded && outcome != model.TaskFailed {
		return fmt.Errorf("resolve %s/%s: outcome must be %s or %s, got %q", runID, taskID, model.TaskSucceeded, model.TaskFailed, outcome)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[runID]; ok {
		return fmt.Errorf("resolve %s/%s: %w", runID, taskID, ErrRunExecuting)
	}
	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	ti := run.Task(taskID)
	if ti == nil {
		return fmt.Errorf("resolve %s/%s: %w: run has no such task", runID, taskID, ErrNotResolvable)
	}
	if ti.State != model.TaskRunning {
		return fmt.Errorf("resolve %s/%s: %w: task is %s, only running tasks can be resolved", runID, taskID, ErrNotResolvable, ti.State)
	}

	if outcome == model.TaskFailed {
		ti.Error = "marked failed by operator"
		ti.ErrorClass = failure.ClassPermanent
	} else {
		ti.Error = ""
		ti.ErrorClass = failure.ClassNone
	}
	if err := ti.Transition(outcome, c.now()); err != nil {
		return err
	}
	if err := c.runs.SaveTask(ctx, ti); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Task resolved by operator.", "runID", runID, "taskID", taskID, "outcome", outcome)

	if run.State.IsTerminal() {
		return nil
	}
	p, ok := c.pipelines[run.Pipeline]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownPipeline, run.Pipeline)
	}
	c.launch(ctx, p, run)
	return nil
}
