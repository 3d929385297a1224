package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/quality"
	"github.com/vk/medallion/internal/retry"
)

// walk is the state of one Execute call. Only the goroutine running loop
// reads or writes it.
type walk struct {
	e     *Engine
	ctx   context.Context
	sctx  context.Context // store writes outlive cancellation
	p     *model.Pipeline
	run   *model.Run
	limit int

	inflight  map[string]bool
	notBefore map[string]time.Time
	reports   chan report

	cancelled bool
	tripped   bool // fail-fast has fired
	errs      []error
	logger    *slog.Logger
}

// Execute walks run to the furthest state it can reach. It marks the run
// running but leaves recording the terminal run state to the caller, which
// must commit watermarks first.
func (e *Engine) Execute(ctx context.Context, p *model.Pipeline, run *model.Run) (model.RunState, error) {
	if run.State.IsTerminal() {
		return run.State, nil
	}

	ctx = ctxlog.With(ctx, "runID", run.ID, "pipeline", run.Pipeline, "partition", run.Partition.String())
	limit := e.maxParallel
	if p.MaxParallel > 0 {
		limit = p.MaxParallel
	}
	w := &walk{
		e:         e,
		ctx:       ctx,
		sctx:      context.WithoutCancel(ctx),
		p:         p,
		run:       run,
		limit:     limit,
		inflight:  make(map[string]bool),
		notBefore: make(map[string]time.Time),
		reports:   make(chan report, len(run.Tasks)),
		logger:    ctxlog.FromContext(ctx),
	}

	if run.State != model.RunRunning {
		run.State = model.RunRunning
		w.persistRun()
	}
	w.logger.Info("🚀 Starting run.", "tasks", len(run.Tasks), "maxParallel", limit)

	w.recover()
	state := w.loop()

	w.logger.Info("🏁 Run walk finished.", "state", state)
	return state, errors.Join(w.errs...)
}

// recover reconciles persisted instance states before the first dispatch.
// A fresh run passes through untouched.
func (w *walk) recover() {
	for _, ti := range w.run.Tasks {
		def, ok := w.p.Task(ti.TaskID)
		if !ok {
			w.skip(ti, "task is no longer defined")
			continue
		}
		switch ti.State {
		case model.TaskRunning:
			logger := w.logger.With("taskID", ti.TaskID, "attempt", ti.Attempts)
			if def.Retryable() && !retry.Exhausted(def.Retry, ti.Attempts) {
				ti.Error = "attempt interrupted before it reported"
				ti.ErrorClass = failure.ClassTransient
				w.transition(ti, model.TaskReady)
				logger.Warn("Re-dispatching interrupted attempt.")
			} else {
				logger.Warn("Interrupted attempt has an unknown outcome; waiting for it to be resolved.")
			}
		case model.TaskFailed, model.TaskQualityFailed:
			w.propagate(ti)
		}
	}
}

func (w *walk) loop() model.RunState {
	done := w.ctx.Done()
	for {
		if !w.cancelled && w.ctx.Err() != nil {
			done = nil
			w.cancel()
		}
		if !w.cancelled {
			w.promote()
			w.dispatch()
		}

		wake, waiting := w.nextWake()
		if len(w.inflight) == 0 {
			if w.cancelled {
				w.skipUnstarted("run cancelled")
				return model.RunCancelled
			}
			if !waiting {
				// Anything still non-terminal here is blocked on an attempt
				// whose outcome is unknown.
				return w.run.Outcome()
			}
		}

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if waiting {
			timer = time.NewTimer(wake.Sub(w.e.now()))
			timerC = timer.C
		}
		select {
		case r := <-w.reports:
			w.apply(r)
		case <-timerC:
		case <-done:
			done = nil
			w.cancel()
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// promote moves pending tasks whose upstream all succeeded to ready.
func (w *walk) promote() {
	for _, ti := range w.run.Tasks {
		if ti.State != model.TaskPending {
			continue
		}
		def, _ := w.p.Task(ti.TaskID)
		ready := true
		for _, up := range def.Upstream {
			if u := w.run.Task(up); u == nil || u.State != model.TaskSucceeded {
				ready = false
				break
			}
		}
		if ready {
			w.transition(ti, model.TaskReady)
		}
	}
}

// dispatch starts ready tasks in topological order while the run is under
// its parallelism limit.
func (w *walk) dispatch() {
	now := w.e.now()
	for _, ti := range w.run.Tasks {
		if len(w.inflight) >= w.limit {
			return
		}
		if ti.State != model.TaskReady {
			continue
		}
		if nb, ok := w.notBefore[ti.TaskID]; ok && now.Before(nb) {
			continue
		}
		w.start(ti)
	}
}

func (w *walk) start(ti *model.TaskInstance) {
	def, _ := w.p.Task(ti.TaskID)
	ti.Attempts++
	a := w.newAttempt(def, ti.Attempts)
	ti.Output = a.output
	if !w.transition(ti, model.TaskRunning) {
		return
	}
	delete(w.notBefore, ti.TaskID)
	w.inflight[ti.TaskID] = true

	ctx := ctxlog.With(w.ctx, "taskID", ti.TaskID, "attempt", ti.Attempts)
	go func() {
		w.reports <- w.e.perform(ctx, a)
	}()
}

// nextWake returns the earliest time a retry is due.
func (w *walk) nextWake() (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for id, nb := range w.notBefore {
		if w.run.Task(id).State != model.TaskReady {
			continue
		}
		if !found || nb.Before(earliest) {
			earliest, found = nb, true
		}
	}
	return earliest, found
}

// apply records the outcome of one attempt.
func (w *walk) apply(r report) {
	delete(w.inflight, r.taskID)
	ti := w.run.Task(r.taskID)
	def, _ := w.p.Task(r.taskID)
	logger := w.logger.With("taskID", ti.TaskID, "attempt", ti.Attempts)

	if r.err == nil {
		ti.Rows = r.result.Rows
		if def.Kind == model.KindQuality {
			v := quality.Evaluate(def, r.measurements)
			score := v.Score
			ti.Quality = v.Results
			ti.QualityScore = &score
			if !v.Passed {
				err := v.Err(def.ID)
				ti.Error = err.Error()
				ti.ErrorClass = failure.ClassQuality
				w.transition(ti, model.TaskQualityFailed)
				logger.Warn("Quality gate failed.", "failedRules", v.FailedRules(), "score", score)
				w.propagate(ti)
				return
			}
		}
		ti.Error = ""
		ti.ErrorClass = failure.ClassNone
		w.transition(ti, model.TaskSucceeded)
		logger.Info("✅ Task succeeded.", "rows", ti.Rows)
		return
	}

	class := failure.Classify(r.err)
	ti.Error = r.err.Error()
	ti.ErrorClass = class
	if class == failure.ClassTransient && !w.cancelled && w.ctx.Err() == nil && !w.tripped &&
		def.Retryable() && !retry.Exhausted(def.Retry, ti.Attempts) {
		delay := retry.Backoff(def.Retry, ti.Attempts)
		w.notBefore[ti.TaskID] = w.e.now().Add(delay)
		w.transition(ti, model.TaskReady)
		logger.Warn("Task attempt failed, will retry.", "error", r.err, "backoff", delay)
		return
	}

	w.transition(ti, model.TaskFailed)
	logger.Error("Task failed.", "error", r.err, "class", class)
	w.propagate(ti)
}

// propagate skips everything downstream of a task that ended unsuccessfully.
func (w *walk) propagate(ti *model.TaskInstance) {
	reason := fmt.Sprintf("upstream task %s %s", ti.TaskID, ti.State)
	for _, id := range w.p.TransitiveDependents(ti.TaskID) {
		if dep := w.run.Task(id); dep != nil {
			w.skip(dep, reason)
		}
	}
	if w.p.FailFast && !w.tripped {
		w.tripped = true
		w.skipUnstarted("fail-fast after task " + ti.TaskID + " " + string(ti.State))
	}
}

func (w *walk) cancel() {
	w.cancelled = true
	w.logger.Warn("Run cancelled, waiting for running attempts.", "running", len(w.inflight))
	w.skipUnstarted("run cancelled")
}

// skipUnstarted skips every pending or ready task.
func (w *walk) skipUnstarted(reason string) {
	for _, ti := range w.run.Tasks {
		w.skip(ti, reason)
	}
}

func (w *walk) skip(ti *model.TaskInstance, reason string) {
	if ti.State != model.TaskPending && ti.State != model.TaskReady {
		return
	}
	delete(w.notBefore, ti.TaskID)
	ti.Error = reason
	if w.transition(ti, model.TaskSkipped) {
		w.logger.Debug("Task skipped.", "taskID", ti.TaskID, "reason", reason)
	}
}

func (w *walk) transition(ti *model.TaskInstance, to model.TaskState) bool {
	if err := ti.Transition(to, w.e.now()); err != nil {
		w.logger.Error("Rejected task state transition.", "taskID", ti.TaskID, "error", err)
		w.errs = append(w.errs, err)
		return false
	}
	if err := w.e.store.SaveTask(w.sctx, ti); err != nil {
		w.logger.Error("Failed to persist task instance.", "taskID", ti.TaskID, "error", err)
		w.errs = append(w.errs, err)
	}
	return true
}

func (w *walk) persistRun() {
	if err := w.e.store.SaveRun(w.sctx, w.run); err != nil {
		w.logger.Error("Failed to persist run.", "error", err)
		w.errs = append(w.errs, err)
	}
}
