package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
	"github.com/vk/medallion/internal/runstore"
)

// TriggerRequest is the body of POST /runs.
type TriggerRequest struct {
	Pipeline string `json:"pipeline" example:"songs"`
	// Partition is a day or an inclusive range; empty means the day after
	// the pipeline's watermark.
	Partition string `json:"partition,omitempty" example:"2024-01-01"`
	Force     bool   `json:"force,omitempty"`
}

// ResolveRequest is the body of POST /runs/{id}/tasks/{task}/resolve.
type ResolveRequest struct {
	Outcome model.TaskState `json:"outcome" example:"succeeded"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	// RunID names the conflicting run on 409 responses.
	RunID string `json:"run_id,omitempty"`
}

// handleHealth reports liveness.
//
//	@Summary	Health check
//	@Tags		health
//	@Produce	plain
//	@Success	200	{string}	string	"OK"
//	@Failure	503	{string}	string	"state database unreachable"
//	@Router		/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Warn("Health check failed.", "error", err)
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// handleListPipelines lists the registered pipelines.
//
//	@Summary	List pipelines
//	@Tags		pipelines
//	@Produce	json
//	@Success	200	{array}	string
//	@Router		/pipelines [get]
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Pipelines())
}

// handleTrigger starts a run.
//
//	@Summary		Trigger a run
//	@Description	Starts a run for a partition. Re-triggering a partition that is in flight or already committed is a no-op unless force is set.
//	@Tags			runs
//	@Accept			json
//	@Produce		json
//	@Param			request	body		TriggerRequest	true	"Trigger request"
//	@Success		202		{object}	coordinator.Ticket	"Run started"
//	@Success		200		{object}	coordinator.Ticket	"No-op: in flight or already committed"
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse	"Overlaps a run in flight"
//	@Router			/runs [post]
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var body TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if body.Pipeline == "" {
		writeError(w, http.StatusBadRequest, errors.New("pipeline is required"))
		return
	}
	req := coordinator.Request{Pipeline: body.Pipeline, Force: body.Force}
	if body.Partition != "" {
		key, err := partition.Parse(body.Partition)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.Partition = key
	}

	ticket, err := s.svc.Trigger(r.Context(), req)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if ticket.Outcome == coordinator.OutcomeStarted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, ticket)
}

// handleListRuns lists runs newest first.
//
//	@Summary	List runs
//	@Tags		runs
//	@Produce	json
//	@Param		pipeline	query		string	false	"Pipeline name"
//	@Param		state		query		string	false	"Run state"	Enums(pending, running, succeeded, failed, cancelled)
//	@Param		limit		query		int		false	"Maximum number of runs"
//	@Success	200			{array}		model.Run
//	@Failure	400			{object}	ErrorResponse
//	@Router		/runs [get]
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := runstore.Filter{Pipeline: q.Get("pipeline")}
	if st := q.Get("state"); st != "" {
		state, err := model.ParseRunState(st)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.State = state
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", l))
			return
		}
		f.Limit = n
	}

	runs, err := s.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns a run snapshot with per-task states and quality results.
//
//	@Summary	Get run status
//	@Tags		runs
//	@Produce	json
//	@Param		id	path		string	true	"Run ID"
//	@Success	200	{object}	model.Run
//	@Failure	404	{object}	ErrorResponse
//	@Router		/runs/{id} [get]
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCancel asks a run to stop.
//
//	@Summary	Cancel a run
//	@Tags		runs
//	@Param		id	path	string	true	"Run ID"
//	@Success	202
//	@Failure	404	{object}	ErrorResponse
//	@Failure	409	{object}	ErrorResponse	"Run already finished"
//	@Router		/runs/{id}/cancel [post]
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleResolve settles an interrupted task with an unknown outcome.
//
//	@Summary		Resolve an interrupted task
//	@Description	Records the real outcome of an attempt that was running when the process stopped and cannot be retried safely. The run then continues.
//	@Tags			runs
//	@Accept			json
//	@Param			id		path	string			true	"Run ID"
//	@Param			task	path	string			true	"Task ID"
//	@Param			request	body	ResolveRequest	true	"Outcome: succeeded or failed"
//	@Success		202
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse	"Run is still executing"
//	@Router			/runs/{id}/tasks/{task}/resolve [post]
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if body.Outcome != model.TaskSucceeded && body.Outcome != model.TaskFailed {
		writeError(w, http.StatusBadRequest, fmt.Errorf("outcome must be %s or %s", model.TaskSucceeded, model.TaskFailed))
		return
	}
	if err := s.svc.Resolve(r.Context(), r.PathValue("id"), r.PathValue("task"), body.Outcome); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleWatermarks lists committed watermarks.
//
//	@Summary	List watermarks
//	@Tags		watermarks
//	@Produce	json
//	@Success	200	{array}	watermark.Watermark
//	@Router		/watermarks [get]
func (s *Server) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	marks, err := s.svc.Watermarks(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, marks)
}
