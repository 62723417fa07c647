package api

import (
	"net/http"

	"github.com/rendis/flowforge/internal/store"
)

type createScheduleRequest struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

type updateScheduleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// schedulerReady writes 501 when no scheduler is configured.
func (s *Server) schedulerReady(w http.ResponseWriter) bool {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusNotImplemented, "scheduler is disabled")
		return false
	}
	return true
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerReady(w) {
		return
	}
	jobs, err := s.deps.Scheduler.Jobs(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*store.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleCreateSchedule binds a cron expression to the workflow. Jobs start
// enabled unless the body says otherwise.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerReady(w) {
		return
	}
	ctx := r.Context()

	var body createScheduleRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.deps.Scheduler.Schedule(ctx, r.PathValue("id"), body.CronExpression)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Enabled != nil && !*body.Enabled {
		if err := s.deps.Scheduler.SetEnabled(ctx, job.ID, false); err != nil {
			s.fail(w, r, err)
			return
		}
		job.Enabled = false
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerReady(w) {
		return
	}
	jobID := r.PathValue("job")

	var body updateScheduleRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Scheduler.SetEnabled(r.Context(), jobID, *body.Enabled); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": jobID, "enabled": *body.Enabled})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.schedulerReady(w) {
		return
	}
	jobID := r.PathValue("job")
	if err := s.deps.Scheduler.Unschedule(r.Context(), jobID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": jobID})
}
