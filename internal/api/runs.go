package api

import (
	"net/http"

	"github.com/rendis/flowforge/internal/diagram"
	"github.com/rendis/flowforge/internal/metrics"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

type runDetail struct {
	*schema.RunRecord
	Nodes []*schema.NodeExecution `json:"nodes"`
}

// handleRun starts a run in the background and answers with its ID.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	runID, err := sess.RunAsync(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"workflow_id": sess.ID(),
		"run_id":      runID,
	})
}

// handleStop is a no-op when nothing is running.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	stopped, err := sess.Stop(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// handleLogs serves the live run's log after ?since=seq, or a past run's
// persisted log when ?run_id is given.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	since := int64(queryInt(r, "since", 0))
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		entries, err := s.deps.Store.ListRunLogs(r.Context(), store.LogFilter{
			RunID:    runID,
			SinceSeq: since,
			Limit:    queryInt(r, "limit", 0),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if entries == nil {
			entries = []*schema.LogEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	entries := sess.Logs(since)
	if entries == nil {
		entries = []schema.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Store.ListRuns(r.Context(), store.RunFilter{
		WorkflowID: r.PathValue("id"),
		Status:     schema.RunStatus(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit", 20),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []*schema.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	run, err := s.deps.Store.GetRun(ctx, r.PathValue("run"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	execs, err := s.deps.Store.ListNodeExecutions(ctx, run.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if execs == nil {
		execs = []*schema.NodeExecution{}
	}
	writeJSON(w, http.StatusOK, runDetail{RunRecord: run, Nodes: execs})
}

// handleDiagram renders the working copy overlaid with the latest run's
// node states. ?format is mermaid (default), ascii, png or json.
func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var execs []*schema.NodeExecution
	runs, err := s.deps.Store.ListRuns(ctx, store.RunFilter{WorkflowID: sess.ID(), Limit: 1})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(runs) > 0 {
		if execs, err = s.deps.Store.ListNodeExecutions(ctx, runs[0].ID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	model := diagram.Build(sess.Name(), sess.Graph(), execs)

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(diagram.RenderMermaid(model)))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(diagram.RenderASCII(model)))
	case "png":
		img, err := diagram.RenderImage(ctx, model)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	case "json":
		writeJSON(w, http.StatusOK, model)
	default:
		writeError(w, http.StatusBadRequest, "unknown diagram format "+format)
	}
}

// handleMetricsSummary aggregates the workflow's persisted run logs.
func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	stored, err := s.deps.Store.ListRunLogs(r.Context(), store.LogFilter{
		WorkflowID: sess.ID(),
		Limit:      queryInt(r, "limit", 5000),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries := make([]schema.LogEntry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, *e)
	}
	writeJSON(w, http.StatusOK, metrics.Summarize(entries, sess.Graph().Nodes))
}
