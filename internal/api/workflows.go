package api

import (
	"net/http"

	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

type createWorkflowRequest struct {
	ID          string       `json:"id,omitempty" validate:"omitempty,max=128"`
	Name        string       `json:"name" validate:"required,max=200"`
	Description string       `json:"description,omitempty"`
	Graph       schema.Graph `json:"graph"`
}

type updateWorkflowRequest struct {
	Name        *string       `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string       `json:"description,omitempty"`
	Graph       *schema.Graph `json:"graph,omitempty"`
}

// workflowView is a stored workflow with the live state of its open
// session, if any.
type workflowView struct {
	*store.Workflow
	Selected string                   `json:"selected_node_id,omitempty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.deps.Store.ListWorkflows(r.Context(), store.WorkflowFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if wfs == nil {
		wfs = []*store.Workflow{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var body createWorkflowRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	res := s.check(body.Graph)
	if err := res.ToError(); err != nil {
		s.fail(w, r, err)
		return
	}
	body.Graph.ClearExecuting()

	wf := &store.Workflow{
		ID:          body.ID,
		Name:        body.Name,
		Description: body.Description,
		Graph:       body.Graph,
	}
	if err := s.deps.Store.CreateWorkflow(r.Context(), wf); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, workflowView{Workflow: wf, Warnings: res.Warnings})
}

// handleGetWorkflow returns the stored workflow, with the graph replaced
// by the working copy when a session holds unsaved edits.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := s.deps.Store.GetWorkflow(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := workflowView{Workflow: wf}
	if sess, ok := s.deps.Sessions.Lookup(id); ok {
		wf.Graph = sess.Graph()
		wf.Name = sess.Name()
		view.Selected = sess.Selected()
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUpdateWorkflow applies the update through the open session so the
// working copy and the stored row agree.
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var body updateWorkflowRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}

	var warnings []schema.ValidationIssue
	if body.Graph != nil {
		res := s.check(*body.Graph)
		if err := res.ToError(); err != nil {
			s.fail(w, r, err)
			return
		}
		warnings = res.Warnings
	}

	sess, open := s.deps.Sessions.Lookup(id)
	if !open {
		update := store.WorkflowUpdate{Name: body.Name, Description: body.Description, Graph: body.Graph}
		if update.IsEmpty() {
			s.fail(w, r, schema.NewError(schema.ErrCodeValidation, "nothing to update"))
			return
		}
		wf, err := s.deps.Store.UpdateWorkflow(ctx, id, update)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, workflowView{Workflow: wf, Warnings: warnings})
		return
	}

	if body.Graph != nil {
		if err := sess.Replace(*body.Graph); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := sess.Flush(ctx); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if body.Name != nil {
		if err := sess.Rename(ctx, *body.Name); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if body.Description != nil {
		if _, err := s.deps.Store.UpdateWorkflow(ctx, id, store.WorkflowUpdate{Description: body.Description}); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	wf, err := s.deps.Store.GetWorkflow(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowView{Workflow: wf, Selected: sess.Selected(), Warnings: warnings})
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	s.deps.Sessions.Forget(ctx, id)
	if err := s.deps.Store.DeleteWorkflow(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

// handleValidate checks a graph document without storing it.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var g schema.Graph
	if err := s.decode(w, r, &g); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.check(g))
}

func (s *Server) check(g schema.Graph) *schema.ValidationResult {
	if s.deps.Checker == nil {
		return &schema.ValidationResult{}
	}
	return s.deps.Checker.Validate(g)
}
