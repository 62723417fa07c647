package api

import (
	"net/http"

	"github.com/rendis/flowforge/internal/builder"
	"github.com/rendis/flowforge/pkg/schema"
)

type editNodeRequest struct {
	Config      schema.NodeConfig `json:"config,omitempty"`
	Position    *schema.Position  `json:"position,omitempty"`
	Label       *string           `json:"label,omitempty"`
	Description *string           `json:"description,omitempty"`
}

type connectRequest struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

type selectRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var tmpl builder.NodeTemplate
	if err := s.decode(w, r, &tmpl); err != nil {
		s.fail(w, r, err)
		return
	}
	node, err := sess.AddNode(tmpl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// handleEditNode applies whichever of config, position and label the body
// carries, in that order.
func (s *Server) handleEditNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body editNodeRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Config == nil && body.Position == nil && body.Label == nil && body.Description == nil {
		s.fail(w, r, schema.NewError(schema.ErrCodeValidation, "nothing to update"))
		return
	}

	id := r.PathValue("node")
	node, found := sess.Graph().Node(id)
	if !found {
		s.fail(w, r, schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id))
		return
	}

	var err error
	if body.Config != nil {
		if node, err = sess.UpdateNodeConfig(id, body.Config); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if body.Position != nil {
		if node, err = sess.MoveNode(id, *body.Position); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if body.Label != nil || body.Description != nil {
		label, desc := node.Label, node.Description
		if body.Label != nil {
			label = *body.Label
		}
		if body.Description != nil {
			desc = *body.Description
		}
		if node, err = sess.RelabelNode(id, label, desc); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("node")
	if err := sess.DeleteNode(id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "node_id": id})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body connectRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	edge, err := sess.Connect(body.Source, body.Target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("edge")
	if err := sess.DeleteEdge(id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "edge_id": id})
}

// handleSelect sets the selected node; an empty node_id clears it.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body selectRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := sess.Select(body.NodeID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selected_node_id": sess.Selected()})
}
