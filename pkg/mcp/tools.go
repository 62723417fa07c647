package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowforge/internal/diagram"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/pkg/schema"
)

type workflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Nodes       int    `json:"nodes"`
	Edges       int    `json:"edges"`
	UpdatedAt   string `json:"updated_at"`
}

// handleList returns a summary of stored workflows.
func (s *FlowServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wfs, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		Limit:  req.GetInt("limit", 50),
		Offset: req.GetInt("offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	out := make([]workflowSummary, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, workflowSummary{
			ID:          wf.ID,
			Name:        wf.Name,
			Description: wf.Description,
			Nodes:       len(wf.Graph.Nodes),
			Edges:       len(wf.Graph.Edges),
			UpdatedAt:   wf.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return marshalResult(out)
}

// handleDefine validates and stores a new workflow graph.
func (s *FlowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	graphMap := mcp.ParseStringMap(req, "graph", nil)
	if graphMap == nil {
		return mcp.NewToolResultError("graph is required"), nil
	}

	graphJSON, marshalErr := json.Marshal(graphMap)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", marshalErr)), nil
	}
	var g schema.Graph
	if unmarshalErr := json.Unmarshal(graphJSON, &g); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", unmarshalErr)), nil
	}

	var warnings []schema.ValidationIssue
	if s.checker != nil {
		res := s.checker.Validate(g)
		if verr := res.ToError(); verr != nil {
			return validationError(res), nil
		}
		warnings = res.Warnings
	}
	g.ClearExecuting()

	wf := &store.Workflow{
		ID:          req.GetString("workflow_id", ""),
		Name:        name,
		Description: req.GetString("description", ""),
		Graph:       g,
	}
	if storeErr := s.store.CreateWorkflow(ctx, wf); storeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store workflow: %v", storeErr)), nil
	}

	return marshalResult(map[string]any{
		"workflow_id": wf.ID,
		"name":        wf.Name,
		"nodes":       len(g.Nodes),
		"edges":       len(g.Edges),
		"warnings":    warnings,
	})
}

// handleRun runs a stored workflow. With wait=false it returns the run ID
// as soon as the run starts.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	sess, openErr := s.sessions.Open(ctx, workflowID)
	if openErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", openErr)), nil
	}
	s.captureSession(ctx, workflowID)

	if !req.GetBool("wait", true) {
		runID, runErr := sess.RunAsync(ctx)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run rejected: %v", runErr)), nil
		}
		return marshalResult(map[string]any{
			"workflow_id": workflowID,
			"run_id":      runID,
			"status":      schema.RunStatusRunning,
		})
	}

	res, runErr := sess.Run(ctx)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run rejected: %v", runErr)), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": res.WorkflowID,
		"run_id":      res.RunID,
		"status":      res.Status,
		"error":       res.Error,
		"executed":    res.Executed,
		"results":     res.Results,
		"duration_ms": res.CompletedAt.Sub(res.StartedAt).Milliseconds(),
	})
}

// handleStop stops the current run; stopping an idle workflow is a no-op.
func (s *FlowServer) handleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	sess, ok := s.sessions.Lookup(workflowID)
	if !ok {
		return marshalResult(map[string]any{"workflow_id": workflowID, "stopped": false})
	}
	stopped, stopErr := sess.Stop(ctx)
	if stopErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stop failed: %v", stopErr)), nil
	}
	return marshalResult(map[string]any{"workflow_id": workflowID, "stopped": stopped})
}

// handleStatus returns the engine status of a workflow.
func (s *FlowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	sess, openErr := s.sessions.Open(ctx, workflowID)
	if openErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", openErr)), nil
	}
	return marshalResult(sess.Status())
}

// handleLogs reads the live log, or a past run's persisted log.
func (s *FlowServer) handleLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	since := int64(req.GetInt("since", 0))

	if runID := req.GetString("run_id", ""); runID != "" {
		entries, logErr := s.store.ListRunLogs(ctx, store.LogFilter{
			RunID:      runID,
			WorkflowID: workflowID,
			SinceSeq:   since,
		})
		if logErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("log query failed: %v", logErr)), nil
		}
		if entries == nil {
			entries = []*schema.LogEntry{}
		}
		return marshalResult(entries)
	}

	sess, openErr := s.sessions.Open(ctx, workflowID)
	if openErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("log query failed: %v", openErr)), nil
	}
	entries := sess.Logs(since)
	if entries == nil {
		entries = []schema.LogEntry{}
	}
	return marshalResult(entries)
}

// handleDiagram renders the working copy with the latest run's states.
func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	sess, openErr := s.sessions.Open(ctx, workflowID)
	if openErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", openErr)), nil
	}

	var states []*schema.NodeExecution
	runs, runsErr := s.store.ListRuns(ctx, store.RunFilter{WorkflowID: workflowID, Limit: 1})
	if runsErr == nil && len(runs) > 0 {
		states, _ = s.store.ListNodeExecutions(ctx, runs[0].ID)
	}
	model := diagram.Build(sess.Name(), sess.Graph(), states)

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Helpers ---

// captureSession subscribes the calling client to run notifications for
// the workflow.
func (s *FlowServer) captureSession(ctx context.Context, workflowID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.watchers.Watch(workflowID, session.SessionID())
	}
}

// validationError reports every validation issue as one tool error.
func validationError(res *schema.ValidationResult) *mcp.CallToolResult {
	data, err := json.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError("graph is invalid")
	}
	return mcp.NewToolResultError("graph is invalid: " + string(data))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
