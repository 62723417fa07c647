package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowforge/internal/builder"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// Store is the slice of store.Store the tools use.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *store.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*store.Workflow, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.RunRecord, error)
	ListNodeExecutions(ctx context.Context, runID string) ([]*schema.NodeExecution, error)
	ListRunLogs(ctx context.Context, filter store.LogFilter) ([]*schema.LogEntry, error)
}

// GraphChecker reports every problem in a graph, warnings included.
type GraphChecker interface {
	Validate(g schema.Graph) *schema.ValidationResult
}

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Store    Store
	Sessions *builder.Manager
	Checker  GraphChecker
	Hub      streaming.EventHub // optional; enables run notifications
	Logger   *slog.Logger
}

// FlowServer wraps an MCP server with the flow.* tool handlers.
type FlowServer struct {
	store     Store
	sessions  *builder.Manager
	checker   GraphChecker
	hub       streaming.EventHub
	watchers  *WatchRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowServer creates a new FlowServer with all 7 tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		store:    deps.Store,
		sessions: deps.Sessions,
		checker:  deps.Checker,
		hub:      deps.Hub,
		watchers: NewWatchRegistry(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowforge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowforge simulates node-graph workflows. Use flow.define to store a graph, flow.run to execute it, flow.status and flow.logs to follow a run, flow.stop to end it, flow.list to find workflows and flow.diagram to render one."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Run state changes are pushed to the clients that started
// the runs.
func (s *FlowServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		notifier := NewRunNotifier(s.mcpServer, s.watchers, s.logger)
		go notifier.Forward(ctx, s.hub)
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: stopTool(), Handler: s.handleStop},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: logsTool(), Handler: s.handleLogs},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func listTool() mcp.Tool {
	return mcp.NewTool("flow.list",
		mcp.WithDescription("List stored workflows"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of workflows (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Number of workflows to skip")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("flow.define",
		mcp.WithDescription("Store a workflow graph"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Graph document with nodes and edges")),
		mcp.WithString("workflow_id", mcp.Description("ID to store the workflow under (default: generated)")),
		mcp.WithString("description", mcp.Description("Workflow description")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Run a stored workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithBoolean("wait", mcp.Description("Block until the run ends (default true)")),
	)
}

func stopTool() mcp.Tool {
	return mcp.NewTool("flow.stop",
		mcp.WithDescription("Stop the current run of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flow.status",
		mcp.WithDescription("Get the run status of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func logsTool() mcp.Tool {
	return mcp.NewTool("flow.logs",
		mcp.WithDescription("Read the execution log of a workflow run"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("run_id", mcp.Description("Past run to read (default: the current or last run)")),
		mcp.WithNumber("since", mcp.Description("Only entries with a greater sequence number")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flow.diagram",
		mcp.WithDescription("Render a workflow diagram overlaid with its latest run. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
