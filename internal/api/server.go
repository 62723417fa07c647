package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/flowforge/internal/builder"
	"github.com/rendis/flowforge/internal/store"
	"github.com/rendis/flowforge/internal/streaming"
	"github.com/rendis/flowforge/pkg/schema"
)

// Store is the slice of store.Store the API reads and writes.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *store.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*store.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update store.WorkflowUpdate) (*store.Workflow, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	GetRun(ctx context.Context, id string) (*schema.RunRecord, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*schema.RunRecord, error)
	ListNodeExecutions(ctx context.Context, runID string) ([]*schema.NodeExecution, error)
	ListRunLogs(ctx context.Context, filter store.LogFilter) ([]*schema.LogEntry, error)
}

// Scheduler manages cron jobs bound to workflows.
type Scheduler interface {
	Schedule(ctx context.Context, workflowID, cronExpr string) (*store.ScheduledJob, error)
	SetEnabled(ctx context.Context, jobID string, enabled bool) error
	Unschedule(ctx context.Context, jobID string) error
	Jobs(ctx context.Context, workflowID string) ([]*store.ScheduledJob, error)
}

// GraphChecker reports every problem in a graph, warnings included.
type GraphChecker interface {
	Validate(g schema.Graph) *schema.ValidationResult
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Store     Store
	Sessions  *builder.Manager
	Hub       streaming.EventHub
	Checker   GraphChecker
	Scheduler Scheduler // optional
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// Server serves the JSON API and the push streams.
type Server struct {
	deps     Deps
	validate *validator.Validate
}

// NewServer creates a new Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		deps:     deps,
		validate: newValidator(),
	}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Workflows.
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", s.handleUpdateWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("POST /api/validate", s.handleValidate)

	// Editing.
	mux.HandleFunc("POST /api/workflows/{id}/nodes", s.handleAddNode)
	mux.HandleFunc("PATCH /api/workflows/{id}/nodes/{node}", s.handleEditNode)
	mux.HandleFunc("DELETE /api/workflows/{id}/nodes/{node}", s.handleDeleteNode)
	mux.HandleFunc("POST /api/workflows/{id}/edges", s.handleConnect)
	mux.HandleFunc("DELETE /api/workflows/{id}/edges/{edge}", s.handleDeleteEdge)
	mux.HandleFunc("PUT /api/workflows/{id}/selection", s.handleSelect)

	// Runs.
	mux.HandleFunc("POST /api/workflows/{id}/run", s.handleRun)
	mux.HandleFunc("POST /api/workflows/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /api/workflows/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/workflows/{id}/logs", s.handleLogs)
	mux.HandleFunc("GET /api/workflows/{id}/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{run}", s.handleGetRun)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("GET /api/workflows/{id}/metrics", s.handleMetricsSummary)

	// Debugger.
	mux.HandleFunc("GET /api/workflows/{id}/debug", s.handleDebugState)
	mux.HandleFunc("POST /api/workflows/{id}/debug/{action}", s.handleDebugAction)
	mux.HandleFunc("POST /api/workflows/{id}/breakpoints/{node}", s.handleToggleBreakpoint)
	mux.HandleFunc("DELETE /api/workflows/{id}/breakpoints/{node}", s.handleRemoveBreakpoint)

	// Schedules.
	mux.HandleFunc("GET /api/workflows/{id}/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/workflows/{id}/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{job}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{job}", s.handleDeleteSchedule)

	// Streams.
	mux.HandleFunc("GET /sse/workflows/{id}", s.handleSSEWorkflow)
	mux.HandleFunc("GET /ws/workflows/{id}", s.handleWebSocket)

	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session opens the session named by the {id} path value, writing the
// error response itself when that fails.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*builder.Session, bool) {
	sess, err := s.deps.Sessions.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

// fail writes err as a JSON error and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeFlowError(w, status, err)
}
