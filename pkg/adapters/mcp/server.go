package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/caretree"
	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/aretw0/caretree/pkg/reconcile"
	"github.com/aretw0/caretree/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const versionsURI = "caretree://versions"

// NodeView is the agent-facing shape of a node.
type NodeView struct {
	ID      string   `json:"node_id" jsonschema_description:"Node to answer next"`
	Kind    string   `json:"kind" jsonschema_description:"question, action or terminal"`
	Content string   `json:"content"`
	Input   string   `json:"input" jsonschema_description:"Expected answer kind: text, number or boolean"`
	Hints   []string `json:"hints,omitempty" jsonschema_description:"Answers with a dedicated branch"`
}

// StepResult is returned by every transition tool.
type StepResult struct {
	SessionID         string    `json:"session_id"`
	Status            string    `json:"status"`
	Priority          string    `json:"priority"`
	Score             int       `json:"score"`
	Complete          bool      `json:"is_complete"`
	EndedUnexpectedly bool      `json:"ended_unexpectedly,omitempty" jsonschema_description:"Set when no branch matched and the score decided the priority"`
	NextNode          *NodeView `json:"next_node,omitempty"`
	TerminalNode      *NodeView `json:"terminal_node,omitempty"`
}

type sessionArgs struct {
	OperatorID string `json:"operator_id"`
	SessionID  string `json:"session_id"`
}

type startArgs struct {
	OperatorID string `json:"operator_id"`
	VersionID  string `json:"version_id"`
}

type respondArgs struct {
	OperatorID string `json:"operator_id"`
	SessionID  string `json:"session_id"`
	NodeID     string `json:"node_id"`
	Value      string `json:"value"`
}

type reconcileArgs struct {
	OperatorID string `json:"operator_id"`
	Items      string `json:"items"`
}

// Server exposes the triage operations as MCP tools.
type Server struct {
	sessions   *session.Manager
	reconciler *reconcile.Service
	versions   ports.VersionRepository
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(sessions *session.Manager, reconciler *reconcile.Service, versions ports.VersionRepository, opts ...Option) *Server {
	s := &Server{
		sessions:   sessions,
		reconciler: reconciler,
		versions:   versions,
		logger:     logging.NewNop(),
		mcpServer: server.NewMCPServer("caretree-mcp", caretree.Version,
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(false, true),
			server.WithRecovery(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a triage session on a protocol version and return the first node."),
		mcp.WithString("operator_id", mcp.Required(), mcp.Description("Nurse running the session")),
		mcp.WithString("version_id", mcp.Required(), mcp.Description("Protocol version to run")),
		mcp.WithOutputSchema[StepResult](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("submit_response",
		mcp.WithDescription("Answer the current node of a session."),
		mcp.WithString("operator_id", mcp.Required()),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Must be the session's current node")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Answer, parsed according to the node's input kind")),
		mcp.WithOutputSchema[StepResult](),
	), mcp.NewStructuredToolHandler(s.handleRespond))

	s.mcpServer.AddTool(mcp.NewTool("go_back",
		mcp.WithDescription("Undo the last response of a session."),
		mcp.WithString("operator_id", mcp.Required()),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithOutputSchema[StepResult](),
	), mcp.NewStructuredToolHandler(s.handleBack))

	s.mcpServer.AddTool(mcp.NewTool("get_result",
		mcp.WithDescription("Read the score, priority and status of a session."),
		mcp.WithString("operator_id", mcp.Required()),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithOutputSchema[session.Result](),
	), mcp.NewStructuredToolHandler(s.handleResult))

	s.mcpServer.AddTool(mcp.NewTool("bulk_reconcile",
		mcp.WithDescription("Submit sessions recorded offline. Each item is replayed; the report lists persisted and rejected items."),
		mcp.WithString("operator_id", mcp.Required()),
		mcp.WithString("items", mcp.Required(), mcp.Description("JSON array of offline sessions")),
	), mcp.NewStructuredToolHandler(s.handleReconcile))
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args startArgs) (StepResult, error) {
	step, err := s.sessions.StartSession(ctx, args.OperatorID, args.VersionID)
	if err != nil {
		return StepResult{}, toolError(err)
	}
	return toStepResult(step), nil
}

func (s *Server) handleRespond(ctx context.Context, _ mcp.CallToolRequest, args respondArgs) (StepResult, error) {
	if args.OperatorID == "" {
		return StepResult{}, toolError(domain.Invalid("operator_id", "is required"))
	}
	step, err := s.sessions.SubmitResponse(ctx, args.OperatorID, args.SessionID, args.NodeID, domain.TextValue(args.Value))
	if err != nil {
		return StepResult{}, toolError(err)
	}
	return toStepResult(step), nil
}

func (s *Server) handleBack(ctx context.Context, _ mcp.CallToolRequest, args sessionArgs) (StepResult, error) {
	if args.OperatorID == "" {
		return StepResult{}, toolError(domain.Invalid("operator_id", "is required"))
	}
	step, err := s.sessions.GoBack(ctx, args.OperatorID, args.SessionID)
	if err != nil {
		return StepResult{}, toolError(err)
	}
	return toStepResult(step), nil
}

func (s *Server) handleResult(ctx context.Context, _ mcp.CallToolRequest, args sessionArgs) (session.Result, error) {
	if args.OperatorID == "" {
		return session.Result{}, toolError(domain.Invalid("operator_id", "is required"))
	}
	_, result, err := s.sessions.GetResult(ctx, args.OperatorID, args.SessionID)
	if err != nil {
		return session.Result{}, toolError(err)
	}
	return result, nil
}

func (s *Server) handleReconcile(ctx context.Context, _ mcp.CallToolRequest, args reconcileArgs) (domain.ReconcileReport, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(args.Items), &items); err != nil {
		return domain.ReconcileReport{}, toolError(domain.Invalid("items", "not a JSON array: %v", err))
	}
	report, err := s.reconciler.BulkReconcileJSON(ctx, args.OperatorID, items)
	if err != nil {
		return domain.ReconcileReport{}, toolError(err)
	}
	s.logger.Info("MCP batch reconciled", "operator_id", args.OperatorID, "persisted", report.PersistedCount, "failed", len(report.Errors))
	return report, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(versionsURI, "Protocol versions",
		mcp.WithResourceDescription("Every known protocol version with its nodes and branch rules"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		versions, err := s.versions.ListVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions: %w", err)
		}
		data, err := json.Marshal(versions)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      versionsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// toolError prefixes the error kind so agents can tell a bad call from a server fault.
func toolError(err error) error {
	return fmt.Errorf("%s: %w", domain.Kind(err), err)
}

func toStepResult(step session.Step) StepResult {
	s := step.Session
	return StepResult{
		SessionID:         s.ID,
		Status:            string(s.Status()),
		Priority:          string(s.FinalPriority),
		Score:             s.TotalScore,
		Complete:          step.Complete,
		EndedUnexpectedly: step.EndedUnexpectedly,
		NextNode:          nodeView(step.Node, step.Hints),
		TerminalNode:      nodeView(step.TerminalNode, nil),
	}
}

func nodeView(n *domain.Node, hints []string) *NodeView {
	if n == nil {
		return nil
	}
	return &NodeView{
		ID:      n.ID,
		Kind:    n.Kind.String(),
		Content: n.Content,
		Input:   string(n.ExpectedInput()),
		Hints:   hints,
	}
}
