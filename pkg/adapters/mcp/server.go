package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/presentation/tui"
	core "github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	templatesURI  = "parley://templates"
	rolesURI      = "parley://roles"
	transcriptURI = "parley://sessions/{id}/transcript"
)

// Engine is the part of the flow engine exposed to MCP clients.
type Engine interface {
	CreateSession(ctx context.Context, req core.CreateRequest) (*domain.Session, error)
	Advance(ctx context.Context, sessionID string) (*domain.AdvanceResult, error)
	Start(ctx context.Context, sessionID string) (*domain.Session, error)
	Pause(ctx context.Context, sessionID string) (*domain.Session, error)
	Resume(ctx context.Context, sessionID string) (*domain.Session, error)
	Terminate(ctx context.Context, sessionID string) (*domain.Session, error)
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	Transcript(ctx context.Context, sessionID string) ([]*domain.Message, error)
	Sessions(ctx context.Context) ([]domain.SessionSummary, error)
	Catalog() ports.Catalog
}

// CreateArgs are the arguments of the create_session tool.
type CreateArgs struct {
	ID         string            `json:"id,omitempty"`
	TemplateID string            `json:"template_id"`
	Casting    map[string]string `json:"casting"`
	Topic      string            `json:"topic,omitempty"`
}

// SessionArgs address a single session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// ControlArgs are the arguments of the control_session tool.
type ControlArgs struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
}

// SessionList wraps session summaries; structured tool output must be an object.
type SessionList struct {
	Sessions []domain.SessionSummary `json:"sessions" jsonschema_description:"Known sessions, most recently updated first"`
}

// Server wraps the flow engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, version string, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer("parley-mcp", strings.TrimSpace(version),
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and blocks until
// ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", slog.String("address", addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, stopping MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Create a conversation session from a published template. Every speaker ref of the template must be cast to a role."),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("ID of the template to instantiate")),
		mcp.WithObject("casting", mcp.Required(), mcp.Description("Map of speaker ref to role ID")),
		mcp.WithString("topic", mcp.Description("Overrides the template topic")),
		mcp.WithString("id", mcp.Description("Session ID; generated when omitted")),
		mcp.WithOutputSchema[domain.Session](),
	), mcp.NewStructuredToolHandler(s.handleCreate))

	s.mcpServer.AddTool(mcp.NewTool("advance_session",
		mcp.WithDescription("Execute the current step of a session: generate the next message and move the pointer."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to advance")),
		mcp.WithOutputSchema[domain.AdvanceResult](),
	), mcp.NewStructuredToolHandler(s.handleAdvance))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get the current state of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
		mcp.WithOutputSchema[domain.Session](),
	), mcp.NewStructuredToolHandler(s.handleGetSession))

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List known sessions."),
		mcp.WithOutputSchema[SessionList](),
	), mcp.NewStructuredToolHandler(s.handleListSessions))

	s.mcpServer.AddTool(mcp.NewTool("control_session",
		mcp.WithDescription("Change the lifecycle status of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to control")),
		mcp.WithString("action", mcp.Required(), mcp.Enum("start", "pause", "resume", "terminate"), mcp.Description("Lifecycle command")),
		mcp.WithOutputSchema[domain.Session](),
	), mcp.NewStructuredToolHandler(s.handleControl))

	s.mcpServer.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Get the transcript of a session as markdown."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to read")),
	), s.handleTranscript)
}

func (s *Server) handleCreate(ctx context.Context, _ mcp.CallToolRequest, args CreateArgs) (*domain.Session, error) {
	sess, err := s.engine.CreateSession(ctx, core.CreateRequest{
		ID:         args.ID,
		TemplateID: args.TemplateID,
		Casting:    args.Casting,
		Topic:      args.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("create failed: %w", err)
	}
	s.logger.Info("MCP: session created", logging.SessionID(sess.ID), logging.TemplateID(sess.TemplateID))
	return sess, nil
}

func (s *Server) handleAdvance(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (*domain.AdvanceResult, error) {
	if args.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	res, err := s.engine.Advance(ctx, args.SessionID)
	if err != nil {
		return nil, fmt.Errorf("advance failed: %w", err)
	}
	return res, nil
}

func (s *Server) handleGetSession(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (*domain.Session, error) {
	return s.engine.Session(ctx, args.SessionID)
}

func (s *Server) handleListSessions(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (SessionList, error) {
	sums, err := s.engine.Sessions(ctx)
	if err != nil {
		return SessionList{}, err
	}
	if sums == nil {
		sums = []domain.SessionSummary{}
	}
	return SessionList{Sessions: sums}, nil
}

func (s *Server) handleControl(ctx context.Context, _ mcp.CallToolRequest, args ControlArgs) (*domain.Session, error) {
	var (
		sess *domain.Session
		err  error
	)
	switch args.Action {
	case "start":
		sess, err = s.engine.Start(ctx, args.SessionID)
	case "pause":
		sess, err = s.engine.Pause(ctx, args.SessionID)
	case "resume":
		sess, err = s.engine.Resume(ctx, args.SessionID)
	case "terminate":
		sess, err = s.engine.Terminate(ctx, args.SessionID)
	default:
		return nil, fmt.Errorf("unknown action %q", args.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", args.Action, err)
	}
	return sess, nil
}

func (s *Server) handleTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	md, err := s.transcript(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("transcript failed: %v", err)), nil
	}
	return mcp.NewToolResultText(md), nil
}

func (s *Server) transcript(ctx context.Context, id string) (string, error) {
	sess, err := s.engine.Session(ctx, id)
	if err != nil {
		return "", err
	}
	msgs, err := s.engine.Transcript(ctx, id)
	if err != nil {
		return "", err
	}
	return tui.Markdown(sess, msgs), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(templatesURI, "Published Templates",
		mcp.WithResourceDescription("Every conversation template known to the catalog"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		catalog := s.engine.Catalog()
		var templates []*domain.Template
		if catalog != nil {
			var err error
			if templates, err = catalog.Templates(ctx); err != nil {
				return nil, fmt.Errorf("failed to list templates: %w", err)
			}
		}
		return jsonContents(templatesURI, templates)
	})

	s.mcpServer.AddResource(mcp.NewResource(rolesURI, "Roles",
		mcp.WithResourceDescription("Every role known to the catalog"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		catalog := s.engine.Catalog()
		var roles []*domain.Role
		if catalog != nil {
			var err error
			if roles, err = catalog.Roles(ctx); err != nil {
				return nil, fmt.Errorf("failed to list roles: %w", err)
			}
		}
		return jsonContents(rolesURI, roles)
	})

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(transcriptURI, "Session Transcript",
		mcp.WithTemplateDescription("Markdown transcript of a session"),
		mcp.WithTemplateMIMEType("text/markdown"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id, ok := transcriptID(request.Params.URI)
		if !ok {
			return nil, fmt.Errorf("unsupported resource %q", request.Params.URI)
		}
		md, err := s.transcript(ctx, id)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      request.Params.URI,
				MIMEType: "text/markdown",
				Text:     md,
			},
		}, nil
	})
}

func transcriptID(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, "parley://sessions/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/transcript")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
