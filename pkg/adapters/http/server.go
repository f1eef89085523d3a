package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/parley/internal/logging"
	core "github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/notify"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/go-chi/chi/v5"
)

// Engine is the part of the flow engine exposed over HTTP.
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
	Delete(ctx context.Context, sessionID string) error
	Catalog() ports.Catalog
}

// Server implements ServerInterface on top of an Engine.
type Server struct {
	Engine  Engine
	Streams *notify.Broadcaster

	logger  *slog.Logger
	version string
	metrics http.Handler
}

var _ ServerInterface = (*Server)(nil)

// Option configures the handler built by NewHandler.
type Option func(*Server)

// WithBroadcaster sets the event fan-out used by the SSE and WebSocket
// endpoints. The same broadcaster must be registered as an engine notifier.
func WithBroadcaster(b *notify.Broadcaster) Option {
	return func(s *Server) { s.Streams = b }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the build version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = strings.TrimSpace(v) }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	server := &Server{
		Engine:  engine,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.Streams == nil {
		server.Streams = notify.NewBroadcaster(notify.WithLogger(server.logger))
	}

	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		spec, err := rawSpec()
		if err != nil {
			http.Error(w, "Failed to load spec", http.StatusInternalServerError)
			server.logger.Error("Failed to load OpenAPI spec", logging.Error(err))
			return
		}
		w.Write(spec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	if server.metrics != nil {
		r.Handle("/metrics", server.metrics)
	}

	handler := HandlerWithOptions(server, ChiServerOptions{
		BaseRouter:       r,
		ErrorHandlerFunc: server.paramError,
	})
	return enableCORS(handler)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Parley API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":         "parley-http",
		"version":     s.version,
		"api_version": apiVersion,
	})
}

// ListTemplates handles the GET /templates request.
func (s *Server) ListTemplates(w http.ResponseWriter, r *http.Request) {
	catalog := s.Engine.Catalog()
	if catalog == nil {
		s.writeJSON(w, http.StatusOK, []*domain.Template{})
		return
	}
	templates, err := catalog.Templates(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, templates)
}

// GetTemplate handles the GET /templates/{id} request.
func (s *Server) GetTemplate(w http.ResponseWriter, r *http.Request, id string) {
	catalog := s.Engine.Catalog()
	if catalog == nil {
		s.writeError(w, r, domain.ErrTemplateNotFound)
		return
	}
	tpl, err := catalog.Template(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tpl)
}

// ListRoles handles the GET /roles request.
func (s *Server) ListRoles(w http.ResponseWriter, r *http.Request) {
	catalog := s.Engine.Catalog()
	if catalog == nil {
		s.writeJSON(w, http.StatusOK, []*domain.Role{})
		return
	}
	roles, err := catalog.Roles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, roles)
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request, params ListSessionsParams) {
	summaries, err := s.Engine.Sessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]domain.SessionSummary, 0, len(summaries))
	for _, sum := range summaries {
		if params.Status != nil && *params.Status != "" && string(sum.Status) != *params.Status {
			continue
		}
		out = append(out, sum)
		if params.Limit != nil && *params.Limit > 0 && len(out) >= *params.Limit {
			break
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// CreateSession handles the POST /sessions request.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body core.CreateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err), Kind: "bad_request"})
		s.logger.Warn("CreateSession: Invalid request body", logging.Error(err))
		return
	}

	sess, err := s.Engine.CreateSession(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Session created", logging.SessionID(sess.ID), logging.TemplateID(sess.TemplateID))
	s.writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles the GET /sessions/{id} request.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.Engine.Session(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles the DELETE /sessions/{id} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.Engine.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdvanceSession handles the POST /sessions/{id}/advance request.
func (s *Server) AdvanceSession(w http.ResponseWriter, r *http.Request, id string) {
	res, err := s.Engine.Advance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ControlSession handles the POST /sessions/{id}/{action} request.
func (s *Server) ControlSession(w http.ResponseWriter, r *http.Request, id string, action ControlAction) {
	sess, err := s.control(r.Context(), id, action)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) control(ctx context.Context, id string, action ControlAction) (*domain.Session, error) {
	switch action {
	case ActionStart:
		return s.Engine.Start(ctx, id)
	case ActionPause:
		return s.Engine.Pause(ctx, id)
	case ActionResume:
		return s.Engine.Resume(ctx, id)
	case ActionTerminate:
		return s.Engine.Terminate(ctx, id)
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

// GetTranscript handles the GET /sessions/{id}/messages request.
func (s *Server) GetTranscript(w http.ResponseWriter, r *http.Request, id string) {
	msgs, err := s.Engine.Transcript(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

// SubscribeEvents handles the GET /sessions/{id}/events request (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request, id string, params SubscribeEventsParams) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	if _, err := s.Engine.Session(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()
	s.logger.Info("SSE: Subscribing to session events", logging.SessionID(id))

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	var watch map[domain.EventType]bool
	if params.Watch != nil && *params.Watch != "" {
		watch = make(map[domain.EventType]bool)
		for _, t := range strings.Split(*params.Watch, ",") {
			watch[domain.EventType(strings.TrimSpace(t))] = true
		}
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE client disconnected", logging.SessionID(id))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if watch != nil && !watch[ev.Type] {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("SSE: event encode failed", logging.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
			if ev.Type == domain.EventStatusChanged && ev.Status.IsTerminal() {
				return
			}
		}
	}
}

// StatusFor maps an engine error onto its HTTP status code.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindMissingCasting:
		return http.StatusConflict
	case domain.KindInvalidTemplate, domain.KindInvalidCasting:
		return http.StatusUnprocessableEntity
	case domain.KindGenerationFailure:
		return http.StatusBadGateway
	case domain.KindRoutingOverflow:
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", slog.String("path", r.URL.Path), logging.Error(err))
	} else {
		s.logger.Debug("Request rejected", slog.String("path", r.URL.Path), logging.Error(err))
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(domain.KindOf(err))})
}

func (s *Server) paramError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("Invalid parameter", slog.String("path", r.URL.Path), logging.Error(err))
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "bad_request"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", logging.Error(err))
	}
}
