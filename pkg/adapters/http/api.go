package http

import (
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

//go:embed openapi.yaml
var specData []byte

// ControlAction is a lifecycle command accepted by POST /sessions/{id}/{action}.
type ControlAction string

const (
	ActionStart     ControlAction = "start"
	ActionPause     ControlAction = "pause"
	ActionResume    ControlAction = "resume"
	ActionTerminate ControlAction = "terminate"
)

// Valid reports whether the action is one of the published commands.
func (a ControlAction) Valid() bool {
	switch a {
	case ActionStart, ActionPause, ActionResume, ActionTerminate:
		return true
	}
	return false
}

// ListSessionsParams defines parameters for ListSessions.
type ListSessionsParams struct {
	Status *string `form:"status,omitempty" json:"status,omitempty"`
	Limit  *int    `form:"limit,omitempty" json:"limit,omitempty"`
}

// SubscribeEventsParams defines parameters for SubscribeEvents.
type SubscribeEventsParams struct {
	// Watch is a comma separated list of event types to keep.
	Watch *string `form:"watch,omitempty" json:"watch,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// (GET /info)
	GetInfo(w http.ResponseWriter, r *http.Request)
	// (GET /templates)
	ListTemplates(w http.ResponseWriter, r *http.Request)
	// (GET /templates/{id})
	GetTemplate(w http.ResponseWriter, r *http.Request, id string)
	// (GET /roles)
	ListRoles(w http.ResponseWriter, r *http.Request)
	// (GET /sessions)
	ListSessions(w http.ResponseWriter, r *http.Request, params ListSessionsParams)
	// (POST /sessions)
	CreateSession(w http.ResponseWriter, r *http.Request)
	// (GET /sessions/{id})
	GetSession(w http.ResponseWriter, r *http.Request, id string)
	// (DELETE /sessions/{id})
	DeleteSession(w http.ResponseWriter, r *http.Request, id string)
	// (POST /sessions/{id}/advance)
	AdvanceSession(w http.ResponseWriter, r *http.Request, id string)
	// (POST /sessions/{id}/{action})
	ControlSession(w http.ResponseWriter, r *http.Request, id string, action ControlAction)
	// (GET /sessions/{id}/messages)
	GetTranscript(w http.ResponseWriter, r *http.Request, id string)
	// (GET /sessions/{id}/events)
	SubscribeEvents(w http.ResponseWriter, r *http.Request, id string, params SubscribeEventsParams)
	// (GET /sessions/{id}/ws)
	SessionSocket(w http.ResponseWriter, r *http.Request, id string)
}

// MiddlewareFunc wraps a single operation handler.
type MiddlewareFunc func(http.Handler) http.Handler

// ServerInterfaceWrapper converts raw requests into typed handler calls.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

// InvalidParamFormatError is reported when a parameter cannot be bound.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %v", e.ParamName, e.Err)
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.Handler) {
	for _, middleware := range siw.HandlerMiddlewares {
		h = middleware(h)
	}
	h.ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) bindID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithLocation("simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), &id)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return "", false
	}
	return id, true
}

func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetHealth))
}

func (siw *ServerInterfaceWrapper) GetInfo(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetInfo))
}

func (siw *ServerInterfaceWrapper) ListTemplates(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.ListTemplates))
}

func (siw *ServerInterfaceWrapper) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetTemplate(w, r, id)
	}))
}

func (siw *ServerInterfaceWrapper) ListRoles(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.ListRoles))
}

func (siw *ServerInterfaceWrapper) ListSessions(w http.ResponseWriter, r *http.Request) {
	var params ListSessionsParams

	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &params.Status); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "status", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}

	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListSessions(w, r, params)
	}))
}

func (siw *ServerInterfaceWrapper) CreateSession(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.CreateSession))
}

func (siw *ServerInterfaceWrapper) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetSession(w, r, id)
	}))
}

func (siw *ServerInterfaceWrapper) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DeleteSession(w, r, id)
	}))
}

func (siw *ServerInterfaceWrapper) AdvanceSession(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.AdvanceSession(w, r, id)
	}))
}

func (siw *ServerInterfaceWrapper) ControlSession(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}

	var action ControlAction
	err := runtime.BindStyledParameterWithLocation("simple", false, "action", runtime.ParamLocationPath, chi.URLParam(r, "action"), &action)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "action", Err: err})
		return
	}
	if !action.Valid() {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "action", Err: fmt.Errorf("unknown action %q", action)})
		return
	}

	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ControlSession(w, r, id, action)
	}))
}

func (siw *ServerInterfaceWrapper) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetTranscript(w, r, id)
	}))
}

func (siw *ServerInterfaceWrapper) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}

	var params SubscribeEventsParams
	if err := runtime.BindQueryParameter("form", true, false, "watch", r.URL.Query(), &params.Watch); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "watch", Err: err})
		return
	}

	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.SubscribeEvents(w, r, id, params)
	}))
}

func (siw *ServerInterfaceWrapper) SessionSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := siw.bindID(w, r)
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.SessionSocket(w, r, id)
	}))
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux mounts every operation of si on r.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions mounts every operation of si using the given options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	base := options.BaseURL
	r.Get(base+"/health", wrapper.GetHealth)
	r.Get(base+"/info", wrapper.GetInfo)
	r.Get(base+"/templates", wrapper.ListTemplates)
	r.Get(base+"/templates/{id}", wrapper.GetTemplate)
	r.Get(base+"/roles", wrapper.ListRoles)
	r.Get(base+"/sessions", wrapper.ListSessions)
	r.Post(base+"/sessions", wrapper.CreateSession)
	r.Get(base+"/sessions/{id}", wrapper.GetSession)
	r.Delete(base+"/sessions/{id}", wrapper.DeleteSession)
	r.Post(base+"/sessions/{id}/advance", wrapper.AdvanceSession)
	r.Post(base+"/sessions/{id}/{action}", wrapper.ControlSession)
	r.Get(base+"/sessions/{id}/messages", wrapper.GetTranscript)
	r.Get(base+"/sessions/{id}/events", wrapper.SubscribeEvents)
	r.Get(base+"/sessions/{id}/ws", wrapper.SessionSocket)

	return r
}

// rawSpec returns the embedded OpenAPI document.
func rawSpec() ([]byte, error) {
	if len(specData) == 0 {
		return nil, fmt.Errorf("openapi document not embedded")
	}
	return specData, nil
}

var (
	swaggerOnce sync.Once
	swaggerDoc  *openapi3.T
	swaggerErr  error
)

// GetSwagger parses and validates the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	swaggerOnce.Do(func() {
		data, err := rawSpec()
		if err != nil {
			swaggerErr = err
			return
		}
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(data)
		if err != nil {
			swaggerErr = fmt.Errorf("error loading openapi document: %w", err)
			return
		}
		if err := doc.Validate(loader.Context); err != nil {
			swaggerErr = fmt.Errorf("invalid openapi document: %w", err)
			return
		}
		swaggerDoc = doc
	})
	return swaggerDoc, swaggerErr
}
