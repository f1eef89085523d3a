package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	core "github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/scripted"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/notify"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine  *core.Engine
	streams *notify.Broadcaster
	handler http.Handler
}

func newTestEnv(t *testing.T, opts ...scripted.Option) *testEnv {
	t.Helper()
	catalog := memory.NewCatalog()
	require.NoError(t, catalog.AddRoles(
		domain.Role{ID: "pro", Name: "Pro", Prompt: "Argue for."},
		domain.Role{ID: "con", Name: "Con", Prompt: "Argue against."},
	))
	require.NoError(t, catalog.AddTemplates(&domain.Template{
		ID:    "duel",
		Topic: "Tabs or spaces?",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "A", TaskType: "opening"},
			{Order: 2, SpeakerRef: "B", TargetRef: "A", TaskType: "rebuttal"},
		},
	}))

	streams := notify.NewBroadcaster()
	n := 0
	engine := core.NewEngine(memory.NewRepository(), scripted.New(opts...),
		core.WithCatalog(catalog),
		core.WithNotifier(streams),
		core.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	return &testEnv{
		engine:  engine,
		streams: streams,
		handler: NewHandler(engine, WithBroadcaster(streams), WithVersion("1.2.3\n")),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createSession(t *testing.T) *domain.Session {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/sessions", map[string]any{
		"template_id": "duel",
		"casting":     map[string]string{"A": "pro", "B": "con"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var s domain.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	return &s
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	return e
}

func TestGetHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestGetInfo(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/info", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "parley-http", resp["app"])
	assert.Equal(t, "1.2.3", resp["version"])
	assert.Equal(t, "1.0.0", resp["api_version"])
}

func TestGetSwagger(t *testing.T) {
	doc, err := GetSwagger()
	require.NoError(t, err)
	assert.NotNil(t, doc.Paths.Find("/sessions/{id}/advance"))

	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "openapi: 3.0.3")
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodOptions, "/sessions", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var templates []domain.Template
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &templates))
	require.Len(t, templates, 1)
	assert.Equal(t, "duel", templates[0].ID)

	rr = env.do(t, http.MethodGet, "/templates/duel", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/templates/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decodeError(t, rr).Kind)

	rr = env.do(t, http.MethodGet, "/roles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var roles []domain.Role
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &roles))
	assert.Len(t, roles, 2)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, scripted.WithReplies("Pro", "Spaces, always."))
	s := env.createSession(t)
	assert.Equal(t, domain.StatusNotStarted, s.Status)
	assert.Equal(t, "Tabs or spaces?", s.Topic)

	rr := env.do(t, http.MethodPost, "/sessions/"+s.ID+"/advance", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res domain.AdvanceResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "Spaces, always.", res.Message.Content)
	assert.Equal(t, domain.StatusRunning, res.Session.Status)
	assert.Equal(t, 1, res.Execution.NextPointer)

	rr = env.do(t, http.MethodPost, "/sessions/"+s.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPost, "/sessions/"+s.ID+"/advance", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rr).Kind)

	rr = env.do(t, http.MethodPost, "/sessions/"+s.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPost, "/sessions/"+s.ID+"/advance", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, domain.StatusFinished, res.Session.Status)
	assert.True(t, res.Execution.IsFinished)

	rr = env.do(t, http.MethodGet, "/sessions/"+s.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].ID, msgs[1].ReplyTo)

	rr = env.do(t, http.MethodGet, "/sessions?status=finished", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []domain.SessionSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, s.ID, list[0].ID)

	rr = env.do(t, http.MethodDelete, "/sessions/"+s.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/sessions/"+s.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateSession_Errors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/sessions", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/sessions", map[string]any{
		"template_id": "duel",
		"casting":     map[string]string{"A": "pro", "B": "ghost"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "invalid_casting", decodeError(t, rr).Kind)

	rr = env.do(t, http.MethodPost, "/sessions", map[string]any{
		"template": map[string]any{"id": "empty"},
		"casting":  map[string]string{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "invalid_template", decodeError(t, rr).Kind)
}

func TestControlSession_UnknownAction(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t)

	rr := env.do(t, http.MethodPost, "/sessions/"+s.ID+"/explode", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "bad_request", decodeError(t, rr).Kind)
}

func TestListSessions_InvalidLimit(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/sessions?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdvance_GenerationFailure(t *testing.T) {
	env := newTestEnv(t, scripted.WithFailures(fmt.Errorf("model offline")))
	s := env.createSession(t)

	rr := env.do(t, http.MethodPost, "/sessions/"+s.ID+"/advance", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "generation_failure", decodeError(t, rr).Kind)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.ErrSessionNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.InvalidStateError("advance", domain.StatusPaused)))
	assert.Equal(t, http.StatusConflict, StatusFor(domain.NewError(domain.KindMissingCasting, "x", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(fmt.Errorf("boom")))
}

func TestSubscribeEvents_Session(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wSub := httptest.NewRecorder()
	reqSub := httptest.NewRequest(http.MethodGet, "/sessions/"+s.ID+"/events?watch=step_completed", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.handler.ServeHTTP(wSub, reqSub)
	}()

	require.Eventually(t, func() bool { return env.streams.Subscribers(s.ID) == 1 }, time.Second, 10*time.Millisecond)

	rr := env.do(t, http.MethodPost, "/sessions/"+s.ID+"/advance", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	output := wSub.Body.String()
	assert.Contains(t, output, "event: ping")
	assert.Contains(t, output, "event: step_completed")
	assert.NotContains(t, output, "event: status_changed")
}

func TestSubscribeEvents_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/sessions/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionSocket(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + s.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Command{Action: "advance"}))

	var sawEvent, sawReply bool
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(sawEvent && sawReply) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		switch frame["type"] {
		case string(domain.EventStepCompleted):
			sawEvent = true
		case "reply":
			sawReply = true
			assert.Equal(t, "advance", frame["action"])
			assert.NotNil(t, frame["result"])
		}
	}

	require.NoError(t, conn.WriteJSON(Command{Action: "fly"}))
	var reply Reply
	for reply.Type != "error" {
		require.NoError(t, conn.ReadJSON(&reply))
	}
	assert.Equal(t, "bad_request", reply.Error.Kind)
}
