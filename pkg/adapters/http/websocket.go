package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Command is a control frame sent by a WebSocket client.
// Action is "advance" or one of the ControlAction values.
type Command struct {
	Action string `json:"action"`
}

// Reply is written back for every command. Events produced by the command
// arrive separately on the same socket.
type Reply struct {
	Type    string                `json:"type"`
	Action  string                `json:"action"`
	Session *domain.Session       `json:"session,omitempty"`
	Result  *domain.AdvanceResult `json:"result,omitempty"`
	Error   *ErrorResponse        `json:"error,omitempty"`
}

type socketClient struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	events    <-chan *domain.Event
	replies   chan *Reply
	logger    *slog.Logger
}

// SessionSocket handles the GET /sessions/{id}/ws request. The socket streams
// every event of the session and accepts Command frames.
func (s *Server) SessionSocket(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.Engine.Session(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", logging.Error(err))
		return
	}

	events, unsubscribe := s.Streams.Subscribe(id)
	defer unsubscribe()

	c := &socketClient{
		server:    s,
		conn:      conn,
		sessionID: id,
		events:    events,
		replies:   make(chan *Reply, incomingBufferSize),
		logger:    s.logger.With(logging.SessionID(id)),
	}
	c.run()
}

func (c *socketClient) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleCommand(ctx, message)

		case reply := <-c.replies:
			if !c.send(reply) {
				return
			}

		case ev, ok := <-c.events:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.send(ev) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *socketClient) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

// handleCommand runs the command off the write loop so pings and events keep
// flowing during a long generation.
func (c *socketClient) handleCommand(ctx context.Context, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.logger.Warn("Failed to parse WebSocket message", logging.Error(err))
		select {
		case c.replies <- &Reply{Type: "error", Error: &ErrorResponse{Error: err.Error(), Kind: "bad_request"}}:
		default:
		}
		return
	}

	go func() {
		reply := &Reply{Type: "reply", Action: cmd.Action}
		var err error
		switch {
		case cmd.Action == "advance":
			reply.Result, err = c.server.Engine.Advance(ctx, c.sessionID)
		case ControlAction(cmd.Action).Valid():
			reply.Session, err = c.server.control(ctx, c.sessionID, ControlAction(cmd.Action))
		default:
			reply.Type = "error"
			reply.Error = &ErrorResponse{Error: "unknown action " + cmd.Action, Kind: "bad_request"}
		}
		if err != nil {
			reply.Type = "error"
			reply.Error = &ErrorResponse{Error: err.Error(), Kind: string(domain.KindOf(err))}
		}
		select {
		case c.replies <- reply:
		case <-ctx.Done():
		}
	}()
}

func (c *socketClient) send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal WebSocket frame", logging.Error(err))
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("WebSocket write failed", logging.Error(err))
		return false
	}
	return true
}
