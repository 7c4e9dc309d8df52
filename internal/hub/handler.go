package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liveattend/internal/events"
)

const maxClientFrame = 4096

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(*http.Request) bool { return true },
}

type clientFrame struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
}

type ack struct {
	Type         string `json:"type"`
	Room         string `json:"room,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// TokenFromRequest reads the access token from the token query parameter or
// a bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// ServeWS upgrades authenticated requests to hub connections.
func (h *Hub) ServeWS(authenticate Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.Running() {
			http.Error(w, ErrHubNotRunning.Error(), http.StatusServiceUnavailable)
			return
		}
		token := TokenFromRequest(r)
		if token == "" {
			http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		principal, err := authenticate(token)
		if err != nil {
			http.Error(w, "invalid access token", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.opts.Logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		c := newConnection(uuid.NewString(), ws, principal, h.opts)
		if err := h.registry.Add(c); err != nil {
			_ = c.Close()
			return
		}
		h.opts.Metrics.ConnectionOpened()
		h.opts.Logger.Debug("hub connection opened",
			"connection_id", c.id, "subject", principal.Subject, "role", principal.Role)
		h.reply(c, ack{Type: "connected", ConnectionID: c.id})
		h.readLoop(c)
	}
}

func (h *Hub) readLoop(c *Connection) {
	defer h.disconnect(c)

	pongWait := 2 * h.opts.PingInterval
	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.opts.Logger.Debug("hub connection read failed", "connection_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reply(c, ack{Type: "error", Error: "invalid frame"})
			continue
		}
		h.handle(c, frame)
	}
}

func (h *Hub) handle(c *Connection, frame clientFrame) {
	switch frame.Action {
	case "join":
		if err := authorizeRoom(c.principal, frame.Room); err != nil {
			h.reply(c, ack{Type: "error", Room: frame.Room, Error: err.Error()})
			return
		}
		added, err := h.registry.Join(c.id, frame.Room)
		if err != nil {
			h.reply(c, ack{Type: "error", Room: frame.Room, Error: err.Error()})
			return
		}
		h.reply(c, ack{Type: "joined", Room: frame.Room})
		if added {
			h.presence(c, frame.Room, true)
		}
	case "leave":
		if !h.registry.Leave(c.id, frame.Room) {
			h.reply(c, ack{Type: "error", Room: frame.Room, Error: ErrNotMember.Error()})
			return
		}
		h.reply(c, ack{Type: "left", Room: frame.Room})
		h.presence(c, frame.Room, false)
	case "ping":
		h.reply(c, ack{Type: "pong"})
	default:
		h.reply(c, ack{Type: "error", Error: "unknown action"})
	}
}

// authorizeRoom applies the room rules: session rooms are open to any
// authenticated client, instructor rooms only to that instructor or an
// admin.
func authorizeRoom(p Principal, room string) error {
	scope, id, ok := events.ParseRoom(room)
	if !ok {
		return ErrUnknownRoom
	}
	if scope == events.ScopeInstructor && p.Role != RoleAdmin && p.Subject != id {
		return ErrRoomForbidden
	}
	return nil
}

func (h *Hub) reply(c *Connection, a ack) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	if !c.Enqueue(data) {
		h.opts.Metrics.FrameDropped()
	}
}

func (h *Hub) disconnect(c *Connection) {
	rooms, registered := h.registry.Remove(c)
	for _, room := range rooms {
		h.presence(c, room, false)
	}
	_ = c.Close()
	if registered {
		h.opts.Metrics.ConnectionClosed()
	}
	h.opts.Logger.Debug("hub connection closed", "connection_id", c.id)
}
