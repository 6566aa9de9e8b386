package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/taranggg/lms-sub000/internal/metrics"
	"github.com/taranggg/lms-sub000/internal/middleware"
	"github.com/taranggg/lms-sub000/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerFunc handles one inbound event for a connection. A returned error
// is reported back to that connection only.
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

type Options struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	return o
}

// Hub owns live connections, room membership and the ephemeral
// connection to session mapping. None of it survives a restart.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    map[string]map[string]*Client
	sessions map[string]uuid.UUID
	handlers map[string]HandlerFunc

	auth *middleware.JWTAuth
	opts Options
}

func NewHub(auth *middleware.JWTAuth, opts Options) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		sessions: make(map[string]uuid.UUID),
		handlers: make(map[string]HandlerFunc),
		auth:     auth,
		opts:     opts.withDefaults(),
	}
}

// On registers the handler for an inbound event name.
func (h *Hub) On(event string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = fn
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param, or a bearer header for non-browser clients
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tokenStr = parts[1]
		}
	}
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.Parse(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn, claims)
	c.RemoteAddr = realIP(r)
	c.UserAgent = r.UserAgent()

	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
	slog.Info("WebSocket connected", "conn_id", c.ID, "user_id", c.UserID, "total", total)
}

// unregister drops the connection from every room and forgets its session
// mapping. The session itself is left to heartbeats and the reaper.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	delete(h.sessions, c.ID)
	for room := range c.rooms {
		members := h.rooms[room]
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.rooms = nil
	h.mu.Unlock()

	c.Close()
	metrics.ActiveConnections.Dec()
	slog.Info("WebSocket disconnected", "conn_id", c.ID, "user_id", c.UserID)
}

// JoinRoom adds the connection to room. Joining twice is a no-op.
func (h *Hub) JoinRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, live := h.clients[c.ID]; !live {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

// EmitToRoom queues event for every member of room and returns how many
// members it was queued for. Members that cannot keep up are disconnected.
func (h *Hub) EmitToRoom(room, event string, payload interface{}) int {
	data, err := encodeEvent(event, payload)
	if err != nil {
		slog.Error("Failed to encode room event", "room", room, "event", event, "error", err)
		return 0
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.enqueue(data) {
			delivered++
			continue
		}
		metrics.SlowConsumers.Inc()
		slog.Warn("Dropping slow websocket consumer", "conn_id", c.ID, "room", room)
		c.Close()
	}
	return delivered
}

func (h *Hub) BindSession(c *Client, sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.clients[c.ID]; live {
		h.sessions[c.ID] = sessionID
	}
}

func (h *Hub) UnbindSession(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, c.ID)
}

func (h *Hub) SessionFor(c *Client) (uuid.UUID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.sessions[c.ID]
	return id, ok
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dispatch decodes one inbound frame and runs its handler. Bad frames,
// unknown events, handler errors and panics are reported to the sender and
// never close the connection.
func (h *Hub) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var env models.Event
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed websocket frame", "conn_id", c.ID, "error", err)
		c.Emit(models.EventError, models.ErrorEvent{Code: "BAD_EVENT", Message: "Malformed event envelope"})
		return
	}

	h.mu.RLock()
	fn, ok := h.handlers[env.Event]
	h.mu.RUnlock()
	if !ok {
		metrics.EventsDropped.WithLabelValues("unknown").Inc()
		slog.Warn("Unknown websocket event", "conn_id", c.ID, "event", env.Event)
		c.Emit(models.EventError, models.ErrorEvent{Code: "UNKNOWN_EVENT", Message: fmt.Sprintf("Unknown event %q", env.Event)})
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	defer func() {
		if rec := recover(); rec != nil {
			metrics.EventsDropped.WithLabelValues("panic").Inc()
			slog.Error("Websocket handler panicked", "conn_id", c.ID, "event", env.Event, "panic", rec, "stack", string(debug.Stack()))
			c.Emit(models.EventError, models.ErrorEvent{Code: "INTERNAL_ERROR", Message: "Internal error"})
		}
	}()

	if err := fn(ctx, c, env.Data); err != nil {
		metrics.EventsDropped.WithLabelValues("rejected").Inc()
		slog.Warn("Websocket event rejected", "conn_id", c.ID, "event", env.Event, "error", err)
		c.Emit(models.EventError, errorEventFor(err))
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

func encodeEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Event{Event: event, Data: data})
}

func realIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if i := strings.LastIndex(r.RemoteAddr, ":"); i > 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
