package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"globetales-service/internal/models"
	"globetales-service/internal/observability"
)

const (
	RoutingKey = "ws_events.messages"

	writeWait = 10 * time.Second
)

// Publisher receives connection lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one registered connection.
type Client struct {
	conn Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *Client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks the open websocket connections of each user.
type Hub struct {
	clients   map[string]map[*Client]struct{}
	mu        sync.RWMutex
	publisher Publisher
	logger    *zap.Logger
}

// NewHub creates an empty hub. publisher may be nil.
func NewHub(publisher Publisher, logger *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		publisher: publisher,
		logger:    logger,
	}
}

// Add registers conn for info.UserID.
func (h *Hub) Add(conn Conn, info ConnInfo) *Client {
	c := &Client{conn: conn, info: info}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[info.UserID]; !ok {
		h.clients[info.UserID] = make(map[*Client]struct{})
	}
	h.clients[info.UserID][c] = struct{}{}
	return c
}

// Remove unregisters c. It reports whether c was still registered.
func (h *Hub) Remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.info.UserID]
	if !ok {
		return false
	}
	if _, ok := conns[c]; !ok {
		return false
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.info.UserID)
	}
	return true
}

// Connections returns how many connections userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// NotifyMessage pushes a message event to every connection of the given users.
func (h *Hub) NotifyMessage(view models.MessageView, userIDs ...string) {
	event := models.ChatEvent{Type: "message", Message: &view}
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		h.send(id, event)
	}
}

// NotifyRead tells senderID that readerID has read count of their messages.
func (h *Hub) NotifyRead(senderID, readerID string, count int64) {
	h.send(senderID, models.ChatEvent{Type: "read", ReaderID: readerID, Count: count})
}

func (h *Hub) send(userID string, event models.ChatEvent) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("websocket event encode failed", zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.write(payload); err != nil {
			h.logger.Debug("websocket write error", zap.String("user_id", userID), zap.Error(err))
			_ = c.conn.Close()
			if h.Remove(c) {
				observability.DecWSActive()
			}
			h.publishEvent(context.Background(), c.info, "ws_error", err.Error())
			continue
		}
		observability.IncWSEvent(event.Type)
	}
}

func (h *Hub) connected(info ConnInfo) {
	observability.IncWSActive()
	h.publishEvent(context.Background(), info, "ws_connect", "")
}

func (h *Hub) disconnected(info ConnInfo, reason string) {
	observability.DecWSActive()
	h.publishEvent(context.Background(), info, "ws_disconnect", reason)
}

func (h *Hub) publishEvent(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	if h.publisher == nil {
		return
	}
	_ = h.publisher.Publish(ctx, RoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Headers:   observability.BuildHeaders(info.RequestID, info.TraceID),
		Payload:   info.payload(event, reason),
	})
}
