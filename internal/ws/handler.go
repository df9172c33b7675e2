package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"globetales-service/internal/apperr"
	"globetales-service/internal/auth"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 4096
)

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Handler upgrades authenticated requests to push-only websocket connections.
type Handler struct {
	hub        *Hub
	verifier   TokenVerifier
	cookieName string
	origins    map[string]bool
	upgrader   websocket.Upgrader
}

// NewHandler builds the upgrade handler. Browsers may connect from the
// service's own host or from one of allowedOrigins ("*" allows any).
// Requests without an Origin header are not from a browser and pass.
func NewHandler(hub *Hub, verifier TokenVerifier, cookieName string, allowedOrigins []string) *Handler {
	h := &Handler{
		hub:        hub,
		verifier:   verifier,
		cookieName: cookieName,
		origins:    make(map[string]bool, len(allowedOrigins)),
	}
	for _, o := range allowedOrigins {
		h.origins[normalizeOrigin(o)] = true
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return h.origins["*"] || h.origins[normalizeOrigin(origin)]
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// Handle upgrades the connection and registers the client.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("globetales-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if !h.checkOrigin(c.Request) {
		c.AbortWithStatusJSON(http.StatusForbidden, apperr.Response{
			StatusCode: http.StatusForbidden,
			Message:    "Origin not allowed",
		})
		return
	}

	userID, err := h.verifier.Verify(h.token(c))
	if err != nil {
		resp := apperr.ResponseFor(apperr.Auth("Invalid token"))
		c.AbortWithStatusJSON(resp.StatusCode, resp)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := newConnInfo(c.Request, userID, span.SpanContext().TraceID().String())
	client := h.hub.Add(conn, info)

	h.hub.connected(info)

	// The connection outlives the request.
	go h.readPump(context.WithoutCancel(ctx), conn, client)
	go h.pingPump(conn, client)
}

// readPump discards client frames and unregisters the connection when it closes.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, c *Client) {
	var closeReason string
	defer func() {
		if h.hub.Remove(c) {
			h.hub.disconnected(c.info, closeReason)
		}
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.publishEvent(ctx, c.info, "ws_error", closeReason)
			}
			return
		}
	}
}

func (h *Handler) pingPump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (h *Handler) token(c *gin.Context) string {
	if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	if h.cookieName != "" {
		if cookie, err := c.Cookie(h.cookieName); err == nil {
			return cookie
		}
	}
	return ""
}
