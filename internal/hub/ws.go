package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"barlink-service/internal/observability"
)

// WebSocketHandler upgrades hub connections and serves the join/leave RPCs on
// the read pump.
type WebSocketHandler struct {
	hub    *Hub
	tokens *TokenIssuer
}

func NewWebSocketHandler(hub *Hub, tokens *TokenIssuer) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, tokens: tokens}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// negotiateResponse mirrors the upstream hub contract: the client receives
// where to connect and a token to connect with.
type negotiateResponse struct {
	Endpoint    string `json:"endpoint"`
	AccessToken string `json:"accessToken"`
}

// Negotiate handles POST /negotiate. Identity comes from the gateway-installed
// X-User-Id header.
func (h *WebSocketHandler) Negotiate(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	token, err := h.tokens.Mint(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mint token"})
		return
	}
	c.JSON(http.StatusOK, negotiateResponse{Endpoint: "/ws", AccessToken: token})
}

// clientRPC is a client→server frame on the hub socket.
type clientRPC struct {
	Action string `json:"action"` // "join" | "leave"
	Group  string `json:"group"`
}

// Serve handles GET /ws.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	ctx, span := otel.Tracer("barlink-service/hub").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("access_token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	userID, err := h.tokens.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		IP:          observability.ClientIP(c.Request),
		RequestID:   c.GetHeader("X-Request-Id"),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Register(conn, info)

	observability.IncHubActive()
	observability.IncHubEvent("hub", "ws_connect")
	observability.EmitConnEvent(ctx, "ws_connect", connEventDetail(info, ""), info.RequestID, info.TraceID)

	go h.readPump(conn, info)
}

func (h *WebSocketHandler) readPump(conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
		observability.DecHubActive()
		observability.IncHubEvent("hub", "ws_disconnect")
		observability.EmitConnEvent(context.Background(), "ws_disconnect", connEventDetail(info, closeReason), info.RequestID, info.TraceID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncHubEvent("hub", "ws_error")
			}
			return
		}

		var rpc clientRPC
		if err := json.Unmarshal(data, &rpc); err != nil {
			continue
		}
		switch rpc.Action {
		case "join":
			if rpc.Group != "" {
				h.hub.Join(rpc.Group, conn)
			}
		case "leave":
			if rpc.Group != "" {
				h.hub.Leave(rpc.Group, conn)
			}
		}
	}
}

func connEventDetail(info ConnInfo, reason string) map[string]any {
	return map[string]any{
		"conn_id":     info.ConnID,
		"user_id":     info.UserID,
		"ip":          info.IP,
		"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
		"reason":      reason,
	}
}
