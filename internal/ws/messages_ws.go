package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"care-messaging/internal/identity"
	"care-messaging/internal/observability"
)

// TokenParser validates a bearer token and returns the portal user.
type TokenParser func(token string) (identity.User, error)

// MessagingWebSocketHandler upgrades live-update connections for thread and
// inbox views.
type MessagingWebSocketHandler struct {
	hub        *Hub
	parseToken TokenParser
}

// NewMessagingWebSocketHandler constructs a MessagingWebSocketHandler.
func NewMessagingWebSocketHandler(hub *Hub, parseToken TokenParser) *MessagingWebSocketHandler {
	return &MessagingWebSocketHandler{hub: hub, parseToken: parseToken}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleThread registers the connection to one conversation's room.
func (h *MessagingWebSocketHandler) HandleThread(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	h.handle(c, "thread", conversationID)
}

// HandleInbox registers the connection to the inbox room, which receives
// every create event for list-view synchronization.
func (h *MessagingWebSocketHandler) HandleInbox(c *gin.Context) {
	h.handle(c, "inbox", "")
}

func (h *MessagingWebSocketHandler) handle(c *gin.Context, kind, conversationID string) {
	ctx, span := otel.Tracer("care-messaging/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	} else if parts := strings.SplitN(token, " ", 2); len(parts) == 2 {
		token = parts[1]
	}

	user, err := h.parseToken(token)
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
		UserID:      user.ID,
		Role:        user.Role,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	if kind == "inbox" {
		h.hub.AddInboxClient(conn, info)
	} else {
		h.hub.AddThreadClient(conversationID, conn, info)
	}

	observability.IncWSActive(kind)
	observability.IncWSEvent(kind, "ws_connect")
	h.publishLifecycle(kind, conversationID, info, "ws_connect", "")

	// Keep the connection alive; removal from the hub is guaranteed on
	// every exit path.
	go func() {
		var closeReason string
		defer func() {
			if kind == "inbox" {
				h.hub.RemoveInboxClient(conn)
			} else {
				h.hub.RemoveThreadClient(conversationID, conn)
			}
			observability.DecWSActive(kind)
			observability.IncWSEvent(kind, "ws_disconnect")
			h.publishLifecycle(kind, conversationID, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent(kind, "ws_error")
					h.publishLifecycle(kind, conversationID, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}

func (h *MessagingWebSocketHandler) publishLifecycle(kind, conversationID string, info ConnInfo, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":            kind,
			"conversation_id": conversationID,
			"event":           event,
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"role":      info.Role,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.messaging", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
