package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"care-messaging/internal/models"
	"care-messaging/internal/observability"
)

// Hub maintains active websocket connections: one room per conversation for
// open threads, plus an inbox room whose members receive every event so
// conversation-list views stay current.
type Hub struct {
	rooms     map[string]map[*websocket.Conn]bool
	roomInfo  map[string]map[*websocket.Conn]ConnInfo
	inbox     map[*websocket.Conn]bool
	inboxInfo map[*websocket.Conn]ConnInfo
	mu        sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:     make(map[string]map[*websocket.Conn]bool),
		roomInfo:  make(map[string]map[*websocket.Conn]ConnInfo),
		inbox:     make(map[*websocket.Conn]bool),
		inboxInfo: make(map[*websocket.Conn]ConnInfo),
	}
}

// AddThreadClient registers a connection to a conversation room.
func (h *Hub) AddThreadClient(conversationID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[conversationID][conn] = true
	if _, ok := h.roomInfo[conversationID]; !ok {
		h.roomInfo[conversationID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.roomInfo[conversationID][conn] = info
}

// RemoveThreadClient removes a connection from a conversation room.
func (h *Hub) RemoveThreadClient(conversationID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	if infos, ok := h.roomInfo[conversationID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.roomInfo, conversationID)
		}
	}
}

// AddInboxClient registers a connection that receives every create event.
func (h *Hub) AddInboxClient(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbox[conn] = true
	h.inboxInfo[conn] = info
}

// RemoveInboxClient removes an inbox connection.
func (h *Hub) RemoveInboxClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inbox, conn)
	delete(h.inboxInfo, conn)
}

// HandleEvent fans a store create event out to the matching conversation
// room and to every inbox connection. It is the handler registered with the
// store subscription.
func (h *Hub) HandleEvent(event models.MessageEvent) {
	if event.Type != models.EventCreate || event.Message == nil {
		return
	}
	payload, _ := json.Marshal(event)

	conversationID := event.Message.ConversationID
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[conversationID])+len(h.inbox))
	threadCount := len(h.rooms[conversationID])
	for conn := range h.rooms[conversationID] {
		conns = append(conns, conn)
	}
	for conn := range h.inbox {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for i, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			if i < threadCount {
				h.publishWSError("thread", conversationID, conn, err)
				h.RemoveThreadClient(conversationID, conn)
			} else {
				h.publishWSError("inbox", "", conn, err)
				h.RemoveInboxClient(conn)
			}
		}
	}
	observability.IncWSEvent("hub", "message_broadcast")
}

func (h *Hub) publishWSError(kind, conversationID string, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(kind, conversationID, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":            kind,
			"conversation_id": conversationID,
			"event":           "ws_error",
			"conn_id":         info.ConnID,
			"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
			"reason":          err.Error(),
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
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(kind, "ws_error")
}

func (h *Hub) getConnInfo(kind, conversationID string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if kind == "inbox" {
		info, exists := h.inboxInfo[conn]
		return info, exists
	}
	if infos, ok := h.roomInfo[conversationID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
