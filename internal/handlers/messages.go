package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"care-messaging/internal/cache"
	"care-messaging/internal/compose"
	"care-messaging/internal/conversation"
	"care-messaging/internal/identity"
	"care-messaging/internal/models"
	"care-messaging/internal/store"
	"care-messaging/internal/telemetry"
)

// MessagingHandler serves the conversation and message endpoints. List and
// thread reads come from the process-wide session, which keeps the derived
// conversation state live-merged; the store is only touched for writes.
type MessagingHandler struct {
	store    store.MessageStore
	session  *conversation.Session
	pipeline *compose.Pipeline
	cache    *cache.Cache
	listTTL  time.Duration
	audit    *telemetry.AuditEmitter
}

// NewMessagingHandler builds a MessagingHandler. cache and audit may be nil.
func NewMessagingHandler(st store.MessageStore, session *conversation.Session, pipeline *compose.Pipeline, listCache *cache.Cache, listTTL time.Duration, audit *telemetry.AuditEmitter) *MessagingHandler {
	return &MessagingHandler{
		store:    st,
		session:  session,
		pipeline: pipeline,
		cache:    listCache,
		listTTL:  listTTL,
		audit:    audit,
	}
}

// sessionReady reports whether the session can serve reads, writing the
// appropriate error response when it cannot.
func (h *MessagingHandler) sessionReady(c *gin.Context) bool {
	switch h.session.Status() {
	case conversation.StatusLoading:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messages are still loading"})
		return false
	case conversation.StatusFailed:
		resp := gin.H{"error": "failed to load messages"}
		if err := h.session.Err(); err != nil {
			resp["detail"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, resp)
		return false
	}
	return true
}

// conversationSummary is the list-view projection of a conversation.
type conversationSummary struct {
	ConversationID  string             `json:"conversation_id"`
	Participants    []string           `json:"participants"`
	LastMessage     string             `json:"last_message"`
	LastMessageTime time.Time          `json:"last_message_time"`
	LastMessageType models.MessageType `json:"last_message_type"`
	UnreadCount     int                `json:"unread_count"`
	MessageCount    int                `json:"message_count"`
}

// ListConversations returns the conversation summaries for the caller's
// role view, most recently active first. Responses are cached per role and
// invalidated by the send pipeline.
func (h *MessagingHandler) ListConversations(c *gin.Context) {
	user, ok := identity.FromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return
	}

	if !h.sessionReady(c) {
		return
	}

	cacheKey := compose.ListViewPrefix + string(user.Role)
	if h.cache != nil {
		if cached, hit := h.cache.Get(cacheKey); hit {
			c.JSON(http.StatusOK, gin.H{"conversations": cached})
			return
		}
	}

	sorted := h.session.Summaries()
	summaries := make([]conversationSummary, 0, len(sorted))
	for _, conv := range sorted {
		summaries = append(summaries, conversationSummary{
			ConversationID:  conv.ID,
			Participants:    conv.Participants,
			LastMessage:     conv.LastMessage,
			LastMessageTime: conv.LastMessageTime,
			LastMessageType: conv.LastMessageType,
			UnreadCount:     conv.UnreadCount,
			MessageCount:    len(conv.Messages),
		})
	}

	if h.cache != nil {
		h.cache.Set(cacheKey, summaries, h.listTTL)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetThread returns the ascending message list for one conversation. A
// conversation with no messages yet is an empty thread, not an error.
func (h *MessagingHandler) GetThread(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	if !h.sessionReady(c) {
		return
	}

	thread := h.session.Thread(conversationID)
	if thread == nil {
		thread = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": thread})
}

// PostMessage pushes a composer submission through the send pipeline.
func (h *MessagingHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	var req struct {
		Content     string             `json:"content"`
		MessageType models.MessageType `json:"message_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.pipeline.Send(c.Request.Context(), compose.SendRequest{
		ConversationID: conversationID,
		Content:        req.Content,
		MessageType:    req.MessageType,
	})
	if err != nil {
		switch {
		case errors.Is(err, compose.ErrEmptyContent), errors.Is(err, compose.ErrMissingConversation), errors.Is(err, compose.ErrUnknownType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, compose.ErrTypeNotAllowed):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, identity.ErrNoUser):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	h.emitAudit(c, telemetry.AuditPayload{
		Action:         "message_sent",
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		MessageType:    string(msg.MessageType),
	})
	c.JSON(http.StatusCreated, msg)
}

// MarkRead acknowledges every message in the conversation the caller did
// not send. Unread counts across role views change, so list caches are
// invalidated.
func (h *MessagingHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	user, ok := identity.FromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return
	}

	if err := h.store.MarkConversationRead(c.Request.Context(), conversationID, user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation read"})
		return
	}
	h.session.AcknowledgeRead(conversationID, user.ID)
	if h.cache != nil {
		h.cache.InvalidatePrefix(compose.ListViewPrefix)
	}

	h.emitAudit(c, telemetry.AuditPayload{
		Action:         "conversation_read",
		ConversationID: conversationID,
	})
	c.Status(http.StatusNoContent)
}

func (h *MessagingHandler) emitAudit(c *gin.Context, payload telemetry.AuditPayload) {
	if h.audit == nil {
		return
	}
	requestID := c.GetHeader("X-Request-Id")
	var userID *string
	if user, ok := identity.FromContext(c.Request.Context()); ok {
		userID = &user.ID
	}
	h.audit.Emit(c.Request.Context(), payload, requestID, userID)
}
