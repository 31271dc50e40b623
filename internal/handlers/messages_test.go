package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"care-messaging/internal/cache"
	"care-messaging/internal/compose"
	"care-messaging/internal/conversation"
	"care-messaging/internal/identity"
	"care-messaging/internal/mocks"
	"care-messaging/internal/models"
	"care-messaging/internal/store"
)

func setupRouter(handler *MessagingHandler, user identity.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(identity.WithUser(c.Request.Context(), user))
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.GET("/conversations/:conversation_id/messages", handler.GetThread)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.POST("/conversations/:conversation_id/read", handler.MarkRead)
	return r
}

func worker() identity.User {
	return identity.User{ID: "u2", FullName: "Wes Worker", Role: models.RoleWorker}
}

// newHandler wires a started session over the mock store, the way main
// does, and returns the subscription handler the session registered so
// tests can push live events through it.
func newHandler(t *testing.T, st *mocks.MessageStoreMock, baseline []models.Message, listCache *cache.Cache) (*MessagingHandler, store.Handler) {
	t.Helper()

	var fanout store.Handler
	st.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		fanout = args.Get(0).(store.Handler)
	}).Return(nil).Once()
	st.On("List", mock.Anything, store.OrderCreatedDesc).Return(baseline, nil).Once()

	session := conversation.NewSession(st)
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Close)

	pipeline := compose.NewPipeline(st, identity.ContextProvider{}, listCache, nil)
	return NewMessagingHandler(st, session, pipeline, listCache, time.Minute, nil), fanout
}

func sampleMessages() []models.Message {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []models.Message{
		{ID: "m2", ConversationID: "A", SenderName: "Bob", SenderRole: models.RoleCustomer, Content: "thanks", MessageType: models.TypeDirect, CreatedAt: base.Add(2 * time.Second)},
		{ID: "m1", ConversationID: "A", SenderName: "Alice", SenderRole: models.RoleAdmin, Content: "scheduled", MessageType: models.TypeJobUpdate, CreatedAt: base.Add(time.Second)},
	}
}

func TestListConversationsSuccess(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, _ := newHandler(t, st, sampleMessages(), cache.New())
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []conversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "A", resp.Conversations[0].ConversationID)
	assert.Equal(t, []string{"Alice", "Bob"}, resp.Conversations[0].Participants)
	assert.Equal(t, 2, resp.Conversations[0].UnreadCount)
	assert.Equal(t, models.TypeDirect, resp.Conversations[0].LastMessageType)
	st.AssertExpectations(t)
}

func TestListConversationsServedFromSessionNotStore(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, _ := newHandler(t, st, sampleMessages(), cache.New())
	router := setupRouter(handler, worker())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// the single baseline fetch serves every request
	st.AssertNumberOfCalls(t, "List", 1)
}

func TestListConversationsReflectsLiveEvent(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, fanout := newHandler(t, st, sampleMessages(), nil)
	router := setupRouter(handler, worker())

	created := models.Message{ID: "m9", ConversationID: "B", SenderName: "Carol", SenderRole: models.RoleCustomer, Content: "new job", MessageType: models.TypeDirect, CreatedAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)}
	fanout(models.MessageEvent{Type: models.EventCreate, Message: &created})

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []conversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "B", resp.Conversations[0].ConversationID)
	st.AssertNumberOfCalls(t, "List", 1)
}

func TestListConversationsSessionFailed(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("Subscribe", mock.Anything).Return(nil).Once()
	st.On("List", mock.Anything, store.OrderCreatedDesc).Return(([]models.Message)(nil), assert.AnError).Once()

	session := conversation.NewSession(st)
	require.Error(t, session.Start(context.Background()))
	t.Cleanup(session.Close)

	handler := NewMessagingHandler(st, session, nil, nil, time.Minute, nil)
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// a failed baseline is a 500 with the underlying error, never an
	// empty 200
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), assert.AnError.Error())
	st.AssertExpectations(t)
}

func TestListConversationsSessionLoading(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	session := conversation.NewSession(st)
	t.Cleanup(session.Close)

	handler := NewMessagingHandler(st, session, nil, nil, time.Minute, nil)
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetThreadAscending(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, _ := newHandler(t, st, sampleMessages(), nil)
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodGet, "/conversations/A/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1", resp.Messages[0].ID)
	assert.Equal(t, "m2", resp.Messages[1].ID)
}

func TestGetThreadUnknownConversationIsEmpty(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, _ := newHandler(t, st, []models.Message{}, nil)
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodGet, "/conversations/nope/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Messages)
}

func TestPostMessageSuccess(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("Create", mock.Anything, store.CreatePayload{
		ConversationID: "A",
		SenderID:       "u2",
		SenderName:     "Wes Worker",
		SenderRole:     models.RoleWorker,
		Content:        "hello",
		MessageType:    models.TypeDirect,
	}).Return(models.Message{ID: "m7", ConversationID: "A", Content: "hello", MessageType: models.TypeDirect}, nil).Once()

	handler, _ := newHandler(t, st, sampleMessages(), cache.New())
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodPost, "/conversations/A/messages", bytes.NewBufferString(`{"content":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, "m7", msg.ID)
	assert.Equal(t, models.TypeDirect, msg.MessageType)
	st.AssertExpectations(t)
}

func TestPostMessageEmptyContent(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, _ := newHandler(t, st, sampleMessages(), cache.New())
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodPost, "/conversations/A/messages", bytes.NewBufferString(`{"content":"   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	st.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPostMessageUnknownType(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, _ := newHandler(t, st, sampleMessages(), cache.New())
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodPost, "/conversations/A/messages", bytes.NewBufferString(`{"content":"now","message_type":"broadcast"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// a type outside the closed set is malformed input, not a policy
	// denial
	require.Equal(t, http.StatusBadRequest, rec.Code)
	st.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPostMessageTypeForbiddenForRole(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	handler, _ := newHandler(t, st, sampleMessages(), cache.New())
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodPost, "/conversations/A/messages", bytes.NewBufferString(`{"content":"now","message_type":"urgent"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	st.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPostMessageStoreError(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("Create", mock.Anything, mock.Anything).Return(models.Message{}, assert.AnError).Once()

	handler, _ := newHandler(t, st, sampleMessages(), cache.New())
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodPost, "/conversations/A/messages", bytes.NewBufferString(`{"content":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	st.AssertExpectations(t)
}

func TestMarkReadInvalidatesListViews(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("MarkConversationRead", mock.Anything, "A", "u2").Return(nil).Once()

	listCache := cache.New()
	listCache.Set(compose.ListViewPrefix+"worker", "cached", 0)

	handler, _ := newHandler(t, st, sampleMessages(), listCache)
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodPost, "/conversations/A/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	_, hit := listCache.Get(compose.ListViewPrefix + "worker")
	assert.False(t, hit)
	st.AssertExpectations(t)
}

func TestMarkReadUpdatesSessionUnread(t *testing.T) {
	st := new(mocks.MessageStoreMock)
	st.On("MarkConversationRead", mock.Anything, "A", "u2").Return(nil).Once()

	handler, _ := newHandler(t, st, sampleMessages(), nil)
	router := setupRouter(handler, worker())

	req := httptest.NewRequest(http.MethodPost, "/conversations/A/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)

	var resp struct {
		Conversations []conversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(listRec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Zero(t, resp.Conversations[0].UnreadCount)
	st.AssertExpectations(t)
}
