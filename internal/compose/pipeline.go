// Package compose implements the outbound send pipeline: validate, stamp
// identity, submit to the store, and reconcile dependent view caches.
package compose

import (
	"context"
	"errors"
	"strings"

	"care-messaging/internal/identity"
	"care-messaging/internal/models"
	"care-messaging/internal/observability"
	"care-messaging/internal/store"
)

var (
	// ErrEmptyContent rejects a submission whose content is blank after
	// trimming. The store is never contacted.
	ErrEmptyContent = errors.New("content must not be empty")
	// ErrTypeNotAllowed rejects a message type the sender's role may not
	// originate.
	ErrTypeNotAllowed = errors.New("message type not allowed for role")
	// ErrUnknownType rejects a message type outside the closed set. Distinct
	// from ErrTypeNotAllowed: the type itself is malformed, not a policy
	// denial.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingConversation rejects a submission without a thread binding.
	ErrMissingConversation = errors.New("conversation id is required")
)

// Invalidator is the cache-invalidation signal emitted after a successful
// send so independently rendered lists refresh.
type Invalidator interface {
	InvalidatePrefix(prefix string) int
}

// ListViewPrefix is the query group holding the role-scoped conversation
// list views.
const ListViewPrefix = "conversations:"

// SendRequest is what the composer hands the pipeline.
type SendRequest struct {
	ConversationID string             `json:"conversation_id"`
	Content        string             `json:"content"`
	MessageType    models.MessageType `json:"message_type"`
}

// Pipeline validates and submits outbound messages.
type Pipeline struct {
	store    store.MessageStore
	identity identity.Provider
	cache    Invalidator
	onSent   func(msg models.Message)
}

// NewPipeline constructs a Pipeline. cache and onSent may be nil.
func NewPipeline(st store.MessageStore, provider identity.Provider, cache Invalidator, onSent func(msg models.Message)) *Pipeline {
	return &Pipeline{store: st, identity: provider, cache: cache, onSent: onSent}
}

// Send validates the request, stamps the current user's identity onto it,
// and persists it. On success the role-scoped list caches are invalidated
// and the completion callback runs. On failure the error is returned
// unchanged with no side effects and no automatic retry; the composer keeps
// its input.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		observability.IncSendRejected("empty_content")
		return models.Message{}, ErrEmptyContent
	}
	if req.ConversationID == "" {
		observability.IncSendRejected("missing_conversation")
		return models.Message{}, ErrMissingConversation
	}

	msgType := req.MessageType
	if msgType == "" {
		msgType = models.TypeDirect
	}
	if !msgType.Valid() {
		observability.IncSendRejected("unknown_type")
		return models.Message{}, ErrUnknownType
	}

	user, err := p.identity.CurrentUser(ctx)
	if err != nil {
		return models.Message{}, err
	}
	if !user.Role.CanCompose(msgType) {
		observability.IncSendRejected("type_not_allowed")
		return models.Message{}, ErrTypeNotAllowed
	}

	msg, err := p.store.Create(ctx, store.CreatePayload{
		ConversationID: req.ConversationID,
		SenderID:       user.ID,
		SenderName:     user.FullName,
		SenderRole:     user.Role,
		Content:        content,
		MessageType:    msgType,
	})
	if err != nil {
		observability.IncSendRejected("transport")
		return models.Message{}, err
	}

	if p.cache != nil {
		p.cache.InvalidatePrefix(ListViewPrefix)
	}
	if p.onSent != nil {
		p.onSent(msg)
	}
	return msg, nil
}
