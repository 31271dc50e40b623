package store

import (
	"context"
	"errors"

	"care-messaging/internal/models"
)

// ListOrder selects the ordering of a bulk list call.
type ListOrder string

const (
	// OrderCreatedDesc returns the newest message first. This is the order
	// the conversation views request.
	OrderCreatedDesc ListOrder = "-created_date"
	// OrderCreatedAsc returns the oldest message first.
	OrderCreatedAsc ListOrder = "created_date"
)

// ErrEmptyContent is returned when a create payload carries no content for
// a non-system message.
var ErrEmptyContent = errors.New("message content is empty")

// CreatePayload carries the fields a caller supplies when persisting a new
// message. The store assigns the id and created timestamp.
type CreatePayload struct {
	ConversationID string             `json:"conversation_id"`
	SenderID       string             `json:"sender_id"`
	SenderName     string             `json:"sender_name"`
	SenderRole     models.Role        `json:"sender_role"`
	Content        string             `json:"content"`
	MessageType    models.MessageType `json:"message_type"`
}

// Handler consumes subscription events. It may be invoked from a goroutine
// other than the subscriber's.
type Handler func(event models.MessageEvent)

// UnsubscribeFunc cancels a subscription. It is safe to call more than once.
type UnsubscribeFunc func()

// MessageStore is the persistence boundary the messaging core depends on.
// Everything above it treats the store as opaque: a flat, append-only
// message collection with list, create and subscribe.
type MessageStore interface {
	List(ctx context.Context, order ListOrder) ([]models.Message, error)
	Create(ctx context.Context, payload CreatePayload) (models.Message, error)
	Subscribe(handler Handler) UnsubscribeFunc

	// MarkConversationRead flips is_read on every message in the
	// conversation not sent by the reader. Read-state transitions are a
	// collaborator operation; the aggregation core only accounts for them.
	MarkConversationRead(ctx context.Context, conversationID, readerID string) error
}
