package store

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"care-messaging/internal/models"
	"care-messaging/internal/observability"
)

const messageColumns = `id, conversation_id, sender_id, sender_name, sender_role, content, message_type, is_read, created_at`

// SQLStore is the sqlx-backed MessageStore. Create events are fanned out
// through an in-process broker and mirrored onto the event exchange.
type SQLStore struct {
	db     *sqlx.DB
	broker *Broker
}

// NewSQLStore constructs a SQLStore around an open database handle.
func NewSQLStore(db *sqlx.DB, broker *Broker) *SQLStore {
	return &SQLStore{db: db, broker: broker}
}

// List returns every message in the requested order.
func (s *SQLStore) List(ctx context.Context, order ListOrder) ([]models.Message, error) {
	dir := "DESC"
	if order == OrderCreatedAsc {
		dir = "ASC"
	}
	query := `SELECT ` + messageColumns + ` FROM messages ORDER BY created_at ` + dir
	msgs := []models.Message{}
	if err := s.db.SelectContext(ctx, &msgs, query); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Create persists a message, publishes the create event to in-process
// subscribers, and mirrors it onto the event exchange.
func (s *SQLStore) Create(ctx context.Context, payload CreatePayload) (models.Message, error) {
	if strings.TrimSpace(payload.Content) == "" && payload.MessageType != models.TypeSystem {
		return models.Message{}, ErrEmptyContent
	}
	if payload.MessageType == "" {
		payload.MessageType = models.TypeDirect
	}

	var msg models.Message
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, sender_name, sender_role, content, message_type)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING `+messageColumns,
		payload.ConversationID, payload.SenderID, payload.SenderName, payload.SenderRole, payload.Content, payload.MessageType).
		StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	event := models.MessageEvent{Type: models.EventCreate, Message: &msg}
	s.broker.Publish(event)
	observability.IncMessageCreated(string(msg.MessageType))
	_ = observability.PublishEvent(ctx, "messages.created", observability.EventEnvelope{
		EventType: "message_events",
		EventName: "message_created",
		Payload:   event,
	}, nil)

	return msg, nil
}

// Subscribe registers a create-event handler with the broker.
func (s *SQLStore) Subscribe(handler Handler) UnsubscribeFunc {
	return s.broker.Subscribe(handler)
}

// MarkConversationRead flips is_read for every message in the conversation
// that the reader did not send.
func (s *SQLStore) MarkConversationRead(ctx context.Context, conversationID, readerID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE WHERE conversation_id=$1 AND sender_id<>$2 AND is_read = FALSE`,
		conversationID, readerID)
	return err
}

var _ MessageStore = (*SQLStore)(nil)
