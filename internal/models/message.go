package models

import "time"

// Role identifies the actor class a portal user belongs to.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleWorker   Role = "worker"
	RoleCustomer Role = "customer"
	RoleSystem   Role = "system"
)

// Valid reports whether the role is one of the known portal roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleWorker, RoleCustomer, RoleSystem:
		return true
	}
	return false
}

// MessageType is the closed classification of a message. It drives both
// composition policy and rendering.
type MessageType string

const (
	TypeDirect    MessageType = "direct"
	TypeJobUpdate MessageType = "job_update"
	TypeUrgent    MessageType = "urgent"
	TypeSystem    MessageType = "system"
)

// Valid reports whether the type is a member of the closed set.
func (t MessageType) Valid() bool {
	switch t {
	case TypeDirect, TypeJobUpdate, TypeUrgent, TypeSystem:
		return true
	}
	return false
}

// RenderStyle tells the presentation layer how a message is displayed.
type RenderStyle int

const (
	// RenderBubble is a chat bubble attributed to its sender.
	RenderBubble RenderStyle = iota
	// RenderCard is a centered card without a bubble side.
	RenderCard
	// RenderUrgentCard is a centered card with elevated visual priority.
	RenderUrgentCard
	// RenderSystemCard is a centered informational card with no sender
	// attribution regardless of sender role.
	RenderSystemCard
)

// RenderStyle maps a message type to its display treatment.
func (t MessageType) RenderStyle() RenderStyle {
	switch t {
	case TypeJobUpdate:
		return RenderCard
	case TypeUrgent:
		return RenderUrgentCard
	case TypeSystem:
		return RenderSystemCard
	default:
		return RenderBubble
	}
}

// CanCompose reports whether a role may originate the given message type
// from the composer. Only admins send job updates and urgent notices, and
// system messages never come from the composer. This is a client-facing
// convenience policy, not the authorization boundary.
func (r Role) CanCompose(t MessageType) bool {
	switch t {
	case TypeDirect:
		return r == RoleAdmin || r == RoleWorker || r == RoleCustomer
	case TypeJobUpdate, TypeUrgent:
		return r == RoleAdmin
	default:
		return false
	}
}

// Message is the atomic persisted unit of the messaging stream.
type Message struct {
	ID             string      `db:"id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"conversation_id"`
	SenderID       string      `db:"sender_id" json:"sender_id"`
	SenderName     string      `db:"sender_name" json:"sender_name"`
	SenderRole     Role        `db:"sender_role" json:"sender_role"`
	Content        string      `db:"content" json:"content"`
	MessageType    MessageType `db:"message_type" json:"message_type"`
	IsRead         bool        `db:"is_read" json:"is_read"`
	CreatedAt      time.Time   `db:"created_at" json:"created_date"`
}

// MessageEvent is delivered through the store subscription and broadcast
// over websockets.
type MessageEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// EventCreate is the only event type the subscription currently emits.
const EventCreate = "create"
