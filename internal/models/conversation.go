package models

import "time"

// Conversation is the derived, per-thread summary computed from the set of
// messages sharing a conversation id. It is never persisted.
type Conversation struct {
	ID string `json:"conversation_id"`

	// Participants holds distinct sender names in the order they first
	// appear chronologically, kept stable for display.
	Participants []string `json:"participants"`

	// Messages is the thread, ascending by created time.
	Messages []Message `json:"messages"`

	LastMessage     string      `json:"last_message"`
	LastMessageTime time.Time   `json:"last_message_time"`
	LastMessageType MessageType `json:"last_message_type"`

	// UnreadCount is the number of messages in the thread whose is_read
	// flag is still false.
	UnreadCount int `json:"unread_count"`
}

// HasParticipant reports whether the name is already part of the thread.
func (c *Conversation) HasParticipant(name string) bool {
	for _, p := range c.Participants {
		if p == name {
			return true
		}
	}
	return false
}
