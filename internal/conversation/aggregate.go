package conversation

import (
	"fmt"
	"sort"

	"care-messaging/internal/models"
)

// GroupingError reports a message that could not be assigned to a thread.
// One bad record does not abort the fold; callers receive the errors
// alongside the map built from the valid messages.
type GroupingError struct {
	MessageID string
}

func (e GroupingError) Error() string {
	return fmt.Sprintf("message %q has no conversation id", e.MessageID)
}

// Fold groups a flat message stream into per-conversation summaries. It is
// a pure transform: deterministic for the same message set regardless of
// input order, safe to call repeatedly. Messages with an empty conversation
// id are skipped and reported, never grouped under an empty key.
func Fold(msgs []models.Message) (map[string]*models.Conversation, []GroupingError) {
	byID := make(map[string]*models.Conversation)
	var errs []GroupingError

	for _, msg := range msgs {
		if msg.ConversationID == "" {
			errs = append(errs, GroupingError{MessageID: msg.ID})
			continue
		}
		conv, ok := byID[msg.ConversationID]
		if !ok {
			conv = &models.Conversation{ID: msg.ConversationID}
			byID[msg.ConversationID] = conv
		}
		conv.Messages = append(conv.Messages, msg)
	}

	for _, conv := range byID {
		// The bulk list arrives most-recent-first; threads render oldest-first.
		sort.SliceStable(conv.Messages, func(i, j int) bool {
			return conv.Messages[i].CreatedAt.Before(conv.Messages[j].CreatedAt)
		})
		for _, msg := range conv.Messages {
			if !conv.HasParticipant(msg.SenderName) {
				conv.Participants = append(conv.Participants, msg.SenderName)
			}
			if !msg.IsRead {
				conv.UnreadCount++
			}
		}
		last := conv.Messages[len(conv.Messages)-1]
		conv.LastMessage = last.Content
		conv.LastMessageTime = last.CreatedAt
		conv.LastMessageType = last.MessageType
	}

	return byID, errs
}

// SortSummaries orders conversation summaries most-recently-active first,
// the order the list view presents them in.
func SortSummaries(byID map[string]*models.Conversation) []*models.Conversation {
	out := make([]*models.Conversation, 0, len(byID))
	for _, conv := range byID {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}
