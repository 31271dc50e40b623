package conversation

import (
	"context"
	"log"
	"sync"

	"care-messaging/internal/models"
	"care-messaging/internal/observability"
	"care-messaging/internal/store"
)

// Status describes the lifecycle of a session's baseline fetch. Loading is
// distinct from an empty result; Failed carries the transport error.
type Status int

const (
	StatusLoading Status = iota
	StatusReady
	StatusFailed
)

// Session is the live merge engine backing one messaging view. It performs
// a baseline list-and-fold, then keeps the derived conversation map
// consistent with the store by reconciling create events incrementally.
// The map is owned exclusively by the session; consumers read snapshots.
type Session struct {
	store store.MessageStore

	mu            sync.RWMutex
	status        Status
	err           error
	conversations map[string]*models.Conversation
	known         map[string]struct{}
	pending       []models.Message
	merging       bool
	activeID      string
	closed        bool

	unsubscribe store.UnsubscribeFunc

	onUpdate func(conversationID string)
	onThread func(msg models.Message)
	onError  func(err error)
}

// Option configures a Session.
type Option func(*Session)

// WithUpdateFunc registers a callback fired after any conversation summary
// changes, with the affected conversation id.
func WithUpdateFunc(fn func(conversationID string)) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// WithThreadFunc registers a callback fired only for events matching the
// active conversation, carrying the merged message.
func WithThreadFunc(fn func(msg models.Message)) Option {
	return func(s *Session) { s.onThread = fn }
}

// WithErrorFunc registers a callback for subscription-channel errors.
func WithErrorFunc(fn func(err error)) Option {
	return func(s *Session) { s.onError = fn }
}

// NewSession constructs a session over the given store. Call Start to
// perform the baseline fetch and begin live merging, and Close on every
// exit path.
func NewSession(st store.MessageStore, opts ...Option) *Session {
	s := &Session{
		store:         st,
		status:        StatusLoading,
		conversations: make(map[string]*models.Conversation),
		known:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the store, then performs the baseline fetch and fold.
// Subscribing first closes the window where a create lands after the list
// query but before the subscription registers: such events are buffered
// while the fetch is in flight and replayed through the deduplicating merge
// once the baseline is in place. Until Start returns, the session reports
// StatusLoading. A failed fetch moves the session to StatusFailed, drops
// the subscription, and is returned to the caller.
func (s *Session) Start(ctx context.Context) error {
	unsub := s.store.Subscribe(s.apply)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.unsubscribe = unsub
	s.mu.Unlock()

	msgs, err := s.store.List(ctx, store.OrderCreatedDesc)
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.err = err
		s.pending = nil
		s.unsubscribe = nil
		s.mu.Unlock()
		unsub()
		return err
	}

	s.installBaseline(msgs)
	return nil
}

// installBaseline replaces the derived state with a fold of msgs, then
// replays any events buffered while the fetch was in flight. Replayed
// events go through the same id-deduplicating merge as live ones, so a
// message present both in the baseline and the buffer counts once.
func (s *Session) installBaseline(msgs []models.Message) {
	byID, groupErrs := Fold(msgs)
	for _, gerr := range groupErrs {
		log.Printf("conversation fold: %v", gerr)
		observability.IncGroupingError()
	}

	type delivery struct {
		msg    models.Message
		active bool
	}
	var replayed []delivery

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.conversations = byID
	s.known = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		s.known[m.ID] = struct{}{}
	}
	for _, msg := range s.pending {
		if merged, active := s.mergeLocked(msg); merged {
			replayed = append(replayed, delivery{msg: msg, active: active})
		}
	}
	s.pending = nil
	s.merging = true
	s.status = StatusReady
	s.err = nil
	s.mu.Unlock()

	for _, d := range replayed {
		if s.onUpdate != nil {
			s.onUpdate(d.msg.ConversationID)
		}
		if d.active && s.onThread != nil {
			s.onThread(d.msg)
		}
	}
}

// apply reconciles one subscription event into the derived state. Events
// arriving before the baseline is installed are buffered; it is a no-op
// after Close, for duplicate ids, and for non-create events.
func (s *Session) apply(event models.MessageEvent) {
	if event.Type != models.EventCreate || event.Message == nil {
		return
	}
	msg := *event.Message

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.merging {
		s.pending = append(s.pending, msg)
		s.mu.Unlock()
		return
	}
	merged, active := s.mergeLocked(msg)
	s.mu.Unlock()
	if !merged {
		return
	}

	if s.onUpdate != nil {
		s.onUpdate(msg.ConversationID)
	}
	if active && s.onThread != nil {
		s.onThread(msg)
	}
}

// mergeLocked folds one message into the derived state. Caller holds the
// session lock. It reports whether the message changed anything and whether
// it belongs to the active conversation.
func (s *Session) mergeLocked(msg models.Message) (merged, active bool) {
	if msg.ConversationID == "" {
		log.Printf("live merge: %v", GroupingError{MessageID: msg.ID})
		observability.IncGroupingError()
		return false, false
	}
	if _, dup := s.known[msg.ID]; dup {
		return false, false
	}
	s.known[msg.ID] = struct{}{}

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		conv = &models.Conversation{ID: msg.ConversationID}
		s.conversations[msg.ConversationID] = conv
	}
	mergeMessage(conv, msg)
	return true, s.activeID == msg.ConversationID
}

// mergeMessage inserts one message into a conversation, keeping the thread
// sorted by created time and the derived fields consistent. Caller holds
// the session lock.
func mergeMessage(conv *models.Conversation, msg models.Message) {
	pos := len(conv.Messages)
	for pos > 0 && msg.CreatedAt.Before(conv.Messages[pos-1].CreatedAt) {
		pos--
	}
	conv.Messages = append(conv.Messages, models.Message{})
	copy(conv.Messages[pos+1:], conv.Messages[pos:])
	conv.Messages[pos] = msg

	if !conv.HasParticipant(msg.SenderName) {
		conv.Participants = append(conv.Participants, msg.SenderName)
	}
	if !msg.IsRead {
		conv.UnreadCount++
	}
	last := conv.Messages[len(conv.Messages)-1]
	conv.LastMessage = last.Content
	conv.LastMessageTime = last.CreatedAt
	conv.LastMessageType = last.MessageType
}

// Recompute refetches the full message set and rebuilds the derived state
// from scratch. It is the correctness fallback: the result must agree with
// what incremental merging produced. Events arriving during the refetch
// are buffered and replayed, same as during Start.
func (s *Session) Recompute(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.merging = false
	s.mu.Unlock()

	msgs, err := s.store.List(ctx, store.OrderCreatedDesc)
	if err != nil {
		s.mu.Lock()
		for _, msg := range s.pending {
			s.mergeLocked(msg)
		}
		s.pending = nil
		s.merging = true
		s.status = StatusFailed
		s.err = err
		s.mu.Unlock()
		return err
	}

	s.installBaseline(msgs)
	return nil
}

// AcknowledgeRead mirrors a store-side read acknowledgment into the derived
// state: every message in the conversation not sent by readerID is marked
// read and the unread count adjusted, matching what a full Recompute would
// produce after the store update.
func (s *Session) AcknowledgeRead(conversationID, readerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if conv.Messages[i].SenderID == readerID || conv.Messages[i].IsRead {
			continue
		}
		conv.Messages[i].IsRead = true
		if conv.UnreadCount > 0 {
			conv.UnreadCount--
		}
	}
}

// SetActive scopes the thread callback to one conversation. Events for
// other conversations still update the summary state, so unread counts and
// previews stay correct for threads that are not open.
func (s *Session) SetActive(conversationID string) {
	s.mu.Lock()
	s.activeID = conversationID
	s.mu.Unlock()
}

// ClearActive removes the thread scoping.
func (s *Session) ClearActive() {
	s.SetActive("")
}

// Status reports the baseline lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the transport error behind a StatusFailed session.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Summaries returns the conversation summaries, most recently active first.
// The returned values are copies; mutating them does not affect the session.
func (s *Session) Summaries() []*models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, copyConversation(conv))
	}
	byID := make(map[string]*models.Conversation, len(out))
	for _, conv := range out {
		byID[conv.ID] = conv
	}
	return SortSummaries(byID)
}

// Thread returns the ascending message list for one conversation, or nil
// if the session has not seen it.
func (s *Session) Thread(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	msgs := make([]models.Message, len(conv.Messages))
	copy(msgs, conv.Messages)
	return msgs
}

// ReportError surfaces a subscription-channel failure to the consumer. The
// session does not reconnect on its own; the owner decides whether to tear
// down and start a new session.
func (s *Session) ReportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// Close tears the session down. It is idempotent and must run on every
// exit path; after it returns, late-arriving events are no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func copyConversation(conv *models.Conversation) *models.Conversation {
	cp := *conv
	cp.Participants = append([]string(nil), conv.Participants...)
	cp.Messages = append([]models.Message(nil), conv.Messages...)
	return &cp
}
