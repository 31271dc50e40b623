package store

import (
	"testing"

	"care-messaging/internal/models"
)

func event(id, conv string) models.MessageEvent {
	return models.MessageEvent{
		Type:    models.EventCreate,
		Message: &models.Message{ID: id, ConversationID: conv},
	}
}

func TestBrokerDeliversToSubscribers(t *testing.T) {
	b := NewBroker()

	var got []string
	unsubscribe := b.Subscribe(func(e models.MessageEvent) {
		got = append(got, e.Message.ID)
	})
	defer unsubscribe()

	b.Publish(event("m1", "A"))
	b.Publish(event("m2", "B"))

	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("expected both events delivered in order, got %v", got)
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()

	delivered := 0
	unsubscribe := b.Subscribe(func(models.MessageEvent) { delivered++ })

	b.Publish(event("m1", "A"))
	unsubscribe()
	b.Publish(event("m2", "A"))

	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers after unsubscribe")
	}
}

func TestBrokerUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()

	first := b.Subscribe(func(models.MessageEvent) {})
	second := b.Subscribe(func(models.MessageEvent) {})

	first()
	first()
	first()

	if b.SubscriberCount() != 1 {
		t.Fatalf("repeated unsubscribe must not touch other handlers, have %d", b.SubscriberCount())
	}
	second()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected empty broker")
	}
}

func TestBrokerIndependentSubscribers(t *testing.T) {
	b := NewBroker()

	a, c := 0, 0
	unsubA := b.Subscribe(func(models.MessageEvent) { a++ })
	defer unsubA()
	unsubC := b.Subscribe(func(models.MessageEvent) { c++ })

	b.Publish(event("m1", "A"))
	unsubC()
	b.Publish(event("m2", "A"))

	if a != 2 || c != 1 {
		t.Fatalf("expected a=2 c=1, got a=%d c=%d", a, c)
	}
}
