package ws

import "testing"

func TestHubAddAndRemoveThreadClient(t *testing.T) {
	hub := NewHub()

	hub.AddThreadClient("conv-1", nil, ConnInfo{ConnID: "c1"})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected conversation room to be created")
	}

	hub.RemoveThreadClient("conv-1", nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected conversation room to be removed")
	}
	if len(hub.roomInfo) != 0 {
		t.Fatalf("expected connection info to be removed")
	}
}

func TestHubAddAndRemoveInboxClient(t *testing.T) {
	hub := NewHub()

	hub.AddInboxClient(nil, ConnInfo{ConnID: "c2"})
	if len(hub.inbox) != 1 {
		t.Fatalf("expected inbox client to be registered")
	}

	hub.RemoveInboxClient(nil)
	if len(hub.inbox) != 0 {
		t.Fatalf("expected inbox client to be removed")
	}
}
