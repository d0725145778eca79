package ws

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   nil,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "user-1")
	c2 := mockClient(hub, "user-2")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "user-1")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestNotifyUserTargetsOnlyThatUser(t *testing.T) {
	hub := NewHub(slog.Default())

	mine := mockClient(hub, "user-1")
	mineToo := mockClient(hub, "user-1")
	theirs := mockClient(hub, "user-2")
	hub.Register(mine)
	hub.Register(mineToo)
	hub.Register(theirs)

	msg := NewMessage("schedule", "updated", "sched-42", map[string]any{"has_conflict": true})
	hub.NotifyUser("user-1", msg)

	for _, c := range []*Client{mine, mineToo} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "schedule_updated" {
				t.Errorf("expected type schedule_updated, got %s", got.Type)
			}
			if got.ID != "sched-42" {
				t.Errorf("expected id sched-42, got %s", got.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("client did not receive message")
		}
	}

	select {
	case <-theirs.send:
		t.Fatal("other user's client received the message")
	default:
	}
}

func TestNotifyUserDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "user-1")
	hub.Register(c)

	// Fill the buffer, then one more must not block.
	msg := NewMessage("alert", "created", "a-1", nil)
	for i := 0; i < sendBufferSize+5; i++ {
		hub.NotifyUser("user-1", msg)
	}

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("expected %d buffered messages, got %d", sendBufferSize, got)
	}
}
