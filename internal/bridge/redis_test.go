package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisBridgeRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	b, err := NewRedisBridge(srv.Addr(), "", "test-chat")
	if err != nil {
		t.Fatalf("new redis bridge: %v", err)
	}
	defer b.Close()

	received := make(chan Event, 1)
	if err := b.Subscribe(context.Background(), func(ev Event) {
		received <- ev
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sent := Event{
		RoomID:      "room-1",
		MessageID:   "msg-1",
		SenderEmail: "alice@example.com",
		SenderName:  "Alice",
		Content:     "hello",
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := b.Publish(context.Background(), sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.RoomID != sent.RoomID || got.MessageID != sent.MessageID || got.Content != sent.Content {
			t.Fatalf("event mismatch: got %+v, want %+v", got, sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for relayed event")
	}
}

func TestRedisBridgeRequiresAddr(t *testing.T) {
	if _, err := NewRedisBridge("", "", "chat"); err == nil {
		t.Fatalf("blank addr must be rejected")
	}
}

func TestRedisBridgeUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()
	if _, err := NewRedisBridge(addr, "", "chat"); err == nil {
		t.Fatalf("unreachable redis must fail the ping check")
	}
}
