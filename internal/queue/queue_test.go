package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRoundtrip(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := q.Publish(ctx, Message{Type: "audit", Body: []byte(`{"action":"x"}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Type != "audit" || string(msg.Body) != `{"action":"x"}` {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryPublishHonorsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	if err := q.Publish(ctx, Message{Type: "audit"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Queue is full and nothing consumes; a deadline must unblock.
	deadlineCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(deadlineCtx, Message{Type: "audit"}); err == nil {
		t.Fatal("expected context error on full queue")
	}
}

func TestSerializeRoundtrip(t *testing.T) {
	msg := Message{Type: "audit", Body: []byte(`{"a":"b|c"}`)}
	got, err := deserialize(serialize(msg))
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Type != msg.Type || string(got.Body) != string(msg.Body) {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}
