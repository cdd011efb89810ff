package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"qrattendance/internal/queue"
)

type failingQueue struct{}

func (failingQueue) Publish(context.Context, queue.Message) error {
	return errors.New("sink unavailable")
}

func (failingQueue) Consume(context.Context) (<-chan queue.Message, error) { return nil, nil }

func TestRecordPublishesEvent(t *testing.T) {
	q := queue.NewInMemory(4)
	rec := NewRecorder(q, time.Second)

	rec.Record(context.Background(), Event{
		UserID:     "stu1",
		Action:     ActionUnauthorizedAttempt,
		EntityType: "course",
		EntityID:   "c1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != MessageType {
			t.Fatalf("unexpected type %q", msg.Type)
		}
		var evt Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if evt.Action != ActionUnauthorizedAttempt || evt.OccurredAt.IsZero() {
			t.Fatalf("event not filled in: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("event never published")
	}
}

func TestRecordSwallowsSinkFailure(t *testing.T) {
	rec := NewRecorder(failingQueue{}, 10*time.Millisecond)
	// Must return normally; the caller's response never depends on the
	// audit sink.
	rec.Record(context.Background(), Event{UserID: "stu1", Action: ActionAttendanceMarked})
}

func TestRecordBoundedOnFullQueue(t *testing.T) {
	q := queue.NewInMemory(1)
	rec := NewRecorder(q, 20*time.Millisecond)
	rec.Record(context.Background(), Event{UserID: "stu1", Action: ActionAttendanceMarked})

	start := time.Now()
	rec.Record(context.Background(), Event{UserID: "stu2", Action: ActionAttendanceMarked})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("record blocked for %s on a full queue", elapsed)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(context.Background(), Event{UserID: "stu1"})
}
