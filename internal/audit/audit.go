// Package audit is the append-only security event trail. Events are
// published onto a queue and written to the database by the worker;
// recording is best effort and never fails the calling operation.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"qrattendance/internal/queue"
)

// Actions recorded by this service. Per-refresh QR rotation is
// deliberately not audited; it fires every 30s per live session and
// would drown the trail.
const (
	ActionAttendanceMarked    = "attendance_marked"
	ActionSessionCreated      = "session_created"
	ActionUnauthorizedAttempt = "unauthorized_attempt"
	ActionDeviceRegistered    = "device_registered"
)

// MessageType tags audit events on the shared queue.
const MessageType = "audit"

// Event is one security-relevant occurrence.
type Event struct {
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Recorder publishes events onto the queue.
type Recorder struct {
	q       queue.Queue
	timeout time.Duration
}

// NewRecorder wraps a queue. The timeout bounds how long a publish may
// take; a full or unreachable queue drops the event.
func NewRecorder(q queue.Queue, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{q: q, timeout: timeout}
}

// Record enqueues an event. Errors are logged and swallowed: the
// attendance response must never depend on the audit sink.
func (r *Recorder) Record(ctx context.Context, evt Event) {
	if r == nil || r.q == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("audit: marshal failed: %v", err)
		return
	}
	// Detach from the request context so a client disconnect does not
	// lose the event, but keep the publish bounded.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.q.Publish(pubCtx, queue.Message{Type: MessageType, Body: body}); err != nil {
		log.Printf("audit: publish failed: %v", err)
	}
}
