package session

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"qrattendance/internal/audit"
	"qrattendance/internal/queue"
)

type memStore struct {
	sessions map[string]Session
}

func newMemStore() *memStore { return &memStore{sessions: map[string]Session{}} }

func (m *memStore) Insert(_ context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = "sess-1"
	}
	s.CreatedAt = time.Now()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memStore) ByID(_ context.Context, id string) (Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) UpdateQR(_ context.Context, id string, qr QRCode) error {
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.QR = qr
	m.sessions[id] = s
	return nil
}

func (m *memStore) InvalidateQR(_ context.Context, id string) error {
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.QR.IsValid = false
	m.sessions[id] = s
	return nil
}

func (m *memStore) ByCourse(context.Context, string) ([]CourseSummary, error) { return nil, nil }

var hexToken = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestCreateIssuesFreshToken(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 30*time.Second)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	sess, err := svc.Create(context.Background(), "c1", "teach1", CreateParams{
		Latitude: 26.7018, Longitude: 92.8339, Radius: 50, Duration: 60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !hexToken.MatchString(sess.QR.SessionToken) {
		t.Fatalf("token not 32-byte hex: %q", sess.QR.SessionToken)
	}
	if sess.Status != StatusActive {
		t.Fatalf("expected active, got %s", sess.Status)
	}
	if !sess.QR.IsValid {
		t.Fatal("new token must be valid")
	}
	if got := sess.QR.ExpiresAt.Sub(sess.QR.GeneratedAt); got != 30*time.Second {
		t.Fatalf("expected 30s ttl, got %s", got)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 30*time.Second)

	sess, err := svc.Create(context.Background(), "c1", "teach1", CreateParams{Radius: 50})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	oldToken := sess.QR.SessionToken

	qr, err := svc.Refresh(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if qr.SessionToken == oldToken {
		t.Fatal("refresh must issue a different token")
	}
	if !qr.IsValid {
		t.Fatal("refreshed token must be valid")
	}
	stored := store.sessions[sess.ID]
	if stored.QR.SessionToken != qr.SessionToken {
		t.Fatal("rotation must overwrite the stored token")
	}
}

func TestRefreshRevivesInvalidatedSession(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 30*time.Second)

	sess, _ := svc.Create(context.Background(), "c1", "teach1", CreateParams{Radius: 50})
	if err := svc.Invalidate(context.Background(), sess.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if store.sessions[sess.ID].QR.IsValid {
		t.Fatal("invalidate must clear validity")
	}

	// Invalidation is terminal for the token, not the session.
	qr, err := svc.Refresh(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("refresh after invalidate: %v", err)
	}
	if !qr.IsValid {
		t.Fatal("refresh must revive the session with a valid token")
	}
}

func TestLifecycleNotFound(t *testing.T) {
	svc := NewService(newMemStore(), nil, 30*time.Second)
	if _, err := svc.Refresh(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Invalidate(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.QR(context.Background(), "ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQRExpiredDerived(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, 30*time.Second)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	sess, _ := svc.Create(context.Background(), "c1", "teach1", CreateParams{Radius: 50})

	info, err := svc.QR(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if info.Expired {
		t.Fatal("fresh token reported expired")
	}

	// The boundary instant itself is still fresh; one tick past is not.
	svc.now = func() time.Time { return sess.QR.ExpiresAt }
	if info, _ = svc.QR(context.Background(), sess.ID); info.Expired {
		t.Fatal("token at exactly expiresAt must not be expired")
	}
	svc.now = func() time.Time { return sess.QR.ExpiresAt.Add(time.Millisecond) }
	if info, _ = svc.QR(context.Background(), sess.ID); !info.Expired {
		t.Fatal("token past expiresAt must be expired")
	}
}

type captureQueue struct {
	msgs []queue.Message
}

func (q *captureQueue) Publish(_ context.Context, msg queue.Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *captureQueue) Consume(context.Context) (<-chan queue.Message, error) { return nil, nil }

func TestCreateAuditsWithClientIP(t *testing.T) {
	auditQ := &captureQueue{}
	svc := NewService(newMemStore(), audit.NewRecorder(auditQ, time.Second), 30*time.Second)

	sess, err := svc.Create(context.Background(), "c1", "teach1", CreateParams{
		Radius: 50, IP: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(auditQ.msgs) != 1 {
		t.Fatalf("expected one audit event, got %d", len(auditQ.msgs))
	}
	var evt audit.Event
	if err := json.Unmarshal(auditQ.msgs[0].Body, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Action != audit.ActionSessionCreated || evt.EntityID != sess.ID {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.IPAddress != "203.0.113.7" {
		t.Fatalf("expected client IP on the trail, got %q", evt.IPAddress)
	}
}

func TestNewTokenUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := NewToken()
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if seen[token] {
			t.Fatal("duplicate token")
		}
		seen[token] = true
	}
}
