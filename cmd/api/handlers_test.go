package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/audit"
	"qrattendance/internal/auth"
	"qrattendance/internal/queue"
	"qrattendance/internal/session"
)

func TestRejectStatusMapping(t *testing.T) {
	cases := map[string]int{
		attendance.CodeSessionNotFound: http.StatusNotFound,
		attendance.CodeCourseNotFound:  http.StatusNotFound,
		attendance.CodeStudentNotFound: http.StatusNotFound,
		attendance.CodeNotEnrolled:     http.StatusForbidden,
		attendance.CodeDeviceMismatch:  http.StatusForbidden,
		attendance.CodeOutsideRadius:   http.StatusForbidden,
		attendance.CodeSessionInactive: http.StatusBadRequest,
		attendance.CodeInvalidToken:    http.StatusBadRequest,
		attendance.CodeTokenExpired:    http.StatusBadRequest,
		attendance.CodeAlreadyMarked:   http.StatusBadRequest,
	}
	for code, want := range cases {
		if got := rejectStatus(code); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}

// Fakes

type fakeUserStore struct {
	bound map[string]string
}

func (f *fakeUserStore) BindDevice(_ context.Context, userID, deviceID string) error {
	if f.bound == nil {
		f.bound = map[string]string{}
	}
	f.bound[userID] = deviceID
	return nil
}

func (f *fakeUserStore) ResetDevice(_ context.Context, userID string) error {
	delete(f.bound, userID)
	return nil
}

type fakeAuditReader struct {
	events []audit.Event
}

func (f *fakeAuditReader) RecentByUser(context.Context, string, int) ([]audit.Event, error) {
	return f.events, nil
}

type fakeSessionStore struct {
	sessions map[string]session.Session
}

func (f *fakeSessionStore) Insert(_ context.Context, s session.Session) (session.Session, error) {
	if s.ID == "" {
		s.ID = "sess-1"
	}
	if f.sessions == nil {
		f.sessions = map[string]session.Session{}
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessionStore) ByID(_ context.Context, id string) (session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) UpdateQR(_ context.Context, id string, qr session.QRCode) error {
	s, ok := f.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	s.QR = qr
	f.sessions[id] = s
	return nil
}

func (f *fakeSessionStore) InvalidateQR(_ context.Context, id string) error {
	s, ok := f.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	s.QR.IsValid = false
	f.sessions[id] = s
	return nil
}

func (f *fakeSessionStore) ByCourse(context.Context, string) ([]session.CourseSummary, error) {
	return nil, nil
}

type captureQueue struct {
	msgs []queue.Message
}

func (q *captureQueue) Publish(_ context.Context, msg queue.Message) error {
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *captureQueue) Consume(context.Context) (<-chan queue.Message, error) { return nil, nil }

func testRouter(h *handlers, claims auth.Claims) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("claims", claims) })
	r.POST("/v1/sessions", h.createSession)
	r.POST("/v1/devices/bind", h.bindDevice)
	r.GET("/v1/students/:id/audit", h.auditTrail)
	return r
}

func TestBindDeviceEmitsAuditEvent(t *testing.T) {
	auditQ := &captureQueue{}
	h := &handlers{
		users:    &fakeUserStore{},
		recorder: audit.NewRecorder(auditQ, time.Second),
	}
	r := testRouter(h, auth.Claims{UserID: "stu1", Role: "student"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/devices/bind",
		strings.NewReader(`{"device_id":"dev1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(auditQ.msgs) != 1 {
		t.Fatalf("expected one audit event, got %d", len(auditQ.msgs))
	}
	var evt audit.Event
	if err := json.Unmarshal(auditQ.msgs[0].Body, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Action != audit.ActionDeviceRegistered {
		t.Fatalf("expected device_registered, got %s", evt.Action)
	}
	if evt.UserID != "stu1" || evt.EntityID != "dev1" {
		t.Fatalf("event not tied to the binding: %+v", evt)
	}
}

func TestCreateSessionAcceptsZeroCoordinates(t *testing.T) {
	store := &fakeSessionStore{}
	h := &handlers{sessions: session.NewService(store, nil, 30*time.Second)}
	r := testRouter(h, auth.Claims{UserID: "teach1", Role: "teacher"})

	// A classroom on the equator/prime meridian is legitimate input.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions",
		strings.NewReader(`{"course_id":"c1","latitude":0,"longitude":0,"radius":50}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for zero coordinates, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
		QRToken   string `json:"qr_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID == "" || resp.QRToken == "" {
		t.Fatalf("incomplete response: %s", w.Body.String())
	}
}

func TestAuditTrailRoute(t *testing.T) {
	h := &handlers{auditLogs: &fakeAuditReader{events: []audit.Event{
		{UserID: "stu1", Action: audit.ActionUnauthorizedAttempt, EntityType: "course", EntityID: "c1"},
	}}}
	r := testRouter(h, auth.Claims{UserID: "teach1", Role: "teacher"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/students/stu1/audit", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Action != audit.ActionUnauthorizedAttempt {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
}
