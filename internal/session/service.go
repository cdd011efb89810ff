package session

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"qrattendance/internal/audit"
)

var qrRotations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "session_qr_rotations_total",
	Help: "QR token rotations, counting both creation and refresh.",
})

// Store is the persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, s Session) (Session, error)
	ByID(ctx context.Context, id string) (Session, error)
	UpdateQR(ctx context.Context, id string, qr QRCode) error
	InvalidateQR(ctx context.Context, id string) error
	ByCourse(ctx context.Context, courseID string) ([]CourseSummary, error)
}

// Service owns the session/QR lifecycle. The server performs no
// timer-driven refresh: the teacher client polls the refresh endpoint
// on its own cadence to keep the displayed code alive.
type Service struct {
	store Store
	audit *audit.Recorder
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates a service. ttl is how long each issued token
// stays scannable.
func NewService(store Store, recorder *audit.Recorder, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{store: store, audit: recorder, ttl: ttl, now: time.Now}
}

// CreateParams describes a new session. IP is the teacher client's
// address, recorded on the audit trail.
type CreateParams struct {
	Latitude  float64
	Longitude float64
	Radius    float64
	Duration  int
	IP        string
}

// Create starts a session for a course with a fresh QR token.
func (s *Service) Create(ctx context.Context, courseID, teacherID string, p CreateParams) (Session, error) {
	token, err := NewToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	sess := Session{
		CourseID:  courseID,
		TeacherID: teacherID,
		Duration:  p.Duration,
		Location:  Location{Latitude: p.Latitude, Longitude: p.Longitude, Radius: p.Radius},
		Status:    StatusActive,
		QR: QRCode{
			SessionToken: token,
			GeneratedAt:  now,
			ExpiresAt:    now.Add(s.ttl),
			IsValid:      true,
		},
	}
	created, err := s.store.Insert(ctx, sess)
	if err != nil {
		return Session{}, err
	}
	qrRotations.Inc()
	s.audit.Record(ctx, audit.Event{
		UserID:     teacherID,
		Action:     audit.ActionSessionCreated,
		EntityType: "session",
		EntityID:   created.ID,
		Details:    map[string]any{"course_id": courseID},
		IPAddress:  p.IP,
	})
	return created, nil
}

// Refresh rotates the token unconditionally, regardless of the old
// token's expiry or validity. The old token stops matching the moment
// the update lands.
func (s *Service) Refresh(ctx context.Context, sessionID string) (QRCode, error) {
	token, err := NewToken()
	if err != nil {
		return QRCode{}, err
	}
	now := s.now().UTC()
	qr := QRCode{
		SessionToken: token,
		GeneratedAt:  now,
		ExpiresAt:    now.Add(s.ttl),
		IsValid:      true,
	}
	if err := s.store.UpdateQR(ctx, sessionID, qr); err != nil {
		return QRCode{}, err
	}
	qrRotations.Inc()
	return qr, nil
}

// Invalidate marks the current token invalid.
func (s *Service) Invalidate(ctx context.Context, sessionID string) error {
	return s.store.InvalidateQR(ctx, sessionID)
}

// QRInfo is what the teacher dashboard polls to render the code.
type QRInfo struct {
	QRToken   string    `json:"qr_token"`
	ExpiresAt time.Time `json:"expires_at"`
	IsValid   bool      `json:"is_valid"`
	Expired   bool      `json:"expired"`
}

// QR returns the current token state for a session.
func (s *Service) QR(ctx context.Context, sessionID string) (QRInfo, error) {
	sess, err := s.store.ByID(ctx, sessionID)
	if err != nil {
		return QRInfo{}, err
	}
	return QRInfo{
		QRToken:   sess.QR.SessionToken,
		ExpiresAt: sess.QR.ExpiresAt,
		IsValid:   sess.QR.IsValid,
		Expired:   sess.QR.Expired(s.now()),
	}, nil
}

// ByCourse lists a course's sessions with attendee counts.
func (s *Service) ByCourse(ctx context.Context, courseID string) ([]CourseSummary, error) {
	return s.store.ByCourse(ctx, courseID)
}
