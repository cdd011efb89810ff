// Package session manages class sessions and their rotating QR tokens.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Statuses. Expiry never flips the stored status; a session past its
// QR expiry is closed to new scans by the token-freshness check alone.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// ErrNotFound reports a missing session.
var ErrNotFound = errors.New("session not found")

// QRCode is the rotating token embedded in a session. The displayed QR
// encodes {sessionId, qrToken}; scanning clients send both back.
type QRCode struct {
	SessionToken string    `json:"session_token"`
	GeneratedAt  time.Time `json:"generated_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsValid      bool      `json:"is_valid"`
}

// Expired reports whether the token is past its expiry. The boundary
// instant itself still counts as fresh.
func (q QRCode) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Location is the geofence for one session. It overrides the course's
// own anchor so a session can be held in a different room.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"`
}

// Session ties a course to a geofence and a rotating QR token.
type Session struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	TeacherID string    `json:"teacher_id"`
	Duration  int       `json:"duration_minutes"`
	Location  Location  `json:"location"`
	Status    string    `json:"status"`
	QR        QRCode    `json:"qr"`
	CreatedAt time.Time `json:"created_at"`
}

// NewToken returns a 32-byte cryptographically random hex token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
