package store

import (
	"context"
	"database/sql"
)

// Schema statements are idempotent so startup can apply them blindly.
// The UNIQUE (session_id, student_id) constraint on attendance is load
// bearing: it is the single source of truth for "already marked" under
// concurrent scans.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL,
		email       TEXT NOT NULL UNIQUE,
		role        TEXT NOT NULL CHECK (role IN ('student', 'teacher', 'admin')),
		roll_number TEXT,
		device_id   TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id          UUID PRIMARY KEY,
		course_code TEXT NOT NULL UNIQUE,
		course_name TEXT NOT NULL,
		teacher_id  UUID NOT NULL REFERENCES users (id),
		semester    TEXT NOT NULL,
		year        INT NOT NULL,
		department  TEXT NOT NULL,
		latitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
		radius      DOUBLE PRECISION NOT NULL DEFAULT 50,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS course_students (
		course_id  UUID NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
		student_id UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		PRIMARY KEY (course_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id               UUID PRIMARY KEY,
		course_id        UUID NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
		teacher_id       UUID NOT NULL REFERENCES users (id),
		duration_minutes INT NOT NULL DEFAULT 60,
		latitude         DOUBLE PRECISION NOT NULL,
		longitude        DOUBLE PRECISION NOT NULL,
		radius           DOUBLE PRECISION NOT NULL,
		status           TEXT NOT NULL DEFAULT 'active',
		qr_token         TEXT NOT NULL,
		qr_generated_at  TIMESTAMPTZ NOT NULL,
		qr_expires_at    TIMESTAMPTZ NOT NULL,
		qr_is_valid      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id               UUID PRIMARY KEY,
		session_id       UUID NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
		course_id        UUID NOT NULL REFERENCES courses (id) ON DELETE CASCADE,
		student_id       UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		status           TEXT NOT NULL DEFAULT 'present',
		device_id        TEXT NOT NULL,
		is_valid_device  BOOLEAN NOT NULL,
		student_latitude DOUBLE PRECISION NOT NULL,
		student_longitude DOUBLE PRECISION NOT NULL,
		distance         DOUBLE PRECISION NOT NULL,
		is_within_radius BOOLEAN NOT NULL,
		qr_token         TEXT NOT NULL,
		qr_token_valid   BOOLEAN NOT NULL,
		marked_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (session_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          UUID PRIMARY KEY,
		user_id     UUID NOT NULL,
		action      TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		details     JSONB,
		ip_address  TEXT NOT NULL DEFAULT '0.0.0.0',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance (session_id, marked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance (student_id, marked_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_course ON sessions (course_id, created_at DESC)`,
}

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
