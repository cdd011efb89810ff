package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Roles.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// ErrNotFound reports a missing user.
var ErrNotFound = errors.New("user not found")

// ErrDeviceBound reports an attempt to rebind an already bound device.
var ErrDeviceBound = errors.New("device already bound")

// User is an account. Students carry the device binding the attendance
// pipeline checks scans against, and a roll number for class lists.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	RollNumber string    `json:"roll_number,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository reads and updates users in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, email, role, COALESCE(roll_number, ''), COALESCE(device_id, ''), created_at`

// ByID returns a user or ErrNotFound.
func (r *Repository) ByID(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// ByEmail returns a user by case-insensitive email or ErrNotFound.
func (r *Repository) ByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// BindDevice sets the student's device on first login. Rebinding a
// different device fails with ErrDeviceBound until a reset clears it.
func (r *Repository) BindDevice(ctx context.Context, userID, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET device_id = $2
		WHERE id = $1 AND (device_id IS NULL OR device_id = '' OR device_id = $2)
	`, userID, deviceID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := r.ByID(ctx, userID)
		if err != nil {
			return err
		}
		if existing.DeviceID != deviceID {
			return ErrDeviceBound
		}
	}
	return nil
}

// ResetDevice clears the binding so the student can register a new
// phone. Teacher/admin action.
func (r *Repository) ResetDevice(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET device_id = NULL WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.RollNumber, &u.DeviceID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}
