package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Repository persists audit events in Postgres. Only the worker writes
// through it; the API side never touches audit storage directly.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes one audit event.
func (r *Repository) Insert(ctx context.Context, evt Event) error {
	details, err := json.Marshal(evt.Details)
	if err != nil {
		return err
	}
	if evt.IPAddress == "" {
		evt.IPAddress = "0.0.0.0"
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, details, ip_address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, uuid.NewString(), evt.UserID, evt.Action, evt.EntityType, evt.EntityID, details, evt.IPAddress, evt.OccurredAt)
	return err
}

// RecentByUser returns the latest events for a user, newest first.
func (r *Repository) RecentByUser(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, action, entity_type, entity_id, details, ip_address, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var details []byte
		if err := rows.Scan(&evt.UserID, &evt.Action, &evt.EntityType, &evt.EntityID, &details, &evt.IPAddress, &evt.OccurredAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
