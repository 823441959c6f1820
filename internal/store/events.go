package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Pending-event statuses. A row is immutable once status leaves pending;
// the guarded UPDATEs below enforce that.
const (
	EventPending = "pending"
	EventSent    = "sent"
	EventFailed  = "failed"
)

// PendingEvent is one unit of asynchronous outbound notification work,
// consumed by the delivery worker.
type PendingEvent struct {
	ID        uuid.UUID
	EventType string
	Payload   json.RawMessage
	TargetURL string
	Status    string
	CreatedAt time.Time
}

func (s *Store) InsertPendingEvent(ctx context.Context, eventType string, payload json.RawMessage, targetURL string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx, `
		INSERT INTO pending_events (id, event_type, payload, target_url, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', now())`,
		id, eventType, []byte(payload), targetURL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert pending event: %w", err)
	}
	return id, nil
}

// FetchPendingEvents returns up to limit pending events in creation order.
func (s *Store) FetchPendingEvents(ctx context.Context, limit int32) ([]PendingEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_type, payload, target_url, status, created_at
		FROM pending_events
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending events: %w", err)
	}
	defer rows.Close()

	var events []PendingEvent
	for rows.Next() {
		var e PendingEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.EventType, &payload, &e.TargetURL, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		e.Payload = append([]byte(nil), payload...)
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkEventSent transitions pending -> sent. Returns false when the row was
// already transitioned by another worker.
func (s *Store) MarkEventSent(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transitionEvent(ctx, id, EventSent)
}

// MarkEventFailed transitions pending -> failed.
func (s *Store) MarkEventFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transitionEvent(ctx, id, EventFailed)
}

func (s *Store) transitionEvent(ctx context.Context, id uuid.UUID, status string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE pending_events SET status = $2
		WHERE id = $1 AND status = 'pending'`, id, status)
	if err != nil {
		return false, fmt.Errorf("mark event %s: %w", status, err)
	}
	return ct.RowsAffected() == 1, nil
}
