package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Conversation statuses. Transitions are one-way: active -> handoff,
// {active, handoff} -> ended. Ended is terminal.
const (
	StatusActive  = "active"
	StatusHandoff = "handoff"
	StatusEnded   = "ended"
)

// ErrConversationEnded is returned when a mutation targets an ended
// conversation.
var ErrConversationEnded = errors.New("store: conversation ended")

type Conversation struct {
	ID           uuid.UUID
	VisitorID    *string
	LeadID       *uuid.UUID
	Status       string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Store) CreateConversation(ctx context.Context, visitorID *string) (*Conversation, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, visitor_id, status, message_count, created_at, updated_at)
		VALUES ($1, $2, 'active', 0, now(), now())
		RETURNING id, visitor_id, lead_id, status, message_count, created_at, updated_at`,
		id, visitorID,
	)
	return scanConversation(row)
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, visitor_id, lead_id, status, message_count, created_at, updated_at
		FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// MarkHandoff transitions a conversation to handoff. Repeated calls are
// no-ops; an ended conversation cannot be reopened.
func (s *Store) MarkHandoff(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE conversations SET status = 'handoff', updated_at = now()
		WHERE id = $1 AND status IN ('active', 'handoff')`, id)
	if err != nil {
		return fmt.Errorf("mark handoff: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return s.rejectTransition(ctx, id)
	}
	return nil
}

// MarkEnded closes a conversation. Repeated calls are no-ops.
func (s *Store) MarkEnded(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE conversations SET status = 'ended', updated_at = now()
		WHERE id = $1 AND status IN ('active', 'handoff', 'ended')`, id)
	if err != nil {
		return fmt.Errorf("mark ended: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkConversationLead sets the resolved lead on a conversation. The guard
// makes repeated links with the same lead a no-op, so retries are safe.
func (s *Store) LinkConversationLead(ctx context.Context, id, leadID uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE conversations SET lead_id = $2, updated_at = now()
		WHERE id = $1 AND (lead_id IS NULL OR lead_id = $2)`, id, leadID)
	if err != nil {
		return fmt.Errorf("link conversation lead: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Either the conversation is unknown or it is already linked to a
		// different lead; the first link wins.
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// rejectTransition distinguishes "unknown id" from "terminal status" after a
// guarded UPDATE matched no rows.
func (s *Store) rejectTransition(ctx context.Context, id uuid.UUID) error {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == StatusEnded {
		return ErrConversationEnded
	}
	return nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.VisitorID, &c.LeadID, &c.Status, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
