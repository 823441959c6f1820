package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// VisitorContext is a read-only projection of what analytics ingestion
// already knows about a visitor. pages_viewed is bounded and stored
// most-recent-first.
type VisitorContext struct {
	VisitorID       string
	LeadName        string
	Company         string
	PagesViewed     []string
	TotalVisits     int
	EngagementScore float64
}

func (s *Store) GetVisitorContext(ctx context.Context, visitorID string) (*VisitorContext, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, COALESCE(lead_name, ''), COALESCE(company, ''),
		       COALESCE(pages_viewed, '{}'), total_visits, engagement_score
		FROM visitors WHERE id = $1`, visitorID)

	var vc VisitorContext
	err := row.Scan(&vc.VisitorID, &vc.LeadName, &vc.Company, &vc.PagesViewed, &vc.TotalVisits, &vc.EngagementScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visitor context: %w", err)
	}
	return &vc, nil
}

// LinkVisitorLead sets the visitor's lead reference. Idempotent under
// retries; the first link wins. Unknown visitors are ignored since the
// visitor projection is owned elsewhere and may lag.
func (s *Store) LinkVisitorLead(ctx context.Context, visitorID string, leadID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE visitors SET lead_id = $2
		WHERE id = $1 AND (lead_id IS NULL OR lead_id = $2)`, visitorID, leadID)
	if err != nil {
		return fmt.Errorf("link visitor lead: %w", err)
	}
	return nil
}
