package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Lead is the CRM aggregate this pipeline creates or enriches. The wider
// system owns its lifecycle; the merge engine only fills empty fields.
type Lead struct {
	ID            uuid.UUID
	Email         string
	FirstName     string
	LastName      string
	AccountName   string
	WorkPhone     string
	Title         string
	Industry      string
	EmployeeCount string
	Status        string
	LeadSource    string
	Owner         string
	NurtureBucket string
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// LeadFields is the fixed merge field map. Empty values never overwrite;
// the fill-empty rule is enforced in SQL so it holds under concurrency.
type LeadFields struct {
	FirstName     string
	LastName      string
	AccountName   string
	WorkPhone     string
	Title         string
	Industry      string
	EmployeeCount string
}

// GetLeadByEmail looks up a non-deleted lead by exact (case-insensitive)
// email match.
func (s *Store) GetLeadByEmail(ctx context.Context, email string) (*Lead, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, account_name, work_phone, title,
		       industry, employee_count, status, lead_source, owner, nurture_bucket,
		       description, created_at, updated_at
		FROM leads
		WHERE lower(email) = lower($1) AND deleted_at IS NULL`, email)

	var l Lead
	err := row.Scan(&l.ID, &l.Email, &l.FirstName, &l.LastName, &l.AccountName,
		&l.WorkPhone, &l.Title, &l.Industry, &l.EmployeeCount, &l.Status,
		&l.LeadSource, &l.Owner, &l.NurtureBucket, &l.Description,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead by email: %w", err)
	}
	return &l, nil
}

// InsertLead creates a new lead. A unique-index collision on email maps to
// ErrDuplicateEmail so the caller can retry as an update.
func (s *Store) InsertLead(ctx context.Context, l *Lead) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO leads (id, email, first_name, last_name, account_name, work_phone,
		                   title, industry, employee_count, status, lead_source, owner,
		                   nurture_bucket, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())`,
		l.ID, l.Email, l.FirstName, l.LastName, l.AccountName, l.WorkPhone,
		l.Title, l.Industry, l.EmployeeCount, l.Status, l.LeadSource, l.Owner,
		l.NurtureBucket, l.Description,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// FillLeadFields updates each field only when the stored value is empty.
func (s *Store) FillLeadFields(ctx context.Context, id uuid.UUID, f LeadFields) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE leads SET
			first_name     = COALESCE(NULLIF(first_name, ''), $2),
			last_name      = COALESCE(NULLIF(last_name, ''), $3),
			account_name   = COALESCE(NULLIF(account_name, ''), $4),
			work_phone     = COALESCE(NULLIF(work_phone, ''), $5),
			title          = COALESCE(NULLIF(title, ''), $6),
			industry       = COALESCE(NULLIF(industry, ''), $7),
			employee_count = COALESCE(NULLIF(employee_count, ''), $8),
			updated_at     = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		id, f.FirstName, f.LastName, f.AccountName, f.WorkPhone, f.Title, f.Industry, f.EmployeeCount)
	if err != nil {
		return fmt.Errorf("fill lead fields: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddLeadAudit appends an audit note to a lead's trail.
func (s *Store) AddLeadAudit(ctx context.Context, leadID uuid.UUID, actor, note string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO lead_audit (id, lead_id, actor, note, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.New(), leadID, actor, note)
	if err != nil {
		return fmt.Errorf("add lead audit: %w", err)
	}
	return nil
}
