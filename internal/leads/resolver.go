// Package leads resolves an extracted profile to a CRM lead record:
// dedup by email, non-destructive merge, idempotent linking.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nexacrm/leadflow/internal/extraction"
	"github.com/nexacrm/leadflow/internal/store"
)

const auditActor = "leadflow"

// Store is the persistence surface the resolver needs. *store.Store
// satisfies it.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	GetLeadByEmail(ctx context.Context, email string) (*store.Lead, error)
	InsertLead(ctx context.Context, l *store.Lead) error
	FillLeadFields(ctx context.Context, id uuid.UUID, f store.LeadFields) error
	AddLeadAudit(ctx context.Context, leadID uuid.UUID, actor, note string) error
	LinkConversationLead(ctx context.Context, id, leadID uuid.UUID) error
	LinkVisitorLead(ctx context.Context, visitorID string, leadID uuid.UUID) error
}

type Resolver struct {
	store  Store
	logger *slog.Logger

	owner         string
	nurtureBucket string
}

func NewResolver(s Store, owner, nurtureBucket string, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:         s,
		logger:        logger,
		owner:         owner,
		nurtureBucket: nurtureBucket,
	}
}

// Resolve merges the profile into an existing lead or creates a new one,
// then links the conversation and visitor to it. Repeated calls with the
// same inputs settle on the same lead and are no-ops after the first.
// created reports whether a new lead row was made.
func (r *Resolver) Resolve(ctx context.Context, info *extraction.Info, visitorID string) (leadID uuid.UUID, created bool, err error) {
	if !info.Valid() {
		return uuid.Nil, false, fmt.Errorf("resolve: profile has no email or phone")
	}

	if info.Email != "" {
		existing, err := r.store.GetLeadByEmail(ctx, info.Email)
		switch {
		case err == nil:
			if err := r.merge(ctx, existing.ID, info); err != nil {
				return uuid.Nil, false, err
			}
			leadID = existing.ID
		case errors.Is(err, store.ErrNotFound):
			leadID, created, err = r.create(ctx, info)
			if err != nil {
				return uuid.Nil, false, err
			}
		default:
			return uuid.Nil, false, fmt.Errorf("lookup lead: %w", err)
		}
	} else {
		// Phone-only profiles have no email dedup key; the conversation's
		// lead link is the only stable reference, so an already-linked
		// conversation reuses its lead instead of minting another.
		leadID, created, err = r.resolveByConversation(ctx, info)
		if err != nil {
			return uuid.Nil, false, err
		}
	}

	if err := r.link(ctx, info.ConversationID, visitorID, leadID); err != nil {
		return uuid.Nil, false, err
	}

	r.logger.Info("lead resolved",
		"lead_id", leadID,
		"created", created,
		"conversation_id", info.ConversationID,
		"confidence", info.Confidence,
	)
	return leadID, created, nil
}

// resolveByConversation handles profiles without an email. A conversation
// already linked to a lead merges into it; otherwise a fresh lead is made.
func (r *Resolver) resolveByConversation(ctx context.Context, info *extraction.Info) (uuid.UUID, bool, error) {
	conv, err := r.store.GetConversation(ctx, info.ConversationID)
	switch {
	case err == nil && conv.LeadID != nil:
		if merr := r.merge(ctx, *conv.LeadID, info); merr != nil {
			return uuid.Nil, false, merr
		}
		return *conv.LeadID, false, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return uuid.Nil, false, fmt.Errorf("lookup conversation: %w", err)
	default:
		return r.create(ctx, info)
	}
}

func (r *Resolver) create(ctx context.Context, info *extraction.Info) (uuid.UUID, bool, error) {
	lead := &store.Lead{
		ID:            uuid.New(),
		Email:         info.Email,
		FirstName:     info.FirstName,
		LastName:      info.LastName,
		AccountName:   info.Company,
		WorkPhone:     info.Phone,
		Title:         info.Title,
		Industry:      info.Industry,
		EmployeeCount: info.CompanySize,
		Status:        "New",
		LeadSource:    info.LeadSource,
		Owner:         r.owner,
		NurtureBucket: r.nurtureBucket,
		Description:   synthesizeDescription(info),
	}

	err := r.store.InsertLead(ctx, lead)
	if errors.Is(err, store.ErrDuplicateEmail) {
		// Lost the race to a concurrent resolution for the same email:
		// the row exists now, so take the update path instead.
		existing, lerr := r.store.GetLeadByEmail(ctx, info.Email)
		if lerr != nil {
			return uuid.Nil, false, fmt.Errorf("lookup after duplicate insert: %w", lerr)
		}
		if merr := r.merge(ctx, existing.ID, info); merr != nil {
			return uuid.Nil, false, merr
		}
		return existing.ID, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	note := fmt.Sprintf("created from chat conversation %s (%s tier, confidence %d)",
		info.ConversationID, info.Tier, info.Confidence)
	if err := r.store.AddLeadAudit(ctx, lead.ID, auditActor, note); err != nil {
		r.logger.Warn("audit note failed", "lead_id", lead.ID, "error", err)
	}
	return lead.ID, true, nil
}

// merge fills empty fields on the existing lead; populated fields are
// never overwritten.
func (r *Resolver) merge(ctx context.Context, id uuid.UUID, info *extraction.Info) error {
	err := r.store.FillLeadFields(ctx, id, store.LeadFields{
		FirstName:     info.FirstName,
		LastName:      info.LastName,
		AccountName:   info.Company,
		WorkPhone:     info.Phone,
		Title:         info.Title,
		Industry:      info.Industry,
		EmployeeCount: info.CompanySize,
	})
	if err != nil {
		return fmt.Errorf("merge lead %s: %w", id, err)
	}

	note := fmt.Sprintf("enriched from chat conversation %s (%s tier, confidence %d)",
		info.ConversationID, info.Tier, info.Confidence)
	if err := r.store.AddLeadAudit(ctx, id, auditActor, note); err != nil {
		r.logger.Warn("audit note failed", "lead_id", id, "error", err)
	}
	return nil
}

// link attaches the lead to its conversation and, when known, its visitor.
// Both sides are idempotent so retries after partial failure are safe; no
// distributed transaction is assumed.
func (r *Resolver) link(ctx context.Context, conversationID uuid.UUID, visitorID string, leadID uuid.UUID) error {
	if err := r.store.LinkConversationLead(ctx, conversationID, leadID); err != nil {
		return fmt.Errorf("link conversation: %w", err)
	}
	if visitorID != "" {
		if err := r.store.LinkVisitorLead(ctx, visitorID, leadID); err != nil {
			return fmt.Errorf("link visitor: %w", err)
		}
	}
	return nil
}

// synthesizeDescription assembles a readable summary from the qualitative
// extraction fields.
func synthesizeDescription(info *extraction.Info) string {
	var parts []string
	if len(info.PainPoints) > 0 {
		parts = append(parts, "Pain points: "+strings.Join(info.PainPoints, "; "))
	}
	if len(info.Requirements) > 0 {
		parts = append(parts, "Requirements: "+strings.Join(info.Requirements, "; "))
	}
	if info.Budget != "" {
		parts = append(parts, "Budget: "+info.Budget)
	}
	if info.Timeline != "" {
		parts = append(parts, "Timeline: "+info.Timeline)
	}
	return strings.Join(parts, "\n")
}
