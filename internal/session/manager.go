// Package session owns conversation identity, message history, and status
// transitions. All mutation of conversations goes through the Manager.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nexacrm/leadflow/internal/store"
)

// Turn is one history entry shaped for prompt construction.
type Turn struct {
	Role    string
	Content string
}

// ConversationStore is the persistence surface the manager needs.
// *store.Store satisfies it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, visitorID *string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, meta *store.MessageMetadata) (*store.Message, error)
	ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
	MarkHandoff(ctx context.Context, id uuid.UUID) error
	MarkEnded(ctx context.Context, id uuid.UUID) error
}

type Manager struct {
	store  ConversationStore
	logger *slog.Logger
}

func NewManager(s ConversationStore, logger *slog.Logger) *Manager {
	return &Manager{store: s, logger: logger}
}

// StartOrResume resumes the identified conversation, or creates a fresh
// active one when no id is supplied or the id is unknown.
func (m *Manager) StartOrResume(ctx context.Context, conversationID, visitorID string) (*store.Conversation, error) {
	if conversationID != "" {
		id, err := uuid.Parse(conversationID)
		if err == nil {
			conv, err := m.store.GetConversation(ctx, id)
			if err == nil && conv.Status != store.StatusEnded {
				return conv, nil
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("resume conversation: %w", err)
			}
			// Ended conversations take no more messages; fall through.
		}
		m.logger.Info("conversation unknown or ended, starting fresh", "conversation_id", conversationID)
	}

	var vid *string
	if visitorID != "" {
		vid = &visitorID
	}
	conv, err := m.store.CreateConversation(ctx, vid)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Append persists a message and bumps the counter atomically.
func (m *Manager) Append(ctx context.Context, conversationID uuid.UUID, role, content string, meta *store.MessageMetadata) (*store.Message, error) {
	return m.store.AppendMessage(ctx, conversationID, role, content, meta)
}

// History returns the most recent limit turns, oldest first.
func (m *Manager) History(ctx context.Context, conversationID uuid.UUID, limit int) ([]Turn, error) {
	msgs, err := m.store.ListRecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns, nil
}

// ApplyHandoff idempotently moves the conversation to handoff.
func (m *Manager) ApplyHandoff(ctx context.Context, conversationID uuid.UUID) error {
	return m.store.MarkHandoff(ctx, conversationID)
}

// End closes the conversation. Ended is terminal.
func (m *Manager) End(ctx context.Context, conversationID uuid.UUID) error {
	return m.store.MarkEnded(ctx, conversationID)
}
