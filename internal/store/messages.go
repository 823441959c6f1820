package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleVisitor   = "visitor"
	RoleAssistant = "assistant"
)

// MessageMetadata carries per-message classification signals from the
// gateway. All fields are optional.
type MessageMetadata struct {
	Confidence      *float64 `json:"confidence,omitempty"`
	Intent          string   `json:"intent,omitempty"`
	Sentiment       string   `json:"sentiment,omitempty"`
	HandoffRequired bool     `json:"handoff_required,omitempty"`
	KBArticlesUsed  []string `json:"kb_articles_used,omitempty"`
}

type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Metadata       *MessageMetadata
	CreatedAt      time.Time
}

// AppendMessage persists a message and bumps the conversation's counter in
// one transaction. The counter UPDATE runs first and takes the row lock, so
// concurrent appends for the same conversation serialize; the increment is
// done in SQL, never read-modify-write.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role, content string, meta *MessageMetadata) (*Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE conversations SET message_count = message_count + 1, updated_at = now()
		WHERE id = $1 AND status IN ('active', 'handoff')`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("bump message count: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Unknown id, or the conversation is ended and takes no more writes.
		if err := s.rejectTransition(ctx, conversationID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var metaJSON []byte
	if meta != nil {
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	msg := &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       meta,
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`,
		msg.ID, conversationID, role, content, metaJSON,
	)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// ListRecentMessages returns up to limit messages for a conversation,
// oldest first. The window is anchored at the most recent message so prompt
// construction stays bounded.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(metaJSON) > 0 {
			var meta MessageMetadata
			if err := json.Unmarshal(metaJSON, &meta); err == nil {
				m.Metadata = &meta
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
