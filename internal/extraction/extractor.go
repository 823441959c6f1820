// Package extraction turns conversation text into a candidate lead profile.
// Two tiers: AI-structured via the gateway, with a pattern-based fallback
// whenever the gateway fails, times out, or returns unparsable text.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nexacrm/leadflow/internal/session"
	"github.com/nexacrm/leadflow/internal/store"
)

// Gateway is the structured-extraction surface of the LLM backend.
type Gateway interface {
	StructuredExtract(ctx context.Context, prompt string) (string, error)
}

type Extractor struct {
	gw         Gateway
	logger     *slog.Logger
	leadSource string
}

// New builds an extractor. channel names the chat surface and feeds
// lead_source ("Web" -> "Web Chat").
func New(gw Gateway, channel string, logger *slog.Logger) *Extractor {
	return &Extractor{
		gw:         gw,
		logger:     logger,
		leadSource: fmt.Sprintf("%s Chat", channel),
	}
}

// Extract produces a candidate profile, or nil when neither tier found an
// email or phone. Gateway failures are recovered here by the fallback tier
// and never propagate.
func (e *Extractor) Extract(ctx context.Context, conversationID uuid.UUID, history []session.Turn, visitor *store.VisitorContext) *Info {
	text := transcript(history)

	info := e.aiExtract(ctx, text)
	if info == nil {
		info = patternExtract(text)
		info.Tier = TierPattern
	} else {
		info.Tier = TierAI
	}

	// Visitor context only backfills fields the extractor left empty.
	if visitor != nil {
		first, last := splitName(visitor.LeadName)
		if info.FirstName == "" {
			info.FirstName = first
		}
		if info.LastName == "" {
			info.LastName = last
		}
		if info.Company == "" {
			info.Company = visitor.Company
		}
	}

	info.LeadSource = e.leadSource
	info.ConversationID = conversationID
	info.Confidence = computeConfidence(info)

	if !info.Valid() {
		e.logger.Info("extraction discarded, no email or phone",
			"conversation_id", conversationID,
			"tier", info.Tier,
		)
		return nil
	}

	e.logger.Info("extraction complete",
		"conversation_id", conversationID,
		"tier", info.Tier,
		"confidence", info.Confidence,
	)
	return info
}

// aiExtract runs the primary tier. Any failure returns nil so the caller
// falls back to pattern matching.
func (e *Extractor) aiExtract(ctx context.Context, text string) *Info {
	if e.gw == nil {
		return nil
	}

	raw, err := e.gw.StructuredExtract(ctx, fmt.Sprintf(extractionPrompt, text))
	if err != nil {
		e.logger.Warn("ai extraction failed, falling back to patterns", "error", err)
		return nil
	}

	var info Info
	if err := json.Unmarshal([]byte(stripFences(raw)), &info); err != nil {
		e.logger.Warn("ai extraction unparsable, falling back to patterns", "error", err)
		return nil
	}
	return &info
}

func transcript(history []session.Turn) string {
	var b strings.Builder
	for _, t := range history {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// stripFences unwraps a markdown code fence if the model added one.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch {
	case len(parts) == 0:
		return "", ""
	case len(parts) == 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
