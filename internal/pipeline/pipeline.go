// Package pipeline orchestrates one inbound chat message end to end:
// record it, get a reply, then run the lead side channel (score, extract,
// resolve, notify). The side channel degrades independently; its failures
// never block the conversational reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexacrm/leadflow/internal/extraction"
	"github.com/nexacrm/leadflow/internal/gateway"
	"github.com/nexacrm/leadflow/internal/observability/metrics"
	"github.com/nexacrm/leadflow/internal/scoring"
	"github.com/nexacrm/leadflow/internal/session"
	"github.com/nexacrm/leadflow/internal/store"
)

// Event types the pipeline emits.
const (
	EventLeadCreated         = "lead_created"
	EventLeadUpdated         = "lead_updated"
	EventConversationHandoff = "conversation_handoff"
)

// ErrEmptyMessage rejects blank chat input before any pipeline work.
var ErrEmptyMessage = errors.New("pipeline: empty message")

// ErrGateway wraps reply-path gateway failures so the API can map them to a
// distinct status.
var ErrGateway = errors.New("pipeline: gateway failure")

// Sessions is the conversation surface. *session.Manager satisfies it.
type Sessions interface {
	StartOrResume(ctx context.Context, conversationID, visitorID string) (*store.Conversation, error)
	Append(ctx context.Context, conversationID uuid.UUID, role, content string, meta *store.MessageMetadata) (*store.Message, error)
	History(ctx context.Context, conversationID uuid.UUID, limit int) ([]session.Turn, error)
	ApplyHandoff(ctx context.Context, conversationID uuid.UUID) error
}

// Gateway is the completion surface. *gateway.Client satisfies it.
type Gateway interface {
	ChatCompletion(ctx context.Context, messages []gateway.Message, opts gateway.ChatOptions) (*gateway.ChatResult, error)
}

// Visitors resolves visitor context. *store.Store satisfies it.
type Visitors interface {
	GetVisitorContext(ctx context.Context, visitorID string) (*store.VisitorContext, error)
}

// Extractor produces a candidate profile or nil.
type Extractor interface {
	Extract(ctx context.Context, conversationID uuid.UUID, history []session.Turn, visitor *store.VisitorContext) *extraction.Info
}

// Resolver merges a profile into the CRM.
type Resolver interface {
	Resolve(ctx context.Context, info *extraction.Info, visitorID string) (uuid.UUID, bool, error)
}

// Notifier enqueues outbound events.
type Notifier interface {
	Enqueue(ctx context.Context, eventType string, payload any) error
}

// Options carries the tunables main wires from config.
type Options struct {
	ScoreThreshold int
	HistoryLimit   int
	GatewayTimeout time.Duration
	Channel        string
	Weights        scoring.Weights
}

type Pipeline struct {
	sessions  Sessions
	gw        Gateway
	visitors  Visitors
	extractor Extractor
	resolver  Resolver
	notifier  Notifier
	metrics   *metrics.PipelineMetrics
	logger    *slog.Logger
	opts      Options
}

func New(sessions Sessions, gw Gateway, visitors Visitors, ext Extractor, res Resolver, notifier Notifier, m *metrics.PipelineMetrics, opts Options, logger *slog.Logger) *Pipeline {
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = 60
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.Weights == (scoring.Weights{}) {
		opts.Weights = scoring.DefaultWeights()
	}
	return &Pipeline{
		sessions:  sessions,
		gw:        gw,
		visitors:  visitors,
		extractor: ext,
		resolver:  res,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// ChatRequest is the chat endpoint input.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	VisitorID      string `json:"visitor_id,omitempty"`
}

// ChatResponse is the synchronous reply.
type ChatResponse struct {
	ConversationID   string         `json:"conversation_id"`
	Message          string         `json:"message"`
	HandoffRequired  bool           `json:"handoff_required"`
	Confidence       *float64       `json:"confidence,omitempty"`
	Intent           string         `json:"intent,omitempty"`
	Sentiment        string         `json:"sentiment,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// HandleMessage runs the full per-message flow.
func (p *Pipeline) HandleMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	content := strings.TrimSpace(req.Message)
	if content == "" {
		p.metrics.ObserveMessage("rejected")
		return nil, ErrEmptyMessage
	}

	conv, err := p.sessions.StartOrResume(ctx, req.ConversationID, req.VisitorID)
	if err != nil {
		p.metrics.ObserveMessage("error")
		return nil, fmt.Errorf("start conversation: %w", err)
	}

	if _, err := p.sessions.Append(ctx, conv.ID, store.RoleVisitor, content, nil); err != nil {
		p.metrics.ObserveMessage("error")
		return nil, fmt.Errorf("append visitor message: %w", err)
	}

	history, err := p.sessions.History(ctx, conv.ID, p.opts.HistoryLimit)
	if err != nil {
		p.metrics.ObserveMessage("error")
		return nil, fmt.Errorf("load history: %w", err)
	}

	result, err := p.complete(ctx, history)
	if err != nil {
		p.metrics.ObserveMessage("gateway_error")
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	meta := &store.MessageMetadata{
		Confidence:      &result.Confidence,
		Intent:          result.Intent,
		Sentiment:       result.Sentiment,
		HandoffRequired: result.HandoffRequired,
		KBArticlesUsed:  result.KBArticlesUsed,
	}
	if _, err := p.sessions.Append(ctx, conv.ID, store.RoleAssistant, result.Response, meta); err != nil {
		// The reply exists; losing its persistence is logged but does not
		// cost the caller their response.
		p.logger.Error("append assistant message failed", "conversation_id", conv.ID, "error", err)
	}
	history = append(history, session.Turn{Role: store.RoleAssistant, Content: result.Response})

	if result.HandoffRequired {
		p.handleHandoff(ctx, conv)
	}

	visitorID := req.VisitorID
	if visitorID == "" && conv.VisitorID != nil {
		visitorID = *conv.VisitorID
	}
	p.captureLead(ctx, conv, history, visitorID, result)

	p.metrics.ObserveMessage("ok")
	resp := &ChatResponse{
		ConversationID:   conv.ID.String(),
		Message:          result.Response,
		HandoffRequired:  result.HandoffRequired,
		Confidence:       &result.Confidence,
		Intent:           result.Intent,
		Sentiment:        result.Sentiment,
		SuggestedActions: result.SuggestedActions,
	}
	if len(result.KBArticlesUsed) > 0 {
		resp.Metadata = map[string]any{"kb_articles_used": result.KBArticlesUsed}
	}
	return resp, nil
}

// complete calls the gateway under an explicit deadline. A timeout is just
// another gateway failure.
func (p *Pipeline) complete(ctx context.Context, history []session.Turn) (*gateway.ChatResult, error) {
	msgs := make([]gateway.Message, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Role == store.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, gateway.Message{Role: role, Content: t.Content})
	}

	gctx, cancel := context.WithTimeout(ctx, p.opts.GatewayTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.gw.ChatCompletion(gctx, msgs, gateway.ChatOptions{Channel: p.opts.Channel})
	p.metrics.ObserveGatewayLatency(time.Since(start).Seconds())
	return result, err
}

func (p *Pipeline) handleHandoff(ctx context.Context, conv *store.Conversation) {
	if err := p.sessions.ApplyHandoff(ctx, conv.ID); err != nil {
		p.logger.Error("handoff transition failed", "conversation_id", conv.ID, "error", err)
		return
	}
	p.enqueue(ctx, EventConversationHandoff, map[string]any{
		"conversation_id": conv.ID.String(),
		"visitor_id":      conv.VisitorID,
	})
}

// captureLead is the side channel: score, extract, resolve, notify. Every
// failure is logged and swallowed.
func (p *Pipeline) captureLead(ctx context.Context, conv *store.Conversation, history []session.Turn, visitorID string, result *gateway.ChatResult) {
	score := scoring.Score(history, scoring.Signals{Intent: result.Intent}, p.opts.Weights)
	if score < p.opts.ScoreThreshold {
		return
	}
	p.logger.Info("conversation qualified for extraction",
		"conversation_id", conv.ID,
		"score", score,
		"threshold", p.opts.ScoreThreshold,
	)

	var visitor *store.VisitorContext
	if visitorID != "" {
		vc, err := p.visitors.GetVisitorContext(ctx, visitorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("visitor context lookup failed", "visitor_id", visitorID, "error", err)
		} else {
			visitor = vc
		}
	}

	info := p.extractor.Extract(ctx, conv.ID, history, visitor)
	if info == nil {
		// The discarding tier is not reported back; don't guess one.
		p.metrics.ObserveExtraction("none", "discarded")
		return
	}
	p.metrics.ObserveExtraction(info.Tier, "valid")

	leadID, created, err := p.resolver.Resolve(ctx, info, visitorID)
	if err != nil {
		p.logger.Error("lead resolution failed", "conversation_id", conv.ID, "error", err)
		return
	}
	p.metrics.ObserveLead(created)

	eventType := EventLeadUpdated
	if created {
		eventType = EventLeadCreated
	}
	p.enqueue(ctx, eventType, map[string]any{
		"lead_id":         leadID.String(),
		"conversation_id": conv.ID.String(),
		"email":           info.Email,
		"phone":           info.Phone,
		"score":           score,
		"confidence":      info.Confidence,
		"lead_source":     info.LeadSource,
	})
}

func (p *Pipeline) enqueue(ctx context.Context, eventType string, payload map[string]any) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Enqueue(ctx, eventType, payload); err != nil {
		p.logger.Error("event enqueue failed", "event_type", eventType, "error", err)
		return
	}
	p.metrics.ObserveEvent(eventType, "enqueued")
}
