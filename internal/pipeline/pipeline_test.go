package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexacrm/leadflow/internal/extraction"
	"github.com/nexacrm/leadflow/internal/gateway"
	"github.com/nexacrm/leadflow/internal/observability/metrics"
	"github.com/nexacrm/leadflow/internal/session"
	"github.com/nexacrm/leadflow/internal/store"
)

type fakeSessions struct {
	conv     *store.Conversation
	history  []session.Turn
	appends  []string
	handoffs int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{conv: &store.Conversation{ID: uuid.New(), Status: store.StatusActive}}
}

func (f *fakeSessions) StartOrResume(_ context.Context, _, visitorID string) (*store.Conversation, error) {
	if visitorID != "" && f.conv.VisitorID == nil {
		f.conv.VisitorID = &visitorID
	}
	return f.conv, nil
}

func (f *fakeSessions) Append(_ context.Context, _ uuid.UUID, role, content string, _ *store.MessageMetadata) (*store.Message, error) {
	f.appends = append(f.appends, role)
	f.history = append(f.history, session.Turn{Role: role, Content: content})
	return &store.Message{Role: role, Content: content}, nil
}

func (f *fakeSessions) History(_ context.Context, _ uuid.UUID, limit int) ([]session.Turn, error) {
	h := f.history
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]session.Turn, len(h))
	copy(out, h)
	return out, nil
}

func (f *fakeSessions) ApplyHandoff(_ context.Context, _ uuid.UUID) error {
	f.handoffs++
	return nil
}

type fakeGateway struct {
	result *gateway.ChatResult
	err    error
	calls  int
}

func (f *fakeGateway) ChatCompletion(_ context.Context, _ []gateway.Message, _ gateway.ChatOptions) (*gateway.ChatResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeVisitors struct {
	ctx *store.VisitorContext
}

func (f *fakeVisitors) GetVisitorContext(_ context.Context, _ string) (*store.VisitorContext, error) {
	if f.ctx == nil {
		return nil, store.ErrNotFound
	}
	return f.ctx, nil
}

type fakeExtractor struct {
	info  *extraction.Info
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, convID uuid.UUID, _ []session.Turn, _ *store.VisitorContext) *extraction.Info {
	f.calls++
	if f.info != nil {
		f.info.ConversationID = convID
	}
	return f.info
}

type fakeResolver struct {
	leadID  uuid.UUID
	created bool
	err     error
	calls   int
}

func (f *fakeResolver) Resolve(_ context.Context, _ *extraction.Info, _ string) (uuid.UUID, bool, error) {
	f.calls++
	return f.leadID, f.created, f.err
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Enqueue(_ context.Context, eventType string, _ any) error {
	f.events = append(f.events, eventType)
	return nil
}

type fixture struct {
	sessions  *fakeSessions
	gw        *fakeGateway
	visitors  *fakeVisitors
	extractor *fakeExtractor
	resolver  *fakeResolver
	notifier  *fakeNotifier
	pipeline  *Pipeline
}

func newFixture() *fixture {
	f := &fixture{
		sessions: newFakeSessions(),
		gw: &fakeGateway{result: &gateway.ChatResult{
			Response: "Happy to help!", Confidence: 0.9, Intent: "support",
		}},
		visitors:  &fakeVisitors{},
		extractor: &fakeExtractor{},
		resolver:  &fakeResolver{leadID: uuid.New(), created: true},
		notifier:  &fakeNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.pipeline = New(f.sessions, f.gw, f.visitors, f.extractor, f.resolver, f.notifier, nil, Options{}, logger)
	return f
}

// seedHistory preloads enough visitor turns that the depth bonuses alone do
// not decide the outcome under test.
func seedHistory(f *fixture, n int) {
	for i := 0; i < n; i++ {
		f.sessions.history = append(f.sessions.history, session.Turn{Role: store.RoleVisitor, Content: fmt.Sprintf("turn %d", i)})
	}
}

func TestHandleMessage_EmptyMessage(t *testing.T) {
	f := newFixture()
	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: msg})
		assert.ErrorIs(t, err, ErrEmptyMessage, "message %q", msg)
	}
	assert.Zero(t, f.gw.calls, "gateway must not be called for blank input")
}

func TestHandleMessage_GatewayFailure(t *testing.T) {
	f := newFixture()
	f.gw.err = errors.New("upstream 503")

	_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "hello"})
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, []string{store.RoleVisitor}, f.sessions.appends, "visitor message persists before the failure")
	assert.Zero(t, f.extractor.calls, "side channel never runs without a reply")
}

func TestHandleMessage_ReturnsReply(t *testing.T) {
	f := newFixture()
	f.gw.result.HandoffRequired = false

	resp, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, "Happy to help!", resp.Message)
	assert.Equal(t, f.sessions.conv.ID.String(), resp.ConversationID)
	assert.Equal(t, "support", resp.Intent)
	assert.Equal(t, []string{store.RoleVisitor, store.RoleAssistant}, f.sessions.appends)
}

func TestHandleMessage_HandoffTransitionAndEvent(t *testing.T) {
	f := newFixture()
	f.gw.result.HandoffRequired = true

	resp, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "I need a human"})
	require.NoError(t, err)
	assert.True(t, resp.HandoffRequired)
	assert.Equal(t, 1, f.sessions.handoffs)
	assert.Contains(t, f.notifier.events, EventConversationHandoff)
}

func TestHandleMessage_QualifiedLeadCreatesEvent(t *testing.T) {
	f := newFixture()
	seedHistory(f, 8)
	f.gw.result.Intent = "sales"
	f.extractor.info = &extraction.Info{
		Email: "jane@acme.com", Confidence: 30, Tier: extraction.TierAI,
	}

	_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "what does pricing look like? my budget is set"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.calls)
	assert.Equal(t, 1, f.resolver.calls)
	assert.Equal(t, []string{EventLeadCreated}, f.notifier.events)
}

func TestHandleMessage_UpdatedLeadEmitsUpdateEvent(t *testing.T) {
	f := newFixture()
	seedHistory(f, 8)
	f.gw.result.Intent = "sales"
	f.resolver.created = false
	f.extractor.info = &extraction.Info{Email: "jane@acme.com", Tier: extraction.TierAI}

	_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "pricing and a demo please"})
	require.NoError(t, err)
	assert.Equal(t, []string{EventLeadUpdated}, f.notifier.events)
}

func TestHandleMessage_BelowThresholdSkipsExtraction(t *testing.T) {
	f := newFixture()
	// One short support turn: base 50, no bonuses, below the default 60.
	f.gw.result.Intent = "support"

	_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "where are your docs?"})
	require.NoError(t, err)
	assert.Zero(t, f.extractor.calls, "extraction must not run below the threshold")
	assert.Zero(t, f.resolver.calls)
	assert.Empty(t, f.notifier.events)
}

func TestHandleMessage_NoContactInfoNeverResolves(t *testing.T) {
	f := newFixture()
	seedHistory(f, 8)
	f.gw.result.Intent = "sales"
	f.extractor.info = nil // nothing extractable from the transcript

	_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "pricing, budget, timeline, tell me everything"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.calls)
	assert.Zero(t, f.resolver.calls, "resolver must never see a nil profile")
	assert.Empty(t, f.notifier.events)
}

func TestHandleMessage_DiscardedExtractionUsesNeutralTier(t *testing.T) {
	f := newFixture()
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.pipeline = New(f.sessions, f.gw, f.visitors, f.extractor, f.resolver, f.notifier, m, Options{}, logger)

	seedHistory(f, 8)
	f.gw.result.Intent = "sales"
	f.extractor.info = nil

	_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "pricing and budget please"})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, fam := range families {
		if fam.GetName() != "crm_pipeline_extractions_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "tier" {
					assert.Equal(t, "none", label.GetValue(), "discard must not be attributed to a real tier")
					found = true
				}
			}
		}
	}
	assert.True(t, found, "discard counter must be recorded")
}

func TestHandleMessage_ResolverFailureDoesNotBlockReply(t *testing.T) {
	f := newFixture()
	seedHistory(f, 8)
	f.gw.result.Intent = "sales"
	f.extractor.info = &extraction.Info{Email: "jane@acme.com", Tier: extraction.TierPattern}
	f.resolver.err = errors.New("db down")

	resp, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "pricing please, budget approved"})
	require.NoError(t, err, "side-channel failures never surface to the caller")
	assert.Equal(t, "Happy to help!", resp.Message)
	assert.Empty(t, f.notifier.events)
}

func TestHandleMessage_ThresholdOverride(t *testing.T) {
	f := newFixture()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.pipeline = New(f.sessions, f.gw, f.visitors, f.extractor, f.resolver, f.notifier, nil,
		Options{ScoreThreshold: 50}, logger)
	f.extractor.info = &extraction.Info{Email: "jane@acme.com", Tier: extraction.TierAI}

	// Base score alone meets a lowered threshold.
	_, err := f.pipeline.HandleMessage(context.Background(), ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.calls)
}
