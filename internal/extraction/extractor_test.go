package extraction

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/nexacrm/leadflow/internal/session"
	"github.com/nexacrm/leadflow/internal/store"
)

// scriptedGateway returns a fixed response or error for every call.
type scriptedGateway struct {
	text  string
	err   error
	calls int
}

func (g *scriptedGateway) StructuredExtract(ctx context.Context, prompt string) (string, error) {
	g.calls++
	return g.text, g.err
}

func visitorTurns(contents ...string) []session.Turn {
	out := make([]session.Turn, 0, len(contents))
	for _, c := range contents {
		out = append(out, session.Turn{Role: "visitor", Content: c})
	}
	return out
}

func TestExtract_AITier(t *testing.T) {
	gw := &scriptedGateway{text: `{"email": "jane@acme.com", "first_name": "Jane", "company": "Acme"}`}
	e := New(gw, "Web", slog.Default())
	convID := uuid.New()

	info := e.Extract(context.Background(), convID, visitorTurns("hi"), nil)
	if info == nil {
		t.Fatal("expected extraction result")
	}
	if info.Tier != TierAI {
		t.Errorf("expected ai tier, got %q", info.Tier)
	}
	if info.Email != "jane@acme.com" || info.FirstName != "Jane" || info.Company != "Acme" {
		t.Errorf("unexpected fields: %+v", info)
	}
	if info.LeadSource != "Web Chat" {
		t.Errorf("expected lead source Web Chat, got %q", info.LeadSource)
	}
	if info.ConversationID != convID {
		t.Errorf("conversation id not stamped")
	}
}

func TestExtract_AITierHandlesCodeFences(t *testing.T) {
	gw := &scriptedGateway{text: "```json\n{\"email\": \"jane@acme.com\"}\n```"}
	e := New(gw, "Web", slog.Default())

	info := e.Extract(context.Background(), uuid.New(), visitorTurns("hi"), nil)
	if info == nil || info.Email != "jane@acme.com" {
		t.Fatalf("expected fenced JSON to parse, got %+v", info)
	}
	if info.Tier != TierAI {
		t.Errorf("expected ai tier, got %q", info.Tier)
	}
}

func TestExtract_FallbackOnGatewayError(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("gateway timeout")}
	e := New(gw, "Web", slog.Default())

	history := visitorTurns("My email is jane@acme.com, budget is $50k, call me at 555-123-4567")
	info := e.Extract(context.Background(), uuid.New(), history, nil)
	if info == nil {
		t.Fatal("expected fallback extraction result")
	}
	if info.Tier != TierPattern {
		t.Errorf("expected pattern tier, got %q", info.Tier)
	}
	if info.Email != "jane@acme.com" {
		t.Errorf("expected jane@acme.com, got %q", info.Email)
	}
	if info.Phone != "555-123-4567" {
		t.Errorf("expected 555-123-4567, got %q", info.Phone)
	}
}

func TestExtract_FallbackOnUnparsableResponse(t *testing.T) {
	gw := &scriptedGateway{text: "I could not find any contact details, sorry!"}
	e := New(gw, "Web", slog.Default())

	history := visitorTurns("reach me at bob@example.org")
	info := e.Extract(context.Background(), uuid.New(), history, nil)
	if info == nil {
		t.Fatal("expected fallback extraction result")
	}
	if info.Tier != TierPattern || info.Email != "bob@example.org" {
		t.Errorf("unexpected result: %+v", info)
	}
}

func TestExtract_DiscardedWithoutEmailOrPhone(t *testing.T) {
	gw := &scriptedGateway{text: `{"first_name": "Jane", "company": "Acme"}`}
	e := New(gw, "Web", slog.Default())

	info := e.Extract(context.Background(), uuid.New(), visitorTurns("hello, I'm Jane from Acme"), nil)
	if info != nil {
		t.Fatalf("expected nil without email or phone, got %+v", info)
	}
}

func TestExtract_VisitorBackfillOnlyFillsEmpty(t *testing.T) {
	gw := &scriptedGateway{text: `{"email": "jane@acme.com", "first_name": "Janet"}`}
	e := New(gw, "Web", slog.Default())

	visitor := &store.VisitorContext{
		VisitorID: "v-1",
		LeadName:  "Jane Doe",
		Company:   "Acme Corp",
	}
	info := e.Extract(context.Background(), uuid.New(), visitorTurns("hi"), visitor)
	if info == nil {
		t.Fatal("expected extraction result")
	}
	if info.FirstName != "Janet" {
		t.Errorf("extracted first name must win over visitor context, got %q", info.FirstName)
	}
	if info.LastName != "Doe" {
		t.Errorf("expected last name backfilled from visitor context, got %q", info.LastName)
	}
	if info.Company != "Acme Corp" {
		t.Errorf("expected company backfilled from visitor context, got %q", info.Company)
	}
}

func TestConfidence_WeightedSum(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want int
	}{
		{"empty", Info{}, 0},
		{"email only", Info{Email: "a@b.co"}, 30},
		{"email and phone", Info{Email: "a@b.co", Phone: "555-123-4567"}, 40},
		{"names and company", Info{FirstName: "a", LastName: "b", Company: "c"}, 50},
		{"all fields capped at 100", Info{
			Email: "a@b.co", FirstName: "a", LastName: "b", Company: "c",
			Phone: "555-123-4567", Requirements: []string{"sso"},
		}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeConfidence(&tt.info)
			if got != tt.want {
				t.Errorf("computeConfidence = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfidence_MonotonicNonDecreasing(t *testing.T) {
	// Populating fields one at a time must never lower confidence.
	steps := []func(*Info){
		func(i *Info) { i.Phone = "555-123-4567" },
		func(i *Info) { i.FirstName = "Jane" },
		func(i *Info) { i.LastName = "Doe" },
		func(i *Info) { i.Company = "Acme" },
		func(i *Info) { i.Email = "jane@acme.com" },
		func(i *Info) { i.Requirements = []string{"sso"} },
	}

	var info Info
	prev := computeConfidence(&info)
	for n, step := range steps {
		step(&info)
		got := computeConfidence(&info)
		if got < prev {
			t.Fatalf("confidence decreased at step %d: %d -> %d", n, prev, got)
		}
		prev = got
	}
}
