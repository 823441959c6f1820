// Package scoring qualifies conversations. Score is a pure function of its
// inputs: no storage, no network, deterministic.
package scoring

import (
	"regexp"
	"strings"

	"github.com/nexacrm/leadflow/internal/session"
)

// Keywords is the fixed buying-signal vocabulary. Each distinct match adds
// KeywordBonus; there is no cap besides the final clamp.
var Keywords = []string{
	"pricing", "cost", "demo", "trial", "implementation",
	"timeline", "budget", "purchase", "requirements",
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// Weights are the heuristic scoring constants. They carry no tuning
// rationale from the source system; keep them overridable rather than
// baking in literals.
type Weights struct {
	Base         int
	IntentBonus  int
	DepthBonus   int // applied once at >=4 messages and again at >=8
	KeywordBonus int
	EmailBonus   int
}

func DefaultWeights() Weights {
	return Weights{
		Base:         50,
		IntentBonus:  20,
		DepthBonus:   10,
		KeywordBonus: 5,
		EmailBonus:   15,
	}
}

// Signals are the gateway classification outputs the scorer consumes.
type Signals struct {
	Intent string
}

// Score rates a conversation 0-100.
func Score(history []session.Turn, sig Signals, w Weights) int {
	score := w.Base

	switch sig.Intent {
	case "sales", "qualification":
		score += w.IntentBonus
	}

	if len(history) >= 4 {
		score += w.DepthBonus
	}
	if len(history) >= 8 {
		score += w.DepthBonus
	}

	var b strings.Builder
	for _, t := range history {
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	text := b.String()
	lower := strings.ToLower(text)

	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			score += w.KeywordBonus
		}
	}

	if emailPattern.MatchString(text) {
		score += w.EmailBonus
	}

	return clamp(score)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
