package extraction

import "github.com/google/uuid"

// Extraction tiers.
const (
	TierAI      = "ai"
	TierPattern = "pattern"
)

// Info is the candidate lead profile produced by one extraction attempt.
// It is transient: never persisted as-is, consumed immediately by the merge
// engine.
type Info struct {
	Email        string   `json:"email,omitempty"`
	FirstName    string   `json:"first_name,omitempty"`
	LastName     string   `json:"last_name,omitempty"`
	Company      string   `json:"company,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Title        string   `json:"title,omitempty"`
	Industry     string   `json:"industry,omitempty"`
	CompanySize  string   `json:"company_size,omitempty"`
	Budget       string   `json:"budget,omitempty"`
	Timeline     string   `json:"timeline,omitempty"`
	PainPoints   []string `json:"pain_points,omitempty"`
	Requirements []string `json:"requirements,omitempty"`

	Confidence     int       `json:"extraction_confidence"`
	LeadSource     string    `json:"lead_source"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Tier           string    `json:"-"`
}

// Valid reports whether the profile is worth resolving: email or phone
// must be present.
func (i *Info) Valid() bool {
	return i != nil && (i.Email != "" || i.Phone != "")
}

// Confidence weights per populated field, capped at 100.
const (
	weightEmail        = 30
	weightFirstName    = 15
	weightLastName     = 15
	weightCompany      = 20
	weightPhone        = 10
	weightRequirements = 10
)

// computeConfidence is a weighted sum over populated fields. Adding a field
// can only raise it.
func computeConfidence(i *Info) int {
	score := 0
	if i.Email != "" {
		score += weightEmail
	}
	if i.FirstName != "" {
		score += weightFirstName
	}
	if i.LastName != "" {
		score += weightLastName
	}
	if i.Company != "" {
		score += weightCompany
	}
	if i.Phone != "" {
		score += weightPhone
	}
	if len(i.Requirements) > 0 {
		score += weightRequirements
	}
	if score > 100 {
		score = 100
	}
	return score
}
