package domain

// RiskCategory names a class of safety-relevant content.
type RiskCategory string

const (
	RiskSuicide  RiskCategory = "suicide"
	RiskSelfHarm RiskCategory = "self_harm"
	RiskViolence RiskCategory = "violence"
	RiskAbuse    RiskCategory = "abuse"
)

// RiskMatch is a single category's match within a message.
type RiskMatch struct {
	Category     RiskCategory `json:"category"`
	MatchedTerms []string     `json:"matched_terms"`
	Confidence   float64      `json:"confidence"`
}

// RiskFinding is the result of classifying one message. When multiple
// categories match, the primary fields report the highest-confidence
// category and Candidates retains every match so callers can apply
// stricter any-match policies.
type RiskFinding struct {
	Matched      bool         `json:"matched"`
	Category     RiskCategory `json:"category,omitempty"`
	MatchedTerms []string     `json:"matched_terms,omitempty"`
	Confidence   float64      `json:"confidence,omitempty"`
	Candidates   []RiskMatch  `json:"all_candidate_categories,omitempty"`
}
