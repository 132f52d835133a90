// Package risk classifies inbound text for safety-relevant content.
// Detection is deterministic, pattern-based matching so every match and
// non-match is explainable for compliance review. Purely lexical
// matching is defeatable by paraphrase or obfuscation; that gap is
// accepted here and mitigated upstream by a conservative bias toward
// escalation. No normalization of spacing or leetspeak is applied.
package risk

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ahandley/textline/internal/domain"
)

type category struct {
	name       domain.RiskCategory
	confidence float64
	patterns   []*regexp.Regexp
}

// Classifier scores a single message against fixed category tables.
type Classifier struct {
	categories []category
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// NewClassifier builds the classifier with its static category tables.
func NewClassifier() *Classifier {
	return &Classifier{
		categories: []category{
			{
				name:       domain.RiskSuicide,
				confidence: 0.90,
				patterns: compile(
					`\bsuicide\b`,
					`\bkill myself\b`,
					`\bend (my|it all)\b`,
					`\bwant to die\b`,
					`\bdon'?t want to live\b`,
					`\bnot worth living\b`,
					`\bbetter off dead\b`,
					`\bsuicidal\b`,
					`\bending (it|my life)\b`,
				),
			},
			{
				name:       domain.RiskViolence,
				confidence: 0.85,
				patterns: compile(
					`\bhurt (someone|others|people)\b`,
					`\bkill (someone|others|people|them)\b`,
					`\bshoot (someone|others|people|them|up)\b`,
					`\battack (someone|others|people)\b`,
					`\bviolent thoughts\b`,
				),
			},
			{
				name:       domain.RiskSelfHarm,
				confidence: 0.80,
				patterns: compile(
					`\bcut(ting)? myself\b`,
					`\bhurt(ing)? myself\b`,
					`\bself[- ]harm\b`,
					`\bbur(n|ning) myself\b`,
					`\bpunish myself\b`,
				),
			},
			{
				name:       domain.RiskAbuse,
				confidence: 0.75,
				patterns: compile(
					`\babusing me\b`,
					`\bhitting me\b`,
					`\bhurting me\b`,
					`\bafraid of\b`,
					`\bdom(estic)? violence\b`,
				),
			},
		},
	}
}

// Detect scores text against every category. The primary fields report
// the highest-confidence match; Candidates retains every matching
// category so callers can apply an any-match-escalates policy.
func (c *Classifier) Detect(text string) domain.RiskFinding {
	lower := strings.ToLower(text)

	var candidates []domain.RiskMatch
	for _, cat := range c.categories {
		var terms []string
		for _, re := range cat.patterns {
			if m := re.FindString(lower); m != "" {
				terms = append(terms, m)
			}
		}
		if len(terms) > 0 {
			candidates = append(candidates, domain.RiskMatch{
				Category:     cat.name,
				MatchedTerms: terms,
				Confidence:   cat.confidence,
			})
		}
	}

	if len(candidates) == 0 {
		return domain.RiskFinding{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	primary := candidates[0]
	return domain.RiskFinding{
		Matched:      true,
		Category:     primary.Category,
		MatchedTerms: primary.MatchedTerms,
		Confidence:   primary.Confidence,
		Candidates:   candidates,
	}
}

// SafetyReply builds the dedicated crisis response. It is sent on every
// risk match, separate from and never suppressed by the normal
// generation path.
func SafetyReply(hotlineNumber string) string {
	return fmt.Sprintf(
		"I'm concerned about what you're sharing. Please know that help is available:\n\n"+
			"Crisis & Suicide Lifeline: %s\n"+
			"Available 24/7 for free, confidential support.\n\n"+
			"You can also text 'HELLO' to 741741 for Crisis Text Line.\n\n"+
			"I'm here to listen and support you, but I'm not a therapist or crisis counselor. "+
			"These trained professionals can provide the immediate help you need.",
		hotlineNumber,
	)
}
