package resolver

import (
	"fmt"
	"strings"

	"github.com/sells-group/client-linker/internal/model"
)

// replyScorerVersion tags the scoring rules below. Bump it whenever the
// tie-break or confidence behavior changes so ledger reasons stay
// interpretable against old entries.
const replyScorerVersion = 2

// ReplyKind classifies a parsed human reply.
type ReplyKind string

const (
	ReplyManual    ReplyKind = "manual"    // explicit hold, no lookup attempted
	ReplyMatch     ReplyKind = "match"     // one candidate cleared the rules
	ReplyAmbiguous ReplyKind = "ambiguous" // multiple candidates tied at the top tier
	ReplyNoMatch   ReplyKind = "no_match"  // nothing scored above zero
)

// ReplyVerdict is the pure result of scoring a human reply against the
// owner's candidates. It carries no side effects; the escalation channel
// translates it into ledger writes and chat responses.
type ReplyVerdict struct {
	Kind       ReplyKind
	Client     *model.Client
	Candidates []model.Client
	Confidence float64
	Reason     string
}

// Conversational filler stripped from the front of a reply before matching.
var replyFillers = []string{"link ", "belongs to ", "this is ", "that is ", "its ", "it's "}

// ScoreReply parses a free-text reply and scores every candidate.
//
// Order of evaluation: the literal token "manual" anywhere in the reply
// wins outright; a reply containing "@" is tried as an exact business
// email first; everything else is reduced to a comparison key and scored
// by tier, highest tier retained. Exact business-name match scores 3,
// name containment either direction 2, exact contact name 2, contact
// containment 1.5. A unique scored match whose confidence falls below
// rules.ReplyFloor degrades to no match.
func ScoreReply(text string, candidates []model.Client, rules Rules) ReplyVerdict {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(lower, "manual") {
		return ReplyVerdict{Kind: ReplyManual, Reason: "operator requested manual handling"}
	}

	cleaned := stripFillers(lower)
	if cleaned == "" {
		return ReplyVerdict{Kind: ReplyNoMatch, Reason: fmt.Sprintf("unrecognized reply %q", text)}
	}

	if strings.Contains(cleaned, "@") {
		want := model.NormalizeEmail(cleaned)
		for i := range candidates {
			if model.NormalizeEmail(candidates[i].BusinessEmail) == want && want != "" {
				return ReplyVerdict{
					Kind:       ReplyMatch,
					Client:     &candidates[i],
					Confidence: rules.EmailConfidence,
					Reason:     "matched business email",
				}
			}
		}
	}

	key := matchKey(cleaned)
	if key == "" {
		return ReplyVerdict{Kind: ReplyNoMatch, Reason: fmt.Sprintf("unrecognized reply %q", text)}
	}

	type scored struct {
		idx    int
		score  float64
		reason string
	}
	var best []scored
	top := 0.0
	for i := range candidates {
		score, reason := scoreCandidate(key, &candidates[i], rules)
		if score <= 0 {
			continue
		}
		switch {
		case score > top:
			top = score
			best = best[:0]
			best = append(best, scored{i, score, reason})
		case score == top:
			best = append(best, scored{i, score, reason})
		}
	}

	switch len(best) {
	case 0:
		return ReplyVerdict{Kind: ReplyNoMatch, Reason: fmt.Sprintf("unrecognized reply %q", text)}
	case 1:
		conf := replyConfidence(best[0].score)
		if conf < rules.ReplyFloor {
			return ReplyVerdict{
				Kind:   ReplyNoMatch,
				Reason: fmt.Sprintf("confidence %.2f below reply floor %.2f", conf, rules.ReplyFloor),
			}
		}
		return ReplyVerdict{
			Kind:       ReplyMatch,
			Client:     &candidates[best[0].idx],
			Confidence: conf,
			Reason:     best[0].reason,
		}
	default:
		tied := make([]model.Client, 0, len(best))
		for _, b := range best {
			tied = append(tied, candidates[b.idx])
		}
		return ReplyVerdict{
			Kind:       ReplyAmbiguous,
			Candidates: tied,
			Reason:     fmt.Sprintf("%d candidates tied for %q", len(tied), text),
		}
	}
}

// scoreCandidate returns the candidate's best tier against the key.
func scoreCandidate(key string, c *model.Client, rules Rules) (float64, string) {
	nameKey := matchKey(c.BusinessName)
	if nameKey != "" {
		if nameKey == key {
			return rules.ExactNameScore, "exact business name match"
		}
		if strings.Contains(nameKey, key) || strings.Contains(key, nameKey) {
			return rules.NameContainScore, "partial business name match"
		}
	}
	contactKey := matchKey(c.ContactName())
	if contactKey != "" {
		if contactKey == key {
			return rules.ExactContactScore, "exact contact name match"
		}
		if strings.Contains(contactKey, key) || strings.Contains(key, contactKey) {
			return rules.ContactContainScore, "partial contact name match"
		}
	}
	return 0, ""
}

// replyConfidence maps a tier score to a confidence. Capped at 0.95 so a
// lexical match never outranks an exact email hit, and scaled so adjacent
// tiers stay distinguishable in the ledger.
func replyConfidence(score float64) float64 {
	conf := 0.5 + score/6
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func stripFillers(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := false
		for _, f := range replyFillers {
			if strings.HasPrefix(s, f) {
				s = strings.TrimSpace(strings.TrimPrefix(s, f))
				stripped = true
			}
		}
		if !stripped {
			return s
		}
	}
}
