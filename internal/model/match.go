package model

// MatchKind classifies a matcher's verdict for a transcript.
type MatchKind string

const (
	MatchSingle    MatchKind = "single"    // one candidate cleared the gate
	MatchAmbiguous MatchKind = "ambiguous" // multiple equally-scored candidates
	MatchNone      MatchKind = "none"      // nothing cleared the gate
)

// MatchResult is a transient value produced by a matcher. It is never
// persisted; the orchestrator translates it into ledger entries.
type MatchResult struct {
	Kind       MatchKind
	Client     *Client  // set when Kind == MatchSingle
	Candidates []Client // set when Kind == MatchAmbiguous
	Confidence float64
	Reason     string
}

// SingleMatch builds a confirmed single-candidate result.
func SingleMatch(c *Client, confidence float64, reason string) *MatchResult {
	return &MatchResult{Kind: MatchSingle, Client: c, Confidence: confidence, Reason: reason}
}

// AmbiguousMatch builds a multiple-equal-candidates result.
func AmbiguousMatch(candidates []Client, reason string) *MatchResult {
	return &MatchResult{Kind: MatchAmbiguous, Candidates: candidates, Reason: reason}
}

// NoMatch builds an absence result.
func NoMatch(reason string) *MatchResult {
	return &MatchResult{Kind: MatchNone, Reason: reason}
}
