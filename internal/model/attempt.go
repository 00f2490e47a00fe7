package model

import "time"

// AttemptStage identifies which resolution strategy produced an attempt.
type AttemptStage string

const (
	StageAuto     AttemptStage = "auto"
	StageAI       AttemptStage = "ai"
	StageTelegram AttemptStage = "telegram"
)

// AttemptOutcome is the result classification of a single attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeNoMatch AttemptOutcome = "no_match"
	OutcomeError   AttemptOutcome = "error"
)

// ResolutionAttempt is one immutable ledger entry for a transcript.
// Entries are append-only and totally ordered by CreatedAt.
type ResolutionAttempt struct {
	ID           string         `json:"id"`
	TranscriptID string         `json:"transcript_id"`
	Stage        AttemptStage   `json:"stage"`
	Outcome      AttemptOutcome `json:"outcome"`
	Confidence   *float64       `json:"confidence,omitempty"`
	ClientID     string         `json:"client_id,omitempty"`
	Reason       string         `json:"reason"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StatusFromAttempt projects a ledger entry onto the linking status the
// transcript must hold after that entry. Used by consistency checks: a
// transcript's current status is a pure function of its latest entry.
func StatusFromAttempt(a ResolutionAttempt) LinkingStatus {
	switch a.Outcome {
	case OutcomeSuccess:
		if a.Stage == StageTelegram {
			return LinkingStatusManuallyLinked
		}
		return LinkingStatusAILinked
	default:
		return LinkingStatusNeedsHuman
	}
}
