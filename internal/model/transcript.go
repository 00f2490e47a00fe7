package model

import "time"

// LinkingStatus is the externally visible projection of the resolution
// state machine for a transcript.
type LinkingStatus string

const (
	LinkingStatusUnlinked       LinkingStatus = "unlinked"
	LinkingStatusAILinked       LinkingStatus = "ai_linked"
	LinkingStatusManuallyLinked LinkingStatus = "manually_linked"
	LinkingStatusNeedsHuman     LinkingStatus = "needs_human"
)

// Linked reports whether the status carries a client link. The clientId
// non-null iff linked invariant hangs off this.
func (s LinkingStatus) Linked() bool {
	return s == LinkingStatusAILinked || s == LinkingStatusManuallyLinked
}

// Transcript is a meeting record ingested from the external recorder.
type Transcript struct {
	ID            string        `json:"id"`
	ExternalID    string        `json:"external_id"`
	OwnerID       string        `json:"owner_id"`
	Title         string        `json:"title"`
	MeetingDate   time.Time     `json:"meeting_date"`
	DurationSecs  int           `json:"duration_secs"`
	Participants  []string      `json:"participants"`
	Body          string        `json:"body,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	LinkingStatus LinkingStatus `json:"linking_status"`
	ClientID      string        `json:"client_id,omitempty"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`

	// Version increments on every status/link mutation and backs the
	// conditional-write exclusion token in the store.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalParticipants returns the transcript's participant emails with the
// owner's own domain filtered out, normalized.
func (t *Transcript) ExternalParticipants(ownerDomain string) []string {
	var out []string
	for _, raw := range t.Participants {
		e := NormalizeEmail(raw)
		if e == "" {
			continue
		}
		if ownerDomain != "" && emailDomain(e) == ownerDomain {
			continue
		}
		out = append(out, e)
	}
	return out
}

func emailDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
