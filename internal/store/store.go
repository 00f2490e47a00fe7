// Package store persists clients, transcripts, and the resolution ledger
// behind a backend-agnostic interface with SQLite and Postgres drivers.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/client-linker/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned when a conditional transcript write loses
// the race: the row's version no longer matches the expected one. Callers
// treat this as "someone else already decided" and re-read.
var ErrVersionConflict = eris.New("store: version conflict")

// TranscriptFilter specifies criteria for listing transcripts.
type TranscriptFilter struct {
	OwnerID       string              `json:"owner_id,omitempty"`
	Status        model.LinkingStatus `json:"status,omitempty"`
	UpdatedBefore time.Time           `json:"updated_before,omitempty"`
	Limit         int                 `json:"limit,omitempty"`
	Offset        int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution pipeline.
type Store interface {
	// Clients
	CreateClient(ctx context.Context, c *model.Client) error
	GetClient(ctx context.Context, id string) (*model.Client, error)
	ListClientsByOwner(ctx context.Context, ownerID string) ([]model.Client, error)
	AddClientEmail(ctx context.Context, clientID, email string) error

	// Transcripts. CreateTranscript is idempotent on (owner, external id):
	// a duplicate delivery returns the existing record with created=false.
	CreateTranscript(ctx context.Context, t *model.Transcript) (created bool, err error)
	GetTranscript(ctx context.Context, id string) (*model.Transcript, error)
	GetTranscriptByExternalID(ctx context.Context, ownerID, externalID string) (*model.Transcript, error)
	ListTranscripts(ctx context.Context, filter TranscriptFilter) ([]model.Transcript, error)

	// LinkTranscript and SetTranscriptStatus are conditional writes on the
	// transcript's version column; they are the per-transcript exclusion
	// token around read-decide-write of linkingStatus.
	LinkTranscript(ctx context.Context, id, clientID string, status model.LinkingStatus, expectedVersion int) error
	SetTranscriptStatus(ctx context.Context, id string, status model.LinkingStatus, expectedVersion int) error
	UnlinkTranscript(ctx context.Context, id string, expectedVersion int) error

	// Resolution ledger (append-only).
	AppendAttempt(ctx context.Context, a *model.ResolutionAttempt) error
	ListAttempts(ctx context.Context, transcriptID string) ([]model.ResolutionAttempt, error)

	// Webhook secrets. GetWebhookSecret returns ("", nil) when no secret
	// was ever configured for the owner — the migration-compatibility
	// allowance.
	GetWebhookSecret(ctx context.Context, ownerID string) (string, error)
	SetWebhookSecret(ctx context.Context, ownerID, secret string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// normalizeClientEmails enforces the email-set invariant before a client
// row is written: lower-cased, trimmed, no duplicates.
func normalizeClientEmails(c *model.Client) {
	c.BusinessEmail = model.NormalizeEmail(c.BusinessEmail)
	seen := map[string]struct{}{c.BusinessEmail: {}}
	var extras []string
	for _, e := range c.ExtraEmails {
		norm := model.NormalizeEmail(e)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		extras = append(extras, norm)
	}
	c.ExtraEmails = extras
}

// Open creates a store for the given driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, databaseURL string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(databaseURL)
	case "postgres":
		return NewPostgres(ctx, databaseURL, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
