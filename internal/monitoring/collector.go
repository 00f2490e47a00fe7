package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/store"
)

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	Unlinked       int `json:"unlinked"`
	AILinked       int `json:"ai_linked"`
	ManuallyLinked int `json:"manually_linked"`
	NeedsHuman     int `json:"needs_human"`

	// StaleNeedsHuman counts needs_human transcripts untouched for longer
	// than the staleness window.
	StaleNeedsHuman int `json:"stale_needs_human"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers a snapshot from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect counts transcripts per linking status for an owner. staleAfter
// bounds the stale needs_human count; zero disables it.
func (c *Collector) Collect(ctx context.Context, ownerID string, staleAfter time.Duration) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	transcripts, err := c.store.ListTranscripts(ctx, store.TranscriptFilter{OwnerID: ownerID})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list transcripts")
	}

	cutoff := snap.CollectedAt.Add(-staleAfter)
	for _, t := range transcripts {
		switch t.LinkingStatus {
		case model.LinkingStatusUnlinked:
			snap.Unlinked++
		case model.LinkingStatusAILinked:
			snap.AILinked++
		case model.LinkingStatusManuallyLinked:
			snap.ManuallyLinked++
		case model.LinkingStatusNeedsHuman:
			snap.NeedsHuman++
			if staleAfter > 0 && t.UpdatedAt.Before(cutoff) {
				snap.StaleNeedsHuman++
			}
		}
	}

	return snap, nil
}
