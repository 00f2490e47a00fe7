// Package events publishes resolution outcomes to the dashboard's message
// bus so other features react to links without querying pipeline state.
package events

import (
	"context"
	"time"
)

// Routing keys on the topic exchange.
const (
	KeyTranscriptLinked     = "transcript.linked"
	KeyTranscriptNeedsHuman = "transcript.needs_human"
)

// Meta carries event identity and correlation.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Envelope is the wire format for every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// TranscriptLinked is emitted when any stage links a transcript.
type TranscriptLinked struct {
	TranscriptID string  `json:"transcript_id"`
	OwnerID      string  `json:"owner_id"`
	ClientID     string  `json:"client_id"`
	Stage        string  `json:"stage"`
	Confidence   float64 `json:"confidence"`
}

// TranscriptNeedsHuman is emitted when automated stages are exhausted.
type TranscriptNeedsHuman struct {
	TranscriptID string `json:"transcript_id"`
	OwnerID      string `json:"owner_id"`
	Reason       string `json:"reason"`
}

// Publisher sends resolution events.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

// NopPublisher discards events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, key string, msg Envelope) error { return nil }
func (NopPublisher) Close() error                                                { return nil }
