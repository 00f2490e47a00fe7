package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-linker/internal/events"
	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/monitoring"
	"github.com/sells-group/client-linker/internal/store"
)

// Notifier delivers a needs-human escalation to the operator channel.
// Delivery failures are recorded in the ledger, never raised to callers.
type Notifier interface {
	NotifyNeedsHuman(ctx context.Context, t *model.Transcript, reason string) error
}

// Outcome summarizes one resolution trigger for the caller.
type Outcome struct {
	Status        model.LinkingStatus `json:"status"`
	AlreadyLinked bool                `json:"already_linked,omitempty"`
	ClientID      string              `json:"client_id,omitempty"`
	Stage         model.AttemptStage  `json:"stage,omitempty"`
	Confidence    float64             `json:"confidence,omitempty"`
	Reason        string              `json:"reason,omitempty"`
}

// Resolver sequences the three resolution stages and owns every ledger
// write. Behavior is a function of (transcript, clients, rules); nothing
// is read from ambient process state at decision time.
type Resolver struct {
	store       store.Store
	ai          *AIMatcher
	notifier    Notifier
	publisher   events.Publisher
	rules       Rules
	ownerDomain string
}

// New wires the orchestrator. ai may be nil when no model credential is
// configured; notifier may be nil when no bot is configured.
func New(s store.Store, ai *AIMatcher, notifier Notifier, publisher events.Publisher, rules Rules, ownerDomain string) *Resolver {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Resolver{
		store:       s,
		ai:          ai,
		notifier:    notifier,
		publisher:   publisher,
		rules:       rules,
		ownerDomain: ownerDomain,
	}
}

// Rules exposes the active thresholds, mainly for the escalation channel.
func (r *Resolver) Rules() Rules { return r.rules }

// Resolve runs the pipeline for one transcript: deterministic email match,
// then the model classifier, then escalation to a human. Re-triggering an
// already linked transcript short-circuits with zero ledger writes.
func (r *Resolver) Resolve(ctx context.Context, transcriptID string) (*Outcome, error) {
	t, err := r.store.GetTranscript(ctx, transcriptID)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: load transcript")
	}
	if t.LinkingStatus.Linked() {
		zap.L().Debug("resolver: already linked, skipping",
			zap.String("transcript_id", t.ID),
			zap.String("client_id", t.ClientID),
		)
		return &Outcome{Status: t.LinkingStatus, AlreadyLinked: true, ClientID: t.ClientID}, nil
	}

	clients, err := r.store.ListClientsByOwner(ctx, t.OwnerID)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: list clients")
	}

	// Stage 1: deterministic. Exact identity is authoritative; a hit here
	// must never reach the later stages.
	if res := MatchByEmail(t, r.ownerDomain, clients); res != nil {
		return r.commitLink(ctx, t, res.Client, res.Confidence, model.StageAuto, res.Reason)
	}
	if err := r.recordAttempt(ctx, t.ID, model.StageAuto, model.OutcomeNoMatch, nil, "",
		"no participant email matched a client record"); err != nil {
		return nil, err
	}

	// Stage 2: model classifier. A missing credential is an operator setup
	// problem, surfaced directly and never written to the ledger.
	if r.ai == nil {
		return nil, ErrModelNotConfigured
	}
	res, err := r.ai.Match(ctx, t, clients)
	if err != nil {
		zap.L().Warn("resolver: model stage failed",
			zap.String("transcript_id", t.ID),
			zap.Error(err),
		)
		if rerr := r.recordAttempt(ctx, t.ID, model.StageAI, model.OutcomeError, nil, "",
			fmt.Sprintf("model call failed: %v", err)); rerr != nil {
			return nil, rerr
		}
		return r.escalate(ctx, t, "model call failed")
	}
	if res.Kind == model.MatchSingle {
		return r.commitLink(ctx, t, res.Client, res.Confidence, model.StageAI, res.Reason)
	}
	if err := r.recordAttempt(ctx, t.ID, model.StageAI, model.OutcomeNoMatch, nil, "", res.Reason); err != nil {
		return nil, err
	}

	// Stage 3: hand off to a human.
	return r.escalate(ctx, t, res.Reason)
}

// CompleteLink finalizes a human-confirmed match. The link is persisted
// before any success is reported; a persistence failure is written to the
// ledger as an error entry and returned so the channel can tell the human.
func (r *Resolver) CompleteLink(ctx context.Context, t *model.Transcript, client *model.Client, confidence float64, reason string) (*Outcome, error) {
	return r.commitLink(ctx, t, client, confidence, model.StageTelegram, reason)
}

// RecordManualHold marks a transcript as held for manual handling on the
// operator's explicit request.
func (r *Resolver) RecordManualHold(ctx context.Context, t *model.Transcript) error {
	if err := r.recordAttempt(ctx, t.ID, model.StageTelegram, model.OutcomeNoMatch, nil, "",
		"operator requested manual handling"); err != nil {
		return err
	}
	return r.setNeedsHuman(ctx, t)
}

// RecordUnrecognized notes a reply that matched nothing.
func (r *Resolver) RecordUnrecognized(ctx context.Context, t *model.Transcript, input string) error {
	if err := r.recordAttempt(ctx, t.ID, model.StageTelegram, model.OutcomeNoMatch, nil, "",
		fmt.Sprintf("unrecognized reply %q", input)); err != nil {
		return err
	}
	return r.setNeedsHuman(ctx, t)
}

// RecordBotError notes an outbound notification failure in the ledger.
func (r *Resolver) RecordBotError(ctx context.Context, transcriptID string, cause error) error {
	return r.recordAttempt(ctx, transcriptID, model.StageTelegram, model.OutcomeError, nil, "",
		fmt.Sprintf("notification failed: %v", cause))
}

// LearnEmail appends a newly confirmed email to a client's known set.
func (r *Resolver) LearnEmail(ctx context.Context, clientID, email string) error {
	return r.store.AddClientEmail(ctx, clientID, email)
}

// ManualLink links a transcript by explicit operator action, outside the
// conversational flow.
func (r *Resolver) ManualLink(ctx context.Context, transcriptID, clientID string) (*Outcome, error) {
	t, err := r.store.GetTranscript(ctx, transcriptID)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: load transcript")
	}
	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: load client")
	}
	return r.commitLink(ctx, t, client, 1.0, model.StageTelegram, "operator linked via cli")
}

// ManualUnlink clears a transcript's link. Administrative operation; the
// ledger records it but the resolution pipeline never takes this path.
func (r *Resolver) ManualUnlink(ctx context.Context, transcriptID string) error {
	t, err := r.store.GetTranscript(ctx, transcriptID)
	if err != nil {
		return eris.Wrap(err, "resolver: load transcript")
	}
	if !t.LinkingStatus.Linked() {
		return eris.Errorf("resolver: transcript %s is not linked", transcriptID)
	}
	if err := r.store.UnlinkTranscript(ctx, t.ID, t.Version); err != nil {
		return eris.Wrap(err, "resolver: unlink")
	}
	return r.recordAttempt(ctx, t.ID, model.StageTelegram, model.OutcomeError, nil, "",
		fmt.Sprintf("operator unlinked from client %s via cli", t.ClientID))
}

func (r *Resolver) commitLink(ctx context.Context, t *model.Transcript, client *model.Client, confidence float64, stage model.AttemptStage, reason string) (*Outcome, error) {
	status := model.LinkingStatusAILinked
	if stage == model.StageTelegram {
		status = model.LinkingStatusManuallyLinked
	}

	err := r.store.LinkTranscript(ctx, t.ID, client.ID, status, t.Version)
	if eris.Is(err, store.ErrVersionConflict) {
		// Lost the race. If the winner linked the transcript we are done;
		// anything else is surfaced for an explicit re-trigger.
		current, rerr := r.store.GetTranscript(ctx, t.ID)
		if rerr != nil {
			return nil, eris.Wrap(rerr, "resolver: reload after conflict")
		}
		if current.LinkingStatus.Linked() {
			return &Outcome{Status: current.LinkingStatus, AlreadyLinked: true, ClientID: current.ClientID}, nil
		}
		return nil, eris.Wrap(err, "resolver: link transcript")
	}
	if err != nil {
		if rerr := r.recordAttempt(ctx, t.ID, stage, model.OutcomeError, nil, "",
			fmt.Sprintf("link persistence failed: %v", err)); rerr != nil {
			zap.L().Error("resolver: ledger write failed after link failure",
				zap.String("transcript_id", t.ID),
				zap.Error(rerr),
			)
		}
		return nil, eris.Wrap(err, "resolver: link transcript")
	}

	if err := r.recordAttempt(ctx, t.ID, stage, model.OutcomeSuccess, &confidence, client.ID, reason); err != nil {
		// Link persisted; a re-trigger short-circuits as already linked.
		return nil, err
	}

	zap.L().Info("resolver: transcript linked",
		zap.String("transcript_id", t.ID),
		zap.String("client_id", client.ID),
		zap.String("stage", string(stage)),
		zap.Float64("confidence", confidence),
	)
	r.publish(ctx, events.KeyTranscriptLinked, events.TranscriptLinked{
		TranscriptID: t.ID,
		OwnerID:      t.OwnerID,
		ClientID:     client.ID,
		Stage:        string(stage),
		Confidence:   confidence,
	})

	return &Outcome{
		Status:     status,
		ClientID:   client.ID,
		Stage:      stage,
		Confidence: confidence,
		Reason:     reason,
	}, nil
}

func (r *Resolver) escalate(ctx context.Context, t *model.Transcript, reason string) (*Outcome, error) {
	if err := r.setNeedsHuman(ctx, t); err != nil {
		return nil, err
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyNeedsHuman(ctx, t, reason); err != nil {
			zap.L().Warn("resolver: escalation notify failed",
				zap.String("transcript_id", t.ID),
				zap.Error(err),
			)
			if rerr := r.RecordBotError(ctx, t.ID, err); rerr != nil {
				return nil, rerr
			}
		}
	}

	r.publish(ctx, events.KeyTranscriptNeedsHuman, events.TranscriptNeedsHuman{
		TranscriptID: t.ID,
		OwnerID:      t.OwnerID,
		Reason:       reason,
	})
	return &Outcome{Status: model.LinkingStatusNeedsHuman, Reason: reason}, nil
}

func (r *Resolver) setNeedsHuman(ctx context.Context, t *model.Transcript) error {
	err := r.store.SetTranscriptStatus(ctx, t.ID, model.LinkingStatusNeedsHuman, t.Version)
	if eris.Is(err, store.ErrVersionConflict) {
		current, rerr := r.store.GetTranscript(ctx, t.ID)
		if rerr != nil {
			return eris.Wrap(rerr, "resolver: reload after conflict")
		}
		if current.LinkingStatus.Linked() {
			// A concurrent attempt won with a link; leave it alone.
			return nil
		}
		if current.LinkingStatus == model.LinkingStatusNeedsHuman {
			t.Version = current.Version
			return nil
		}
		return eris.Wrap(err, "resolver: set status")
	}
	if err != nil {
		return eris.Wrap(err, "resolver: set status")
	}
	t.Version++
	return nil
}

func (r *Resolver) recordAttempt(ctx context.Context, transcriptID string, stage model.AttemptStage, outcome model.AttemptOutcome, confidence *float64, clientID, reason string) error {
	a := &model.ResolutionAttempt{
		TranscriptID: transcriptID,
		Stage:        stage,
		Outcome:      outcome,
		Confidence:   confidence,
		ClientID:     clientID,
		Reason:       reason,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.AppendAttempt(ctx, a); err != nil {
		return eris.Wrap(err, "resolver: append attempt")
	}
	monitoring.ResolutionRecorded(string(stage), string(outcome))
	return nil
}

func (r *Resolver) publish(ctx context.Context, key string, data any) {
	if err := r.publisher.Publish(ctx, key, events.Envelope{Data: data}); err != nil {
		zap.L().Warn("resolver: event publish failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
