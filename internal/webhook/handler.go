package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/monitoring"
	"github.com/sells-group/client-linker/pkg/recorder"
)

// signatureHeader carries the provider's HMAC signature.
const signatureHeader = "X-Recorder-Signature"

// transcriptStore is the store surface the handler needs.
type transcriptStore interface {
	GetWebhookSecret(ctx context.Context, ownerID string) (string, error)
	CreateTranscript(ctx context.Context, t *model.Transcript) (bool, error)
}

// Trigger starts resolution for a stored transcript. It runs after the HTTP
// response; resolution failures are ledger entries, never webhook errors.
type Trigger func(ctx context.Context, transcriptID string)

// Handler accepts transcript-completed events from the external recorder.
type Handler struct {
	store    transcriptStore
	recorder recorder.Client
	trigger  Trigger
}

// NewHandler creates a webhook handler.
func NewHandler(st transcriptStore, rec recorder.Client, trigger Trigger) *Handler {
	return &Handler{store: st, recorder: rec, trigger: trigger}
}

// event is the minimal webhook body; the transcript itself is fetched from
// the recorder API separately.
type event struct {
	EventType string `json:"event_type"`
	MeetingID string `json:"meeting_id"`
}

// ServeHTTP handles POST /webhook/recorder?owner=<id>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner")
	if ownerID == "" {
		monitoring.WebhookRejected("missing_owner")
		http.Error(w, `{"error":"owner is required"}`, http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		monitoring.WebhookRejected("body_read")
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}

	secret, err := h.store.GetWebhookSecret(r.Context(), ownerID)
	if err != nil {
		zap.L().Error("webhook: load secret", zap.String("owner", ownerID), zap.Error(err))
		http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
		return
	}
	// Accounts that never configured a secret skip verification — the
	// migration-compatibility allowance. Once a secret exists the check
	// is mandatory and fails closed.
	if secret != "" && !VerifySignature(body, r.Header.Get(signatureHeader), secret) {
		monitoring.WebhookRejected("bad_signature")
		zap.L().Warn("webhook: signature rejected", zap.String("owner", ownerID))
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var ev event
	if err := json.Unmarshal(body, &ev); err != nil || ev.EventType == "" || ev.MeetingID == "" {
		monitoring.WebhookRejected("malformed_event")
		http.Error(w, `{"error":"event_type and meeting_id are required"}`, http.StatusBadRequest)
		return
	}
	if ev.EventType != "transcript.completed" {
		// Other event types are acknowledged and ignored.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	transcript, err := h.ingest(r.Context(), ownerID, ev.MeetingID)
	if err != nil {
		zap.L().Error("webhook: ingest failed",
			zap.String("owner", ownerID),
			zap.String("meeting_id", ev.MeetingID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
		return
	}

	if h.trigger != nil {
		go h.trigger(context.WithoutCancel(r.Context()), transcript.ID)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "accepted",
		"transcript_id": transcript.ID,
	})
}

// ingest fetches the full transcript from the recorder and stores it.
// Duplicate deliveries return the existing record.
func (h *Handler) ingest(ctx context.Context, ownerID, meetingID string) (*model.Transcript, error) {
	rec, err := h.recorder.GetTranscript(ctx, meetingID)
	if err != nil {
		return nil, eris.Wrapf(err, "webhook: fetch transcript %s", meetingID)
	}

	t := &model.Transcript{
		ExternalID:   meetingID,
		OwnerID:      ownerID,
		Title:        rec.Title,
		MeetingDate:  rec.Date,
		DurationSecs: rec.DurationSecs,
		Participants: rec.Participants,
		Body:         rec.Body,
	}
	created, err := h.store.CreateTranscript(ctx, t)
	if err != nil {
		return nil, eris.Wrap(err, "webhook: store transcript")
	}
	if !created {
		zap.L().Info("webhook: duplicate delivery",
			zap.String("meeting_id", meetingID),
			zap.String("transcript_id", t.ID),
		)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
