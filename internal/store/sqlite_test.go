package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/client-linker/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "linker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedClient(t *testing.T, s *SQLiteStore, c model.Client) model.Client {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO clients (id, owner_id, business_name, business_email, extra_emails, contact_first, contact_last, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.BusinessName, c.BusinessEmail, `[]`, c.ContactFirst, c.ContactLast, string(model.ClientStatusActive))
	require.NoError(t, err)
	return c
}

func seedTranscript(t *testing.T, s *SQLiteStore, ownerID, externalID string) *model.Transcript {
	t.Helper()
	tr := &model.Transcript{
		ExternalID:   externalID,
		OwnerID:      ownerID,
		Title:        "Weekly sync",
		MeetingDate:  time.Now().UTC(),
		Participants: []string{"ceo@acme.com"},
		Body:         "hello",
	}
	created, err := s.CreateTranscript(context.Background(), tr)
	require.NoError(t, err)
	require.True(t, created)
	return tr
}

func TestSQLite_CreateTranscript_IdempotentOnExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := seedTranscript(t, s, "owner-1", "ext-123")

	dup := &model.Transcript{ExternalID: "ext-123", OwnerID: "owner-1", MeetingDate: time.Now()}
	created, err := s.CreateTranscript(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)

	// Same external id under another owner is a distinct transcript.
	other := &model.Transcript{ExternalID: "ext-123", OwnerID: "owner-2", MeetingDate: time.Now()}
	created, err = s.CreateTranscript(ctx, other)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSQLite_LinkTranscript_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr := seedTranscript(t, s, "owner-1", "ext-1")

	require.NoError(t, s.LinkTranscript(ctx, tr.ID, "client-1", model.LinkingStatusAILinked, 0))

	// A second writer holding the stale version loses.
	err := s.LinkTranscript(ctx, tr.ID, "client-2", model.LinkingStatusManuallyLinked, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := s.GetTranscript(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, model.LinkingStatusAILinked, got.LinkingStatus)
	assert.Equal(t, 1, got.Version)
	assert.NotNil(t, got.LastAttemptAt)
}

func TestSQLite_LinkTranscript_RejectsNonLinkedStatus(t *testing.T) {
	s := newTestStore(t)
	tr := seedTranscript(t, s, "owner-1", "ext-1")
	err := s.LinkTranscript(context.Background(), tr.ID, "client-1", model.LinkingStatusNeedsHuman, 0)
	require.Error(t, err)
}

func TestSQLite_SetStatusAndUnlink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr := seedTranscript(t, s, "owner-1", "ext-1")

	require.NoError(t, s.SetTranscriptStatus(ctx, tr.ID, model.LinkingStatusNeedsHuman, 0))
	got, err := s.GetTranscript(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkingStatusNeedsHuman, got.LinkingStatus)
	assert.Empty(t, got.ClientID)

	require.NoError(t, s.LinkTranscript(ctx, tr.ID, "client-1", model.LinkingStatusManuallyLinked, got.Version))
	got, err = s.GetTranscript(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, "client-1", got.ClientID)

	require.NoError(t, s.UnlinkTranscript(ctx, tr.ID, got.Version))
	got, err = s.GetTranscript(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkingStatusUnlinked, got.LinkingStatus)
	assert.Empty(t, got.ClientID)
}

func TestSQLite_Ledger_AppendAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tr := seedTranscript(t, s, "owner-1", "ext-1")

	base := time.Now().UTC().Truncate(time.Second)
	conf := 0.82
	attempts := []model.ResolutionAttempt{
		{TranscriptID: tr.ID, Stage: model.StageAuto, Outcome: model.OutcomeNoMatch, Reason: "no participant email matched", CreatedAt: base},
		{TranscriptID: tr.ID, Stage: model.StageAI, Outcome: model.OutcomeNoMatch, Reason: "confidence below threshold", Confidence: &conf, CreatedAt: base.Add(time.Second)},
		{TranscriptID: tr.ID, Stage: model.StageTelegram, Outcome: model.OutcomeSuccess, ClientID: "client-1", Reason: "matched business email", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range attempts {
		require.NoError(t, s.AppendAttempt(ctx, &attempts[i]))
	}

	got, err := s.ListAttempts(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, model.StageAuto, got[0].Stage)
	assert.Equal(t, model.StageAI, got[1].Stage)
	require.NotNil(t, got[1].Confidence)
	assert.InDelta(t, 0.82, *got[1].Confidence, 1e-9)
	assert.Equal(t, model.StageTelegram, got[2].Stage)
	assert.Equal(t, "client-1", got[2].ClientID)

	// Current status must be derivable from the latest entry.
	assert.Equal(t, model.LinkingStatusManuallyLinked, model.StatusFromAttempt(got[2]))
}

func TestSQLite_AddClientEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedClient(t, s, model.Client{ID: "client-1", OwnerID: "owner-1", BusinessName: "Acme Inc", BusinessEmail: "ceo@acme.com"})

	require.NoError(t, s.AddClientEmail(ctx, "client-1", " NEW@Acme.com "))
	c, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new@acme.com"}, c.ExtraEmails)

	// Duplicate append is a no-op.
	require.NoError(t, s.AddClientEmail(ctx, "client-1", "new@acme.com"))
	c, err = s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new@acme.com"}, c.ExtraEmails)

	assert.ErrorIs(t, s.AddClientEmail(ctx, "missing", "x@y.com"), ErrNotFound)
}

func TestSQLite_GetWebhookSecret_NeverConfigured(t *testing.T) {
	s := newTestStore(t)
	secret, err := s.GetWebhookSecret(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, secret)

	_, err = s.db.Exec(`INSERT INTO webhook_secrets (owner_id, secret) VALUES (?, ?)`, "owner-1", "s3cret")
	require.NoError(t, err)

	secret, err = s.GetWebhookSecret(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)
}

func TestSQLite_ListTranscripts_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedTranscript(t, s, "owner-1", "ext-a")
	seedTranscript(t, s, "owner-1", "ext-b")
	seedTranscript(t, s, "owner-2", "ext-c")

	require.NoError(t, s.SetTranscriptStatus(ctx, a.ID, model.LinkingStatusNeedsHuman, 0))

	all, err := s.ListTranscripts(ctx, TranscriptFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.ListTranscripts(ctx, TranscriptFilter{OwnerID: "owner-1", Status: model.LinkingStatusNeedsHuman})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	limited, err := s.ListTranscripts(ctx, TranscriptFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "bolt", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestSQLite_CreateClient_NormalizesEmails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &model.Client{
		OwnerID:       "owner-1",
		BusinessName:  "Acme Inc",
		BusinessEmail: " CEO@Acme.com ",
		ExtraEmails:   []string{"Ops@Acme.com", "ceo@acme.com", "ops@acme.com"},
	}
	require.NoError(t, s.CreateClient(ctx, c))
	require.NotEmpty(t, c.ID)

	got, err := s.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "ceo@acme.com", got.BusinessEmail)
	assert.Equal(t, []string{"ops@acme.com"}, got.ExtraEmails)
	assert.Equal(t, model.ClientStatusActive, got.Status)
}

func TestSQLite_SetWebhookSecret_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetWebhookSecret(ctx, "owner-1", "first"))
	require.NoError(t, s.SetWebhookSecret(ctx, "owner-1", "second"))

	secret, err := s.GetWebhookSecret(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "second", secret)
}
