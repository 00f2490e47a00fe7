package escalation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/resolver"
	"github.com/sells-group/client-linker/internal/store"
	"github.com/sells-group/client-linker/pkg/telegram"
)

// fakeBot records outbound messages.
type fakeBot struct {
	sent []string
	err  error
}

func (b *fakeBot) SendMessage(ctx context.Context, chatID int64, text string, opts ...telegram.SendOption) (*telegram.Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.sent = append(b.sent, text)
	return &telegram.Message{MessageID: int64(len(b.sent)), Chat: telegram.Chat{ID: chatID}}, nil
}

func (b *fakeBot) last() string {
	if len(b.sent) == 0 {
		return ""
	}
	return b.sent[len(b.sent)-1]
}

type fixture struct {
	store   *store.SQLiteStore
	bot     *fakeBot
	channel *Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "linker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	bot := &fakeBot{}
	ch := NewChannel(bot, 42, st, "https://app.example.com", 500, "sells.group")
	res := resolver.New(st, nil, ch, nil, resolver.DefaultRules(), "sells.group")
	ch.Bind(res)
	return &fixture{store: st, bot: bot, channel: ch}
}

func (f *fixture) seedClient(t *testing.T, name, email string) *model.Client {
	t.Helper()
	c := &model.Client{OwnerID: "own-1", BusinessName: name, BusinessEmail: email}
	require.NoError(t, f.store.CreateClient(context.Background(), c))
	return c
}

func (f *fixture) seedNeedsHuman(t *testing.T, externalID string, participants []string) *model.Transcript {
	t.Helper()
	tr := &model.Transcript{
		ExternalID:   externalID,
		OwnerID:      "own-1",
		Title:        "Sync call",
		MeetingDate:  time.Now().UTC(),
		Participants: participants,
	}
	created, err := f.store.CreateTranscript(context.Background(), tr)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.store.SetTranscriptStatus(context.Background(), tr.ID, model.LinkingStatusNeedsHuman, 0))
	got, err := f.store.GetTranscript(context.Background(), tr.ID)
	require.NoError(t, err)
	return got
}

func reply(tid, text string) telegram.Update {
	return telegram.Update{
		Message: &telegram.Message{
			MessageID: 100,
			Chat:      telegram.Chat{ID: 42},
			Text:      text,
			ReplyToMessage: &telegram.Message{
				MessageID: 99,
				Text:      fmt.Sprintf("Transcript needs a human [transcript:%s]", tid),
			},
		},
	}
}

func TestHandleUpdateIgnoresNonReplies(t *testing.T) {
	f := newFixture(t)

	// Not a reply: generic help only.
	err := f.channel.HandleUpdate(context.Background(), telegram.Update{
		Message: &telegram.Message{Chat: telegram.Chat{ID: 42}, Text: "hello"},
	})
	require.NoError(t, err)
	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.last(), "Reply directly")

	// No message at all: silently ignored.
	require.NoError(t, f.channel.HandleUpdate(context.Background(), telegram.Update{}))
	assert.Len(t, f.bot.sent, 1)
}

func TestHandleUpdateUnknownTranscript(t *testing.T) {
	f := newFixture(t)

	err := f.channel.HandleUpdate(context.Background(), reply("nope", "Acme Inc"))
	require.NoError(t, err)
	assert.Contains(t, f.bot.last(), "couldn't find transcript nope")
}

func TestHandleUpdateManualHold(t *testing.T) {
	f := newFixture(t)
	f.seedClient(t, "Acme Inc", "ceo@acme.com")
	tr := f.seedNeedsHuman(t, "ext-1", nil)

	err := f.channel.HandleUpdate(context.Background(), reply(tr.ID, "manual please"))
	require.NoError(t, err)
	assert.Contains(t, f.bot.last(), "held for manual handling")
	assert.Contains(t, f.bot.last(), "https://app.example.com/transcripts/"+tr.ID)

	attempts, err := f.store.ListAttempts(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.StageTelegram, attempts[0].Stage)
	assert.Contains(t, attempts[0].Reason, "manual handling")

	got, err := f.store.GetTranscript(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkingStatusNeedsHuman, got.LinkingStatus)
}

// countingStore records client-list lookups.
type countingStore struct {
	store.Store
	listCalls int
}

func (s *countingStore) ListClientsByOwner(ctx context.Context, ownerID string) ([]model.Client, error) {
	s.listCalls++
	return s.Store.ListClientsByOwner(ctx, ownerID)
}

func TestHandleUpdateManualHoldSkipsClientLookup(t *testing.T) {
	f := newFixture(t)
	f.seedClient(t, "Acme Inc", "ceo@acme.com")
	tr := f.seedNeedsHuman(t, "ext-1", nil)

	st := &countingStore{Store: f.store}
	bot := &fakeBot{}
	ch := NewChannel(bot, 42, st, "", 500, "sells.group")
	ch.Bind(resolver.New(st, nil, ch, nil, resolver.DefaultRules(), "sells.group"))

	require.NoError(t, ch.HandleUpdate(context.Background(), reply(tr.ID, "manual")))
	assert.Contains(t, bot.last(), "held for manual handling")
	assert.Zero(t, st.listCalls, "an explicit hold never fetches candidates")
}

func TestHandleUpdateNameMatchLinks(t *testing.T) {
	f := newFixture(t)
	c := f.seedClient(t, "Acme Inc", "ceo@acme.com")
	f.seedClient(t, "Acme International", "info@acmeintl.com")
	tr := f.seedNeedsHuman(t, "ext-1", []string{"ceo@acme.com"})

	err := f.channel.HandleUpdate(context.Background(), reply(tr.ID, "Acme Inc"))
	require.NoError(t, err)

	got, err := f.store.GetTranscript(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkingStatusManuallyLinked, got.LinkingStatus)
	assert.Equal(t, c.ID, got.ClientID)

	attempts, err := f.store.ListAttempts(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.OutcomeSuccess, attempts[0].Outcome)
	assert.Equal(t, got.LinkingStatus, model.StatusFromAttempt(attempts[0]))

	require.NotEmpty(t, f.bot.sent)
	assert.Contains(t, f.bot.sent[0], "Linked transcript")
}

func TestHandleUpdateEmailLearnFlow(t *testing.T) {
	f := newFixture(t)
	c := f.seedClient(t, "Acme Inc", "ceo@acme.com")
	// Participant email is new to the client record.
	tr := f.seedNeedsHuman(t, "ext-1", []string{"cfo@acme.com"})

	require.NoError(t, f.channel.HandleUpdate(context.Background(), reply(tr.ID, "Acme Inc")))
	require.Len(t, f.bot.sent, 2)
	assert.Contains(t, f.bot.sent[1], "Save cfo@acme.com")
	assert.Contains(t, f.bot.sent[1], "[transcript:"+tr.ID+"]")

	// Confirm the offer.
	require.NoError(t, f.channel.HandleUpdate(context.Background(), reply(tr.ID, "yes")))
	assert.Contains(t, f.bot.last(), "Saved cfo@acme.com")

	got, err := f.store.GetClient(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, got.HasEmail("cfo@acme.com"))
}

func TestHandleUpdateEmailLearnSkip(t *testing.T) {
	f := newFixture(t)
	c := f.seedClient(t, "Acme Inc", "ceo@acme.com")
	tr := f.seedNeedsHuman(t, "ext-1", []string{"cfo@acme.com"})

	require.NoError(t, f.channel.HandleUpdate(context.Background(), reply(tr.ID, "Acme Inc")))
	require.NoError(t, f.channel.HandleUpdate(context.Background(), reply(tr.ID, "skip")))
	assert.Contains(t, f.bot.last(), "not saving")

	got, err := f.store.GetClient(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, got.HasEmail("cfo@acme.com"))
}

func TestHandleUpdateAmbiguousMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedClient(t, "Acme Inc", "a@acme.com")
	f.seedClient(t, "ACME, Inc.", "b@acme.com")
	tr := f.seedNeedsHuman(t, "ext-1", nil)

	err := f.channel.HandleUpdate(context.Background(), reply(tr.ID, "Acme Inc"))
	require.NoError(t, err)
	assert.Contains(t, f.bot.last(), "multiple possible clients")
	assert.Contains(t, f.bot.last(), "a@acme.com")
	assert.Contains(t, f.bot.last(), "b@acme.com")

	got, err := f.store.GetTranscript(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkingStatusNeedsHuman, got.LinkingStatus)

	attempts, err := f.store.ListAttempts(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts, "ambiguity mutates no state")
}

func TestHandleUpdateUnrecognizedReply(t *testing.T) {
	f := newFixture(t)
	f.seedClient(t, "Acme Inc", "ceo@acme.com")
	tr := f.seedNeedsHuman(t, "ext-1", nil)

	err := f.channel.HandleUpdate(context.Background(), reply(tr.ID, "Globex Corporation"))
	require.NoError(t, err)
	assert.Contains(t, f.bot.last(), `couldn't match "Globex Corporation"`)

	attempts, err := f.store.ListAttempts(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.OutcomeNoMatch, attempts[0].Outcome)
	assert.Contains(t, attempts[0].Reason, "Globex Corporation")
}

func TestHandleUpdateAlreadyLinked(t *testing.T) {
	f := newFixture(t)
	c := f.seedClient(t, "Acme Inc", "ceo@acme.com")
	tr := f.seedNeedsHuman(t, "ext-1", nil)
	require.NoError(t, f.store.LinkTranscript(context.Background(), tr.ID, c.ID, model.LinkingStatusManuallyLinked, tr.Version))

	err := f.channel.HandleUpdate(context.Background(), reply(tr.ID, "Acme Inc"))
	require.NoError(t, err)
	assert.Contains(t, f.bot.last(), "already linked")

	attempts, err := f.store.ListAttempts(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestNotifyNeedsHuman(t *testing.T) {
	f := newFixture(t)
	tr := f.seedNeedsHuman(t, "ext-1", []string{"x@y.com"})

	require.NoError(t, f.channel.NotifyNeedsHuman(context.Background(), tr, "no candidates"))
	require.Len(t, f.bot.sent, 1)
	assert.Contains(t, f.bot.sent[0], "[transcript:"+tr.ID+"]")
	assert.Contains(t, f.bot.sent[0], "no candidates")
}

func TestRenotifyStaleOnly(t *testing.T) {
	f := newFixture(t)
	f.seedNeedsHuman(t, "ext-1", nil)

	// Freshly updated: nothing is stale yet.
	require.NoError(t, f.channel.Renotify(context.Background(), time.Hour))
	assert.Empty(t, f.bot.sent)

	// Everything updated before now counts as stale at zero threshold.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.channel.Renotify(context.Background(), 0))
	require.Len(t, f.bot.sent, 1)
	assert.True(t, strings.Contains(f.bot.sent[0], "still awaiting a reply"))
}
